// Package legacy imports encounters from the old single-image schema
// (one row per encounter, the photo embedded as a blob, face boxes in a
// side table). It reads the legacy MariaDB once and writes normalized
// encounters with one photo each.
package legacy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/kozaktomas/encounters/internal/geometry"
	"github.com/kozaktomas/encounters/internal/graph"
)

// Pool manages a MariaDB connection pool for the legacy database.
type Pool struct {
	db *sql.DB
}

// NewPool creates a new MariaDB connection pool.
func NewPool(dsn string) (*Pool, error) {
	if dsn == "" {
		return nil, errors.New("MariaDB DSN is required")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}

	return &Pool{db: db}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// legacyRow is one encounter in the old schema.
type legacyRow struct {
	id       string
	date     time.Time
	occasion sql.NullString
	location sql.NullString
	notes    sql.NullString
	lat, lng sql.NullFloat64
	image    []byte
}

// ImportResult summarizes an import run.
type ImportResult struct {
	Encounters int
	People     int
	Faces      int
}

// Importer reads the legacy schema and writes normalized encounters.
type Importer struct {
	pool  *Pool
	store graph.Store
}

func NewImporter(pool *Pool, store graph.Store) *Importer {
	return &Importer{pool: pool, store: store}
}

// Run imports everything. Legacy people are matched to existing people by
// normalized name; unknown names get fresh Person records. Re-running is
// safe: encounters already imported (tracked by legacy id as asset id)
// are skipped.
func (im *Importer) Run(ctx context.Context) (*ImportResult, error) {
	rows, err := im.pool.db.QueryContext(ctx, `
		SELECT id, date, occasion, location, notes, lat, lng, image
		FROM encounters ORDER BY date`)
	if err != nil {
		return nil, fmt.Errorf("query legacy encounters: %w", err)
	}
	defer rows.Close()

	var legacyRows []legacyRow
	for rows.Next() {
		var r legacyRow
		if err := rows.Scan(&r.id, &r.date, &r.occasion, &r.location, &r.notes, &r.lat, &r.lng, &r.image); err != nil {
			return nil, fmt.Errorf("scan legacy encounter: %w", err)
		}
		legacyRows = append(legacyRows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate legacy encounters: %w", err)
	}

	assetIDs := make([]string, 0, len(legacyRows))
	for _, r := range legacyRows {
		assetIDs = append(assetIDs, legacyAssetID(r.id))
	}
	imported, err := im.store.ImportedAssetIDs(ctx, assetIDs)
	if err != nil {
		return nil, fmt.Errorf("query imported legacy ids: %w", err)
	}

	result := &ImportResult{}
	people := map[string]*graph.Person{}

	for _, r := range legacyRows {
		if imported[legacyAssetID(r.id)] {
			continue
		}
		faces, err := im.legacyFaces(ctx, r.id)
		if err != nil {
			return nil, fmt.Errorf("import legacy encounter %s: %w", r.id, err)
		}
		if err := im.importRow(ctx, r, faces, people, result); err != nil {
			return nil, fmt.Errorf("import legacy encounter %s: %w", r.id, err)
		}
		result.Encounters++
	}
	return result, nil
}

func (im *Importer) importRow(ctx context.Context, r legacyRow, faces []legacyFace, people map[string]*graph.Person, result *ImportResult) error {
	return im.store.WithTx(ctx, func(tx graph.Store) error {
		enc := graph.NewEncounter(r.date)
		enc.Occasion = r.occasion.String
		enc.Location = r.location.String
		enc.Notes = r.notes.String
		if r.lat.Valid {
			enc.Lat = &r.lat.Float64
		}
		if r.lng.Valid {
			enc.Lng = &r.lng.Float64
		}

		photo := graph.NewEncounterPhoto(enc.ID, r.date)
		photo.Image = r.image
		photo.Lat, photo.Lng = enc.Lat, enc.Lng
		photo.AssetID = legacyAssetID(r.id)

		for _, f := range faces {
			box := &graph.FaceBoundingBox{
				ID:      uuid.New(),
				PhotoID: photo.ID,
				Rect:    f.rect,
			}
			if f.personName != "" {
				person, err := im.resolvePerson(ctx, tx, f.personName, people, result)
				if err != nil {
					return err
				}
				box.Assign(person.ID, person.Name, nil, false)
			}
			photo.Boxes = append(photo.Boxes, box)
			result.Faces++
		}

		enc.Photos = append(enc.Photos, photo)
		enc.SyncPeople()
		if err := tx.SaveEncounter(ctx, enc); err != nil {
			return fmt.Errorf("save imported encounter: %w", err)
		}
		return nil
	})
}

type legacyFace struct {
	rect       geometry.Rect
	personName string
}

func (im *Importer) legacyFaces(ctx context.Context, encounterID string) ([]legacyFace, error) {
	rows, err := im.pool.db.QueryContext(ctx, `
		SELECT x, y, w, h, person_name
		FROM faces WHERE encounter_id = ? ORDER BY id`, encounterID)
	if err != nil {
		return nil, fmt.Errorf("query legacy faces: %w", err)
	}
	defer rows.Close()

	var faces []legacyFace
	for rows.Next() {
		var f legacyFace
		var name sql.NullString
		if err := rows.Scan(&f.rect.X, &f.rect.Y, &f.rect.W, &f.rect.H, &name); err != nil {
			return nil, fmt.Errorf("scan legacy face: %w", err)
		}
		f.personName = name.String
		faces = append(faces, f)
	}
	return faces, rows.Err()
}

// resolvePerson finds or creates the person for a legacy name, caching
// within the run so every row maps to the same record.
func (im *Importer) resolvePerson(ctx context.Context, tx graph.Store, name string, cache map[string]*graph.Person, result *ImportResult) (*graph.Person, error) {
	key := graph.NormalizeName(name)
	if p, ok := cache[key]; ok {
		return p, nil
	}

	existing, err := tx.FindPeopleByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find person by name: %w", err)
	}
	if len(existing) > 0 {
		cache[key] = existing[0]
		return existing[0], nil
	}

	person := graph.NewPerson(name)
	if err := tx.SavePerson(ctx, person); err != nil {
		return nil, fmt.Errorf("create imported person: %w", err)
	}
	cache[key] = person
	result.People++
	return person, nil
}

func legacyAssetID(id string) string {
	return "legacy:" + id
}
