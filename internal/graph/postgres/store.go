package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/encounters/internal/graph"
)

// querier abstracts *sql.DB and *sql.Tx so the same store methods run
// inside and outside transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ graph.Store = (*Store)(nil)

// Store implements graph.Store on PostgreSQL.
type Store struct {
	pool *Pool
	q    querier
	inTx bool
}

// NewStore creates a store on top of an initialized pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool, q: pool.db}
}

// WithTx runs fn within a database transaction. Nested calls reuse the
// outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx graph.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txStore := &Store{pool: s.pool, q: tx, inTx: true}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %s)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// --- People ---

const personColumns = `id, name, notes, relationship, company, job_title, context_tag,
	favorite, is_me, contact_id, profile_embedding_id, created_at, last_seen_at`

func (s *Store) scanPerson(ctx context.Context, row *sql.Row) (*graph.Person, error) {
	var p graph.Person
	var profile uuid.NullUUID
	err := row.Scan(&p.ID, &p.Name, &p.Notes, &p.Relationship, &p.Company, &p.JobTitle,
		&p.ContextTag, &p.Favorite, &p.IsMe, &p.ContactID, &profile, &p.CreatedAt, &p.LastSeenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, graph.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan person: %w", err)
	}
	if profile.Valid {
		id := profile.UUID
		p.ProfileEmbeddingID = &id
	}
	p.TagIDs, err = s.tagIDs(ctx, "person_tags", "person_id", p.ID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) tagIDs(ctx context.Context, table, column string, id uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.q.QueryContext(ctx,
		fmt.Sprintf("SELECT tag_id FROM %s WHERE %s = $1", table, column), id)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var tagID uuid.UUID
		if err := rows.Scan(&tagID); err != nil {
			return nil, fmt.Errorf("scan tag id: %w", err)
		}
		ids = append(ids, tagID)
	}
	return ids, rows.Err()
}

func (s *Store) GetPerson(ctx context.Context, id uuid.UUID) (*graph.Person, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+personColumns+" FROM people WHERE id = $1", id)
	return s.scanPerson(ctx, row)
}

func (s *Store) ListPeople(ctx context.Context) ([]*graph.Person, error) {
	return s.queryPeople(ctx, "SELECT "+personColumns+" FROM people ORDER BY name")
}

func (s *Store) FindPeopleByName(ctx context.Context, name string) ([]*graph.Person, error) {
	// Matches graph.NormalizeName: lowercase, no diacritics, dashes to
	// spaces.
	return s.queryPeople(ctx,
		"SELECT "+personColumns+` FROM people
		 WHERE TRIM(LOWER(REPLACE(unaccent(name), '-', ' '))) = $1 ORDER BY name`,
		graph.NormalizeName(name))
}

func (s *Store) queryPeople(ctx context.Context, query string, args ...any) ([]*graph.Person, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query people: %w", err)
	}
	defer rows.Close()

	var people []*graph.Person
	for rows.Next() {
		var p graph.Person
		var profile uuid.NullUUID
		err := rows.Scan(&p.ID, &p.Name, &p.Notes, &p.Relationship, &p.Company, &p.JobTitle,
			&p.ContextTag, &p.Favorite, &p.IsMe, &p.ContactID, &profile, &p.CreatedAt, &p.LastSeenAt)
		if err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		if profile.Valid {
			id := profile.UUID
			p.ProfileEmbeddingID = &id
		}
		people = append(people, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate people: %w", err)
	}

	for _, p := range people {
		p.TagIDs, err = s.tagIDs(ctx, "person_tags", "person_id", p.ID)
		if err != nil {
			return nil, err
		}
	}
	return people, nil
}

func (s *Store) SavePerson(ctx context.Context, p *graph.Person) error {
	var profile any
	if p.ProfileEmbeddingID != nil {
		profile = *p.ProfileEmbeddingID
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO people (id, name, notes, relationship, company, job_title, context_tag,
			favorite, is_me, contact_id, profile_embedding_id, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, notes = EXCLUDED.notes,
			relationship = EXCLUDED.relationship, company = EXCLUDED.company,
			job_title = EXCLUDED.job_title, context_tag = EXCLUDED.context_tag,
			favorite = EXCLUDED.favorite, is_me = EXCLUDED.is_me,
			contact_id = EXCLUDED.contact_id,
			profile_embedding_id = EXCLUDED.profile_embedding_id,
			last_seen_at = EXCLUDED.last_seen_at`,
		p.ID, p.Name, p.Notes, p.Relationship, p.Company, p.JobTitle, p.ContextTag,
		p.Favorite, p.IsMe, p.ContactID, profile, p.CreatedAt, p.LastSeenAt)
	if err != nil {
		return fmt.Errorf("save person: %w", err)
	}
	return s.replaceTags(ctx, "person_tags", "person_id", p.ID, p.TagIDs)
}

func (s *Store) replaceTags(ctx context.Context, table, column string, id uuid.UUID, tagIDs []uuid.UUID) error {
	if _, err := s.q.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s = $1", table, column), id); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	for _, tagID := range tagIDs {
		if _, err := s.q.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (%s, tag_id) VALUES ($1, $2)", table, column),
			id, tagID); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

func (s *Store) DeletePerson(ctx context.Context, id uuid.UUID) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM people WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete person: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return graph.ErrNotFound
	}
	return nil
}

// --- Encounters ---

func (s *Store) GetEncounter(ctx context.Context, id uuid.UUID) (*graph.Encounter, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, date, occasion, location, notes, lat, lng, favorite, thumbnail
		FROM encounters WHERE id = $1`, id)

	var e graph.Encounter
	var lat, lng sql.NullFloat64
	err := row.Scan(&e.ID, &e.Date, &e.Occasion, &e.Location, &e.Notes, &lat, &lng,
		&e.Favorite, &e.Thumbnail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, graph.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan encounter: %w", err)
	}
	if lat.Valid {
		e.Lat = &lat.Float64
	}
	if lng.Valid {
		e.Lng = &lng.Float64
	}

	if e.Photos, err = s.loadPhotos(ctx, e.ID); err != nil {
		return nil, err
	}
	if e.TagIDs, err = s.tagIDs(ctx, "encounter_tags", "encounter_id", e.ID); err != nil {
		return nil, err
	}
	e.PersonIDs = []uuid.UUID{}
	e.SyncPeople()
	return &e, nil
}

func (s *Store) loadPhotos(ctx context.Context, encounterID uuid.UUID) ([]*graph.EncounterPhoto, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, encounter_id, image, taken_at, lat, lng, asset_id
		FROM encounter_photos WHERE encounter_id = $1 ORDER BY position, taken_at`,
		encounterID)
	if err != nil {
		return nil, fmt.Errorf("query photos: %w", err)
	}
	defer rows.Close()

	photos := []*graph.EncounterPhoto{}
	for rows.Next() {
		var p graph.EncounterPhoto
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&p.ID, &p.EncounterID, &p.Image, &p.TakenAt, &lat, &lng, &p.AssetID); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		if lat.Valid {
			p.Lat = &lat.Float64
		}
		if lng.Valid {
			p.Lng = &lng.Float64
		}
		p.Boxes = []*graph.FaceBoundingBox{}
		photos = append(photos, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photos: %w", err)
	}

	for _, p := range photos {
		if err := s.loadBoxes(ctx, p); err != nil {
			return nil, err
		}
	}
	return photos, nil
}

func (s *Store) loadBoxes(ctx context.Context, photo *graph.EncounterPhoto) error {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, photo_id, x, y, w, h, person_id, person_name, confidence, auto_accepted
		FROM face_boxes WHERE photo_id = $1 ORDER BY position`, photo.ID)
	if err != nil {
		return fmt.Errorf("query boxes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b graph.FaceBoundingBox
		var personID uuid.NullUUID
		var confidence sql.NullFloat64
		err := rows.Scan(&b.ID, &b.PhotoID, &b.Rect.X, &b.Rect.Y, &b.Rect.W, &b.Rect.H,
			&personID, &b.PersonName, &confidence, &b.AutoAccepted)
		if err != nil {
			return fmt.Errorf("scan box: %w", err)
		}
		if personID.Valid {
			id := personID.UUID
			b.PersonID = &id
		}
		if confidence.Valid {
			b.Confidence = &confidence.Float64
		}
		photo.Boxes = append(photo.Boxes, &b)
	}
	return rows.Err()
}

func (s *Store) ListEncounters(ctx context.Context) ([]*graph.Encounter, error) {
	return s.loadEncountersByQuery(ctx,
		"SELECT id FROM encounters ORDER BY date DESC")
}

func (s *Store) ListEncountersWithPerson(ctx context.Context, personID uuid.UUID) ([]*graph.Encounter, error) {
	return s.loadEncountersByQuery(ctx, `
		SELECT DISTINCT ep.encounter_id
		FROM face_boxes fb
		JOIN encounter_photos ep ON ep.id = fb.photo_id
		WHERE fb.person_id = $1`, personID)
}

func (s *Store) loadEncountersByQuery(ctx context.Context, query string, args ...any) ([]*graph.Encounter, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query encounters: %w", err)
	}

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan encounter id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate encounter ids: %w", err)
	}
	rows.Close()

	encounters := make([]*graph.Encounter, 0, len(ids))
	for _, id := range ids {
		e, err := s.GetEncounter(ctx, id)
		if err != nil {
			return nil, err
		}
		encounters = append(encounters, e)
	}
	return encounters, nil
}

// SaveEncounter upserts the encounter deep: photos and boxes are replaced
// wholesale, which keeps ordering and removals simple. Entity ids are
// stable so references survive the rewrite.
func (s *Store) SaveEncounter(ctx context.Context, e *graph.Encounter) error {
	return s.WithTx(ctx, func(tx graph.Store) error {
		return tx.(*Store).saveEncounterTx(ctx, e)
	})
}

func (s *Store) saveEncounterTx(ctx context.Context, e *graph.Encounter) error {
	var lat, lng any
	if e.Lat != nil {
		lat = *e.Lat
	}
	if e.Lng != nil {
		lng = *e.Lng
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO encounters (id, date, occasion, location, notes, lat, lng, favorite, thumbnail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			date = EXCLUDED.date, occasion = EXCLUDED.occasion,
			location = EXCLUDED.location, notes = EXCLUDED.notes,
			lat = EXCLUDED.lat, lng = EXCLUDED.lng,
			favorite = EXCLUDED.favorite, thumbnail = EXCLUDED.thumbnail`,
		e.ID, e.Date, e.Occasion, e.Location, e.Notes, lat, lng, e.Favorite, e.Thumbnail)
	if err != nil {
		return fmt.Errorf("save encounter: %w", err)
	}

	if _, err := s.q.ExecContext(ctx,
		"DELETE FROM encounter_photos WHERE encounter_id = $1", e.ID); err != nil {
		return fmt.Errorf("clear photos: %w", err)
	}

	for pi, photo := range e.Photos {
		var plat, plng any
		if photo.Lat != nil {
			plat = *photo.Lat
		}
		if photo.Lng != nil {
			plng = *photo.Lng
		}
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO encounter_photos (id, encounter_id, image, taken_at, lat, lng, asset_id, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			photo.ID, e.ID, photo.Image, photo.TakenAt, plat, plng, photo.AssetID, pi)
		if err != nil {
			return fmt.Errorf("save photo: %w", err)
		}

		for bi, box := range photo.Boxes {
			var personID, confidence any
			if box.PersonID != nil {
				personID = *box.PersonID
			}
			if box.Confidence != nil {
				confidence = *box.Confidence
			}
			_, err := s.q.ExecContext(ctx, `
				INSERT INTO face_boxes (id, photo_id, x, y, w, h, person_id, person_name, confidence, auto_accepted, position)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				box.ID, photo.ID, box.Rect.X, box.Rect.Y, box.Rect.W, box.Rect.H,
				personID, box.PersonName, confidence, box.AutoAccepted, bi)
			if err != nil {
				return fmt.Errorf("save box: %w", err)
			}
		}
	}

	return s.replaceTags(ctx, "encounter_tags", "encounter_id", e.ID, e.TagIDs)
}

func (s *Store) DeleteEncounter(ctx context.Context, id uuid.UUID) error {
	return s.WithTx(ctx, func(tx graph.Store) error {
		txs := tx.(*Store)
		res, err := txs.q.ExecContext(ctx, "DELETE FROM encounters WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("delete encounter: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return graph.ErrNotFound
		}
		// Embeddings keep their person; only provenance is lost.
		if _, err := txs.q.ExecContext(ctx,
			"UPDATE face_embeddings SET encounter_id = NULL WHERE encounter_id = $1", id); err != nil {
			return fmt.Errorf("clear embedding provenance: %w", err)
		}
		return nil
	})
}

func (s *Store) ImportedAssetIDs(ctx context.Context, assetIDs []string) (map[string]bool, error) {
	imported := make(map[string]bool)
	if len(assetIDs) == 0 {
		return imported, nil
	}

	rows, err := s.q.QueryContext(ctx,
		"SELECT DISTINCT asset_id FROM encounter_photos WHERE asset_id = ANY($1)",
		pq.Array(assetIDs))
	if err != nil {
		return nil, fmt.Errorf("query imported assets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan asset id: %w", err)
		}
		imported[id] = true
	}
	return imported, rows.Err()
}

// --- Embeddings ---

const embeddingColumns = "id, person_id, embedding, crop, encounter_id, bounding_box_id, created_at"

func scanEmbedding(scan func(dest ...any) error) (*graph.FaceEmbedding, error) {
	var e graph.FaceEmbedding
	var vec pgvector.Vector
	var encID, boxID uuid.NullUUID
	err := scan(&e.ID, &e.PersonID, &vec, &e.Crop, &encID, &boxID, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, graph.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan embedding: %w", err)
	}
	e.Vector = vec.Slice()
	if encID.Valid {
		id := encID.UUID
		e.EncounterID = &id
	}
	if boxID.Valid {
		id := boxID.UUID
		e.BoundingBoxID = &id
	}
	return &e, nil
}

func (s *Store) GetEmbedding(ctx context.Context, id uuid.UUID) (*graph.FaceEmbedding, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+embeddingColumns+" FROM face_embeddings WHERE id = $1", id)
	return scanEmbedding(row.Scan)
}

func (s *Store) ListEmbeddings(ctx context.Context) ([]*graph.FaceEmbedding, error) {
	return s.queryEmbeddings(ctx,
		"SELECT "+embeddingColumns+" FROM face_embeddings ORDER BY created_at")
}

func (s *Store) ListEmbeddingsByPerson(ctx context.Context, personID uuid.UUID) ([]*graph.FaceEmbedding, error) {
	return s.queryEmbeddings(ctx,
		"SELECT "+embeddingColumns+" FROM face_embeddings WHERE person_id = $1 ORDER BY created_at",
		personID)
}

func (s *Store) queryEmbeddings(ctx context.Context, query string, args ...any) ([]*graph.FaceEmbedding, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var embeddings []*graph.FaceEmbedding
	for rows.Next() {
		e, err := scanEmbedding(rows.Scan)
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, e)
	}
	return embeddings, rows.Err()
}

func (s *Store) NearestEmbeddings(ctx context.Context, query []float32, k int) ([]*graph.FaceEmbedding, error) {
	return s.queryEmbeddings(ctx,
		"SELECT "+embeddingColumns+" FROM face_embeddings ORDER BY embedding <=> $1 LIMIT $2",
		pgvector.NewVector(query), k)
}

func (s *Store) FindEmbeddingByProvenance(ctx context.Context, boundingBoxID, encounterID uuid.UUID) (*graph.FaceEmbedding, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+embeddingColumns+` FROM face_embeddings
		 WHERE bounding_box_id = $1 AND encounter_id = $2`,
		boundingBoxID, encounterID)
	return scanEmbedding(row.Scan)
}

func (s *Store) SaveEmbedding(ctx context.Context, e *graph.FaceEmbedding) error {
	var encID, boxID any
	if e.EncounterID != nil {
		encID = *e.EncounterID
	}
	if e.BoundingBoxID != nil {
		boxID = *e.BoundingBoxID
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO face_embeddings (id, person_id, embedding, crop, encounter_id, bounding_box_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			person_id = EXCLUDED.person_id, embedding = EXCLUDED.embedding,
			crop = EXCLUDED.crop, encounter_id = EXCLUDED.encounter_id,
			bounding_box_id = EXCLUDED.bounding_box_id`,
		e.ID, e.PersonID, pgvector.NewVector(e.Vector), e.Crop, encID, boxID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("save embedding: %w", err)
	}
	return nil
}

func (s *Store) DeleteEmbedding(ctx context.Context, id uuid.UUID) error {
	return s.WithTx(ctx, func(tx graph.Store) error {
		txs := tx.(*Store)
		res, err := txs.q.ExecContext(ctx, "DELETE FROM face_embeddings WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("delete embedding: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return graph.ErrNotFound
		}
		// A profile reference must never dangle.
		if _, err := txs.q.ExecContext(ctx,
			"UPDATE people SET profile_embedding_id = NULL WHERE profile_embedding_id = $1", id); err != nil {
			return fmt.Errorf("clear profile reference: %w", err)
		}
		return nil
	})
}

// --- Tags ---

func (s *Store) GetTag(ctx context.Context, id uuid.UUID) (*graph.Tag, error) {
	var t graph.Tag
	err := s.q.QueryRowContext(ctx,
		"SELECT id, name, color FROM tags WHERE id = $1", id).
		Scan(&t.ID, &t.Name, &t.Color)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, graph.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tag: %w", err)
	}
	return &t, nil
}

func (s *Store) ListTags(ctx context.Context) ([]*graph.Tag, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT id, name, color FROM tags ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	var tags []*graph.Tag
	for rows.Next() {
		var t graph.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Color); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, &t)
	}
	return tags, rows.Err()
}

func (s *Store) SaveTag(ctx context.Context, t *graph.Tag) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO tags (id, name, color) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, color = EXCLUDED.color`,
		t.ID, t.Name, t.Color)
	if err != nil {
		return fmt.Errorf("save tag: %w", err)
	}
	return nil
}

func (s *Store) DeleteTag(ctx context.Context, id uuid.UUID) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM tags WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return graph.ErrNotFound
	}
	return nil
}
