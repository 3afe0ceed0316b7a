//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/encounters/internal/config"
	"github.com/kozaktomas/encounters/internal/graph"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

func testVector(seed int) []float32 {
	v := make([]float32, 512)
	for i := range v {
		v[i] = float32(i+seed) / 512.0
	}
	return v
}

func TestPeople(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	store := NewStore(pool)

	person := graph.NewPerson("Jiří Novák")
	person.Relationship = "colleague"
	person.Company = "Acme"

	t.Run("SaveAndGet", func(t *testing.T) {
		if err := store.SavePerson(ctx, person); err != nil {
			t.Fatalf("Failed to save person: %v", err)
		}

		got, err := store.GetPerson(ctx, person.ID)
		if err != nil {
			t.Fatalf("Failed to get person: %v", err)
		}
		if got.Name != "Jiří Novák" {
			t.Errorf("Expected name 'Jiří Novák', got '%s'", got.Name)
		}
		if got.Company != "Acme" {
			t.Errorf("Expected company 'Acme', got '%s'", got.Company)
		}
	})

	t.Run("FindByNormalizedName", func(t *testing.T) {
		found, err := store.FindPeopleByName(ctx, "jiri novak")
		if err != nil {
			t.Fatalf("Failed to find people: %v", err)
		}
		if len(found) != 1 {
			t.Fatalf("Expected 1 person, got %d", len(found))
		}
		if found[0].ID != person.ID {
			t.Error("Found the wrong person")
		}
	})

	t.Run("Tags", func(t *testing.T) {
		tag := &graph.Tag{ID: uuid.New(), Name: "work", Color: "#336699"}
		if err := store.SaveTag(ctx, tag); err != nil {
			t.Fatalf("Failed to save tag: %v", err)
		}

		person.TagIDs = []uuid.UUID{tag.ID}
		if err := store.SavePerson(ctx, person); err != nil {
			t.Fatalf("Failed to update person: %v", err)
		}

		got, err := store.GetPerson(ctx, person.ID)
		if err != nil {
			t.Fatalf("Failed to get person: %v", err)
		}
		if len(got.TagIDs) != 1 || got.TagIDs[0] != tag.ID {
			t.Errorf("Expected tag %s, got %v", tag.ID, got.TagIDs)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.GetPerson(ctx, uuid.New())
		if !errors.Is(err, graph.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		other := graph.NewPerson("Ephemeral")
		if err := store.SavePerson(ctx, other); err != nil {
			t.Fatalf("Failed to save person: %v", err)
		}
		if err := store.DeletePerson(ctx, other.ID); err != nil {
			t.Fatalf("Failed to delete person: %v", err)
		}
		if err := store.DeletePerson(ctx, other.ID); !errors.Is(err, graph.ErrNotFound) {
			t.Errorf("Expected ErrNotFound on second delete, got %v", err)
		}
	})
}

func TestEncounters(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	store := NewStore(pool)

	person := graph.NewPerson("Anna")
	if err := store.SavePerson(ctx, person); err != nil {
		t.Fatalf("Failed to save person: %v", err)
	}

	enc := graph.NewEncounter(time.Date(2026, 5, 20, 14, 0, 0, 0, time.UTC))
	enc.Occasion = "conference"
	lat, lng := 50.0755, 14.4378
	enc.Lat, enc.Lng = &lat, &lng

	photo := graph.NewEncounterPhoto(enc.ID, enc.Date)
	photo.Image = []byte("jpeg-bytes")
	photo.AssetID = "asset-001"
	box := &graph.FaceBoundingBox{
		ID:      uuid.New(),
		PhotoID: photo.ID,
	}
	box.Rect.X, box.Rect.Y, box.Rect.W, box.Rect.H = 0.1, 0.2, 0.3, 0.4
	conf := 0.91
	box.Assign(person.ID, person.Name, &conf, true)
	photo.Boxes = append(photo.Boxes, box)
	enc.Photos = append(enc.Photos, photo)
	enc.SyncPeople()

	t.Run("SaveAndGetDeep", func(t *testing.T) {
		if err := store.SaveEncounter(ctx, enc); err != nil {
			t.Fatalf("Failed to save encounter: %v", err)
		}

		got, err := store.GetEncounter(ctx, enc.ID)
		if err != nil {
			t.Fatalf("Failed to get encounter: %v", err)
		}
		if len(got.Photos) != 1 {
			t.Fatalf("Expected 1 photo, got %d", len(got.Photos))
		}
		if len(got.Photos[0].Boxes) != 1 {
			t.Fatalf("Expected 1 box, got %d", len(got.Photos[0].Boxes))
		}
		gb := got.Photos[0].Boxes[0]
		if gb.PersonID == nil || *gb.PersonID != person.ID {
			t.Error("Box lost its person label")
		}
		if !gb.AutoAccepted {
			t.Error("Box lost its auto-accepted flag")
		}
		if gb.Confidence == nil || *gb.Confidence != 0.91 {
			t.Errorf("Box lost its confidence: %v", gb.Confidence)
		}
		if len(got.PersonIDs) != 1 || got.PersonIDs[0] != person.ID {
			t.Errorf("Derived person list wrong: %v", got.PersonIDs)
		}
		if got.Lat == nil || *got.Lat != 50.0755 {
			t.Errorf("Encounter lost its coordinates: %v", got.Lat)
		}
	})

	t.Run("ListWithPerson", func(t *testing.T) {
		encs, err := store.ListEncountersWithPerson(ctx, person.ID)
		if err != nil {
			t.Fatalf("Failed to list encounters: %v", err)
		}
		if len(encs) != 1 || encs[0].ID != enc.ID {
			t.Fatalf("Expected the one encounter, got %d", len(encs))
		}

		encs, err = store.ListEncountersWithPerson(ctx, uuid.New())
		if err != nil {
			t.Fatalf("Failed to list encounters: %v", err)
		}
		if len(encs) != 0 {
			t.Errorf("Expected no encounters, got %d", len(encs))
		}
	})

	t.Run("ImportedAssetIDs", func(t *testing.T) {
		imported, err := store.ImportedAssetIDs(ctx, []string{"asset-001", "asset-999"})
		if err != nil {
			t.Fatalf("Failed to query imported assets: %v", err)
		}
		if !imported["asset-001"] {
			t.Error("Expected asset-001 to be imported")
		}
		if imported["asset-999"] {
			t.Error("Did not expect asset-999 to be imported")
		}
	})

	t.Run("ReplaceOnResave", func(t *testing.T) {
		enc.Photos[0].Boxes[0].ClearLabel()
		enc.SyncPeople()
		if err := store.SaveEncounter(ctx, enc); err != nil {
			t.Fatalf("Failed to resave encounter: %v", err)
		}

		got, err := store.GetEncounter(ctx, enc.ID)
		if err != nil {
			t.Fatalf("Failed to get encounter: %v", err)
		}
		if got.Photos[0].Boxes[0].PersonID != nil {
			t.Error("Cleared label survived resave")
		}
		if len(got.PersonIDs) != 0 {
			t.Errorf("Expected no people, got %v", got.PersonIDs)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := store.DeleteEncounter(ctx, enc.ID); err != nil {
			t.Fatalf("Failed to delete encounter: %v", err)
		}
		if _, err := store.GetEncounter(ctx, enc.ID); !errors.Is(err, graph.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}

func TestEmbeddings(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	store := NewStore(pool)

	person := graph.NewPerson("Marta")
	if err := store.SavePerson(ctx, person); err != nil {
		t.Fatalf("Failed to save person: %v", err)
	}

	emb := graph.NewFaceEmbedding(person.ID, testVector(0), []byte("crop"))

	t.Run("SaveAndGet", func(t *testing.T) {
		if err := store.SaveEmbedding(ctx, emb); err != nil {
			t.Fatalf("Failed to save embedding: %v", err)
		}

		got, err := store.GetEmbedding(ctx, emb.ID)
		if err != nil {
			t.Fatalf("Failed to get embedding: %v", err)
		}
		if len(got.Vector) != 512 {
			t.Fatalf("Expected 512 dimensions, got %d", len(got.Vector))
		}
		if got.PersonID != person.ID {
			t.Error("Embedding lost its person")
		}
		if string(got.Crop) != "crop" {
			t.Error("Embedding lost its crop")
		}
	})

	t.Run("ListByPerson", func(t *testing.T) {
		second := graph.NewFaceEmbedding(person.ID, testVector(7), nil)
		if err := store.SaveEmbedding(ctx, second); err != nil {
			t.Fatalf("Failed to save embedding: %v", err)
		}

		embs, err := store.ListEmbeddingsByPerson(ctx, person.ID)
		if err != nil {
			t.Fatalf("Failed to list embeddings: %v", err)
		}
		if len(embs) != 2 {
			t.Errorf("Expected 2 embeddings, got %d", len(embs))
		}
	})

	t.Run("Nearest", func(t *testing.T) {
		got, err := store.NearestEmbeddings(ctx, testVector(0), 1)
		if err != nil {
			t.Fatalf("Failed to query nearest embeddings: %v", err)
		}
		if len(got) != 1 || got[0].ID != emb.ID {
			t.Error("Expected the matching sample to rank first")
		}
	})

	t.Run("DeleteClearsProfileReference", func(t *testing.T) {
		id := emb.ID
		person.ProfileEmbeddingID = &id
		if err := store.SavePerson(ctx, person); err != nil {
			t.Fatalf("Failed to set profile embedding: %v", err)
		}

		if err := store.DeleteEmbedding(ctx, emb.ID); err != nil {
			t.Fatalf("Failed to delete embedding: %v", err)
		}

		got, err := store.GetPerson(ctx, person.ID)
		if err != nil {
			t.Fatalf("Failed to get person: %v", err)
		}
		if got.ProfileEmbeddingID != nil {
			t.Error("Profile embedding reference dangles after delete")
		}
	})

	t.Run("CascadeOnPersonDelete", func(t *testing.T) {
		if err := store.DeletePerson(ctx, person.ID); err != nil {
			t.Fatalf("Failed to delete person: %v", err)
		}
		embs, err := store.ListEmbeddingsByPerson(ctx, person.ID)
		if err != nil {
			t.Fatalf("Failed to list embeddings: %v", err)
		}
		if len(embs) != 0 {
			t.Errorf("Expected embeddings to cascade, got %d", len(embs))
		}
	})
}

func TestWithTx(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	store := NewStore(pool)

	person := graph.NewPerson("Rollback Target")
	if err := store.SavePerson(ctx, person); err != nil {
		t.Fatalf("Failed to save person: %v", err)
	}

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx graph.Store) error {
		if err := tx.DeletePerson(ctx, person.ID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	if _, err := store.GetPerson(ctx, person.ID); err != nil {
		t.Errorf("Person should survive rolled-back transaction: %v", err)
	}
}

func TestMigrations(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	applied, err := pool.MigrationsApplied(context.Background())
	if err != nil {
		t.Fatalf("Failed to get applied migrations: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0001_init.sql" {
		t.Errorf("Unexpected applied migrations: %v", applied)
	}
}
