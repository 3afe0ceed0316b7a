package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/kozaktomas/encounters/internal/graph"
)

func TestPeopleCreate(t *testing.T) {
	store, rec := newStore()
	h := NewPeopleHandler(store, rec)

	req := jsonRequest(t, http.MethodPost, "/api/v1/people", map[string]any{
		"name":         "Anna Dvořáková",
		"relationship": "friend",
	})
	recorder := httptest.NewRecorder()
	h.Create(recorder, req)

	assertStatusCode(t, recorder, http.StatusCreated)

	var person graph.Person
	parseJSONResponse(t, recorder, &person)
	if person.Name != "Anna Dvořáková" || person.Relationship != "friend" {
		t.Errorf("unexpected person: %+v", person)
	}
	if person.ID == uuid.Nil {
		t.Error("expected a generated id")
	}
}

func TestPeopleCreate_RequiresName(t *testing.T) {
	store, rec := newStore()
	h := NewPeopleHandler(store, rec)

	req := jsonRequest(t, http.MethodPost, "/api/v1/people", map[string]any{"name": "  "})
	recorder := httptest.NewRecorder()
	h.Create(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestPeopleList_FiltersByName(t *testing.T) {
	store, rec := newStore()
	h := NewPeopleHandler(store, rec)

	savePersonOrFail(t, store, graph.NewPerson("Jiří Novák"))
	savePersonOrFail(t, store, graph.NewPerson("Anna"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/people?name=jiri+novak", nil)
	recorder := httptest.NewRecorder()
	h.List(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var people []graph.Person
	parseJSONResponse(t, recorder, &people)
	if len(people) != 1 || people[0].Name != "Jiří Novák" {
		t.Errorf("expected the diacritics-matched person, got %+v", people)
	}
}

func TestPeopleGet_NotFound(t *testing.T) {
	store, rec := newStore()
	h := NewPeopleHandler(store, rec)

	req := withChiParams(
		httptest.NewRequest(http.MethodGet, "/api/v1/people/x", nil),
		map[string]string{"id": uuid.NewString()},
	)
	recorder := httptest.NewRecorder()
	h.Get(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestPeopleUpdate_RenameFansOut(t *testing.T) {
	store, rec := newStore()
	h := NewPeopleHandler(store, rec)

	person := graph.NewPerson("Old Name")
	savePersonOrFail(t, store, person)

	enc := graph.NewEncounter(person.CreatedAt)
	photo := graph.NewEncounterPhoto(enc.ID, enc.Date)
	box := &graph.FaceBoundingBox{ID: uuid.New(), PhotoID: photo.ID}
	box.Assign(person.ID, person.Name, nil, false)
	photo.Boxes = append(photo.Boxes, box)
	enc.Photos = append(enc.Photos, photo)
	enc.SyncPeople()
	saveEncounterOrFail(t, store, enc)

	req := withChiParams(
		jsonRequest(t, http.MethodPut, "/api/v1/people/x", map[string]any{"name": "New Name"}),
		map[string]string{"id": person.ID.String()},
	)
	recorder := httptest.NewRecorder()
	h.Update(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	updated, err := store.GetEncounter(context.Background(), enc.ID)
	if err != nil {
		t.Fatalf("get encounter: %v", err)
	}
	if got := updated.Photos[0].Boxes[0].PersonName; got != "New Name" {
		t.Errorf("expected denormalized name to follow rename, got %q", got)
	}
}

func TestPeopleMerge(t *testing.T) {
	store, rec := newStore()
	h := NewPeopleHandler(store, rec)

	primary := graph.NewPerson("Anna")
	secondary := graph.NewPerson("Anna D.")
	secondary.Company = "Initech"
	savePersonOrFail(t, store, primary)
	savePersonOrFail(t, store, secondary)

	req := withChiParams(
		jsonRequest(t, http.MethodPost, "/api/v1/people/x/merge", map[string]any{
			"secondary_ids": []string{secondary.ID.String()},
		}),
		map[string]string{"id": primary.ID.String()},
	)
	recorder := httptest.NewRecorder()
	h.Merge(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var merged graph.Person
	parseJSONResponse(t, recorder, &merged)
	if merged.Company != "Initech" {
		t.Errorf("expected merged person to inherit company, got %q", merged.Company)
	}
	if _, err := store.GetPerson(context.Background(), secondary.ID); err == nil {
		t.Error("expected secondary person to be gone")
	}
}

func TestPeopleMerge_RequiresSecondaries(t *testing.T) {
	store, rec := newStore()
	h := NewPeopleHandler(store, rec)

	primary := graph.NewPerson("Anna")
	savePersonOrFail(t, store, primary)

	req := withChiParams(
		jsonRequest(t, http.MethodPost, "/api/v1/people/x/merge", map[string]any{}),
		map[string]string{"id": primary.ID.String()},
	)
	recorder := httptest.NewRecorder()
	h.Merge(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestPeopleDelete_UnlabelsBoxes(t *testing.T) {
	store, rec := newStore()
	h := NewPeopleHandler(store, rec)

	person := graph.NewPerson("Anna")
	savePersonOrFail(t, store, person)

	enc := graph.NewEncounter(person.CreatedAt)
	photo := graph.NewEncounterPhoto(enc.ID, enc.Date)
	box := &graph.FaceBoundingBox{ID: uuid.New(), PhotoID: photo.ID}
	box.Assign(person.ID, person.Name, nil, true)
	photo.Boxes = append(photo.Boxes, box)
	enc.Photos = append(enc.Photos, photo)
	enc.SyncPeople()
	saveEncounterOrFail(t, store, enc)

	req := withChiParams(
		httptest.NewRequest(http.MethodDelete, "/api/v1/people/x", nil),
		map[string]string{"id": person.ID.String()},
	)
	recorder := httptest.NewRecorder()
	h.Delete(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	updated, err := store.GetEncounter(context.Background(), enc.ID)
	if err != nil {
		t.Fatalf("get encounter: %v", err)
	}
	if updated.Photos[0].Boxes[0].PersonID != nil {
		t.Error("expected box to survive unlabeled")
	}
	if len(updated.PersonIDs) != 0 {
		t.Error("expected membership to resync")
	}
}
