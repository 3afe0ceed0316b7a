package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/kozaktomas/encounters/internal/graph"
)

func TestTagsCreateAndList(t *testing.T) {
	store, _ := newStore()
	h := NewTagsHandler(store)

	req := jsonRequest(t, http.MethodPost, "/api/v1/tags", map[string]any{
		"name":  "climbing",
		"color": "#00aa44",
	})
	recorder := httptest.NewRecorder()
	h.Create(recorder, req)
	assertStatusCode(t, recorder, http.StatusCreated)

	recorder = httptest.NewRecorder()
	h.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/tags", nil))
	assertStatusCode(t, recorder, http.StatusOK)

	var tags []graph.Tag
	parseJSONResponse(t, recorder, &tags)
	if len(tags) != 1 || tags[0].Name != "climbing" || tags[0].Color != "#00aa44" {
		t.Errorf("unexpected tags: %+v", tags)
	}
}

func TestTagsCreate_RequiresName(t *testing.T) {
	store, _ := newStore()
	h := NewTagsHandler(store)

	req := jsonRequest(t, http.MethodPost, "/api/v1/tags", map[string]any{"color": "#fff"})
	recorder := httptest.NewRecorder()
	h.Create(recorder, req)
	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestTagsUpdate(t *testing.T) {
	store, _ := newStore()
	h := NewTagsHandler(store)

	tag := graph.NewTag("work", "#111111")
	if err := store.SaveTag(context.Background(), tag); err != nil {
		t.Fatalf("save tag: %v", err)
	}

	req := withChiParams(
		jsonRequest(t, http.MethodPut, "/api/v1/tags/x", map[string]any{"color": "#222222"}),
		map[string]string{"id": tag.ID.String()},
	)
	recorder := httptest.NewRecorder()
	h.Update(recorder, req)
	assertStatusCode(t, recorder, http.StatusOK)

	updated, err := store.GetTag(context.Background(), tag.ID)
	if err != nil {
		t.Fatalf("get tag: %v", err)
	}
	if updated.Name != "work" || updated.Color != "#222222" {
		t.Errorf("partial update went wrong: %+v", updated)
	}
}

func TestTagsDelete_NotFound(t *testing.T) {
	store, _ := newStore()
	h := NewTagsHandler(store)

	req := withChiParams(
		httptest.NewRequest(http.MethodDelete, "/api/v1/tags/x", nil),
		map[string]string{"id": uuid.NewString()},
	)
	recorder := httptest.NewRecorder()
	h.Delete(recorder, req)
	assertStatusCode(t, recorder, http.StatusNotFound)
}
