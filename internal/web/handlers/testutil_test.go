package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/encounters/internal/graph"
	"github.com/kozaktomas/encounters/internal/graph/mock"
	"github.com/kozaktomas/encounters/internal/reconcile"
)

// newStore creates a fresh in-memory store with a reconcile service.
func newStore() (*mock.Store, *reconcile.Service) {
	store := mock.NewStore()
	return store, reconcile.NewService(store)
}

// jsonRequest creates a request with a JSON body.
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// withChiParams attaches chi URL parameters to a request.
func withChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type.
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code.
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// savePersonOrFail persists a person directly through the store.
func savePersonOrFail(t *testing.T, store graph.Store, p *graph.Person) {
	t.Helper()
	if err := store.SavePerson(context.Background(), p); err != nil {
		t.Fatalf("failed to save person: %v", err)
	}
}

// saveEncounterOrFail persists an encounter directly through the store.
func saveEncounterOrFail(t *testing.T, store graph.Store, e *graph.Encounter) {
	t.Helper()
	if err := store.SaveEncounter(context.Background(), e); err != nil {
		t.Fatalf("failed to save encounter: %v", err)
	}
}
