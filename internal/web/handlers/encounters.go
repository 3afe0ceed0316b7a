package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/kozaktomas/encounters/internal/graph"
	"github.com/kozaktomas/encounters/internal/reconcile"
)

// EncountersHandler handles encounter endpoints.
type EncountersHandler struct {
	store     graph.Store
	reconcile *reconcile.Service
}

// NewEncountersHandler creates a new encounters handler.
func NewEncountersHandler(store graph.Store, rec *reconcile.Service) *EncountersHandler {
	return &EncountersHandler{store: store, reconcile: rec}
}

// List returns all encounters, or the ones containing ?person=.
func (h *EncountersHandler) List(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("person"); raw != "" {
		personID, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid person")
			return
		}
		encounters, err := h.store.ListEncountersWithPerson(r.Context(), personID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, encounters)
		return
	}

	encounters, err := h.store.ListEncounters(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, encounters)
}

// Get returns one encounter with photos and boxes.
func (h *EncountersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	enc, err := h.store.GetEncounter(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, enc)
}

// encounterRequest carries the editable encounter metadata.
type encounterRequest struct {
	Occasion string      `json:"occasion"`
	Location string      `json:"location"`
	Notes    string      `json:"notes"`
	Favorite bool        `json:"favorite"`
	TagIDs   []uuid.UUID `json:"tag_ids"`
}

// Update edits encounter metadata. Photos and boxes are untouched.
func (h *EncountersHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req encounterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	enc, err := h.store.GetEncounter(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	enc.Occasion = req.Occasion
	enc.Location = req.Location
	enc.Notes = req.Notes
	enc.Favorite = req.Favorite
	if req.TagIDs != nil {
		enc.TagIDs = req.TagIDs
	}

	if err := h.store.SaveEncounter(r.Context(), enc); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, enc)
}

// Delete removes an encounter. Embeddings derived from its photos keep
// their identity value; only their provenance is cleared.
func (h *EncountersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.reconcile.DeleteEncounter(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// mergeEncountersRequest represents an encounter merge request.
type mergeEncountersRequest struct {
	SecondaryIDs []uuid.UUID `json:"secondary_ids"`
	CombineNotes bool        `json:"combine_notes"`
}

// Merge folds secondary encounters into the encounter in the URL.
func (h *EncountersHandler) Merge(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req mergeEncountersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if len(req.SecondaryIDs) == 0 {
		respondError(w, http.StatusBadRequest, "secondary_ids is required")
		return
	}

	if err := h.reconcile.MergeEncounters(r.Context(), id, req.SecondaryIDs, req.CombineNotes); err != nil {
		respondStoreError(w, err)
		return
	}

	enc, err := h.store.GetEncounter(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, enc)
}

// movePhotosRequest represents a photo move request. A nil destination
// splits the photos into a fresh encounter.
type movePhotosRequest struct {
	PhotoIDs      []uuid.UUID `json:"photo_ids"`
	DestinationID *uuid.UUID  `json:"destination_id,omitempty"`
}

// MovePhotos moves photos out of the encounter, either into an existing
// encounter or into a new one.
func (h *EncountersHandler) MovePhotos(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req movePhotosRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if len(req.PhotoIDs) == 0 {
		respondError(w, http.StatusBadRequest, "photo_ids is required")
		return
	}

	result, err := h.reconcile.MovePhotos(r.Context(), id, req.PhotoIDs, req.DestinationID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Thumbnail serves the encounter's cover thumbnail.
func (h *EncountersHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	enc, err := h.store.GetEncounter(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if len(enc.Thumbnail) == 0 {
		respondError(w, http.StatusNotFound, "no thumbnail")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(enc.Thumbnail)
}

// Photo serves the full image bytes of one encounter photo.
func (h *EncountersHandler) Photo(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	photoID, ok := uuidParam(w, r, "photoId")
	if !ok {
		return
	}
	enc, err := h.store.GetEncounter(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	for _, photo := range enc.Photos {
		if photo.ID == photoID {
			w.Header().Set("Content-Type", "image/jpeg")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(photo.Image)
			return
		}
	}
	respondError(w, http.StatusNotFound, "photo not found")
}
