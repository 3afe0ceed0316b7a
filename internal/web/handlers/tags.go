package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/kozaktomas/encounters/internal/graph"
)

// TagsHandler handles tag endpoints.
type TagsHandler struct {
	store graph.Store
}

// NewTagsHandler creates a new tags handler.
func NewTagsHandler(store graph.Store) *TagsHandler {
	return &TagsHandler{store: store}
}

// List returns all tags.
func (h *TagsHandler) List(w http.ResponseWriter, r *http.Request) {
	tags, err := h.store.ListTags(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tags)
}

// tagRequest carries the editable tag fields.
type tagRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Create creates a new tag.
func (h *TagsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	tag := graph.NewTag(req.Name, req.Color)
	if err := h.store.SaveTag(r.Context(), tag); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, tag)
}

// Update updates a tag's name or color.
func (h *TagsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	tag, err := h.store.GetTag(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if req.Name != "" {
		tag.Name = req.Name
	}
	if req.Color != "" {
		tag.Color = req.Color
	}
	if err := h.store.SaveTag(r.Context(), tag); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tag)
}

// Delete removes a tag; people and encounters keep everything else.
func (h *TagsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteTag(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
