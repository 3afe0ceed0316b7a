package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/kozaktomas/encounters/internal/graph"
	"github.com/kozaktomas/encounters/internal/reconcile"
)

// PeopleHandler handles person endpoints.
type PeopleHandler struct {
	store     graph.Store
	reconcile *reconcile.Service
}

// NewPeopleHandler creates a new people handler.
func NewPeopleHandler(store graph.Store, rec *reconcile.Service) *PeopleHandler {
	return &PeopleHandler{store: store, reconcile: rec}
}

// List returns all people. With ?name= it returns only people whose
// normalized name matches the query.
func (h *PeopleHandler) List(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("name"); name != "" {
		people, err := h.store.FindPeopleByName(r.Context(), name)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, people)
		return
	}

	people, err := h.store.ListPeople(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, people)
}

// Get returns one person.
func (h *PeopleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	person, err := h.store.GetPerson(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, person)
}

// personRequest carries the editable person fields.
type personRequest struct {
	Name         string      `json:"name"`
	Notes        string      `json:"notes"`
	Relationship string      `json:"relationship"`
	Company      string      `json:"company"`
	JobTitle     string      `json:"job_title"`
	ContextTag   string      `json:"context_tag"`
	Favorite     bool        `json:"favorite"`
	IsMe         bool        `json:"is_me"`
	ContactID    string      `json:"contact_id"`
	TagIDs       []uuid.UUID `json:"tag_ids"`
}

func (req *personRequest) apply(p *graph.Person) {
	p.Name = req.Name
	p.Notes = req.Notes
	p.Relationship = req.Relationship
	p.Company = req.Company
	p.JobTitle = req.JobTitle
	p.ContextTag = req.ContextTag
	p.Favorite = req.Favorite
	p.IsMe = req.IsMe
	p.ContactID = req.ContactID
	if req.TagIDs != nil {
		p.TagIDs = req.TagIDs
	}
}

// Create creates a new person.
func (h *PeopleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req personRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	person := graph.NewPerson(req.Name)
	req.apply(person)
	if err := h.store.SavePerson(r.Context(), person); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, person)
}

// Update updates an existing person. Renames fan out to every box
// labeled with the person.
func (h *PeopleHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req personRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	person, err := h.store.GetPerson(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	renamed := req.Name != "" && req.Name != person.Name
	req.apply(person)

	if renamed {
		if err := h.reconcile.RenamePerson(r.Context(), person.ID, req.Name); err != nil {
			respondStoreError(w, err)
			return
		}
		// Rename already saved the record, but the remaining field
		// edits still need to land.
	}
	if err := h.store.SavePerson(r.Context(), person); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, person)
}

// Delete removes a person, their embeddings, and every label pointing
// at them. Boxes survive unlabeled.
func (h *PeopleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.reconcile.DeletePerson(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// mergePeopleRequest represents a person merge request.
type mergePeopleRequest struct {
	SecondaryIDs []uuid.UUID `json:"secondary_ids"`
	CombineNotes bool        `json:"combine_notes"`
}

// Merge folds secondary people into the person in the URL.
func (h *PeopleHandler) Merge(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req mergePeopleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if len(req.SecondaryIDs) == 0 {
		respondError(w, http.StatusBadRequest, "secondary_ids is required")
		return
	}

	if err := h.reconcile.MergePeople(r.Context(), id, req.SecondaryIDs, req.CombineNotes); err != nil {
		respondStoreError(w, err)
		return
	}

	person, err := h.store.GetPerson(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, person)
}

// Encounters lists every encounter the person appears in.
func (h *PeopleHandler) Encounters(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	encounters, err := h.store.ListEncountersWithPerson(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, encounters)
}

// Embeddings lists the person's stored face samples.
func (h *PeopleHandler) Embeddings(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	embeddings, err := h.store.ListEmbeddingsByPerson(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, embeddings)
}

// DeleteEmbedding removes one face sample. The person's profile picture
// reference is cleared if it pointed at the sample.
func (h *PeopleHandler) DeleteEmbedding(w http.ResponseWriter, r *http.Request) {
	embeddingID, ok := uuidParam(w, r, "embeddingId")
	if !ok {
		return
	}
	if err := h.store.DeleteEmbedding(r.Context(), embeddingID); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
