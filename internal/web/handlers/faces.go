package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/kozaktomas/encounters/internal/config"
	"github.com/kozaktomas/encounters/internal/geometry"
	"github.com/kozaktomas/encounters/internal/graph"
	"github.com/kozaktomas/encounters/internal/match"
	"github.com/kozaktomas/encounters/internal/scan"
	"github.com/kozaktomas/encounters/internal/tiling"
	"github.com/kozaktomas/encounters/internal/vision"
)

// suggestOverfetch is how many nearest samples per requested match the
// suggestion query pulls, so one person with many samples cannot crowd
// out everyone else.
const suggestOverfetch = 8

// FacesHandler handles face box labeling, redetection, and manual
// face location.
type FacesHandler struct {
	store      graph.Store
	detector   *tiling.Detector
	embedder   vision.Embedder
	propagator *scan.Propagator
	policy     config.PolicyConfig
}

// NewFacesHandler creates a new faces handler.
func NewFacesHandler(store graph.Store, detector *tiling.Detector, embedder vision.Embedder, propagator *scan.Propagator, policy config.PolicyConfig) *FacesHandler {
	return &FacesHandler{
		store:      store,
		detector:   detector,
		embedder:   embedder,
		propagator: propagator,
		policy:     policy,
	}
}

// assignRequest represents a box labeling request.
type assignRequest struct {
	PersonID  uuid.UUID `json:"person_id"`
	Propagate bool      `json:"propagate"`
}

// Assign labels a face box with a person. With propagate set, other
// unlabeled faces in the encounter that resemble the newly labeled one
// are labeled too.
func (h *FacesHandler) Assign(w http.ResponseWriter, r *http.Request) {
	encounterID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	boxID, ok := uuidParam(w, r, "boxId")
	if !ok {
		return
	}
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.PersonID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "person_id is required")
		return
	}

	person, err := h.store.GetPerson(r.Context(), req.PersonID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	enc, err := h.store.GetEncounter(r.Context(), encounterID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	box := findBox(enc, boxID)
	if box == nil {
		respondError(w, http.StatusNotFound, "box not found")
		return
	}

	box.Assign(person.ID, person.Name, nil, false)
	enc.SyncPeople()

	// A confirmed label doubles as a fresh identity sample. Embedding
	// failures are tolerated; the label still lands.
	sample := h.embedBox(r.Context(), enc, box, person.ID)

	err = h.store.WithTx(r.Context(), func(tx graph.Store) error {
		if err := tx.SaveEncounter(r.Context(), enc); err != nil {
			return err
		}
		if sample != nil {
			return tx.SaveEmbedding(r.Context(), sample)
		}
		return nil
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}

	response := map[string]any{"box": box}
	if req.Propagate {
		result, err := h.propagator.Propagate(r.Context(), encounterID, boxID, person.ID)
		switch {
		case errors.Is(err, scan.ErrSuperseded):
			respondError(w, http.StatusConflict, "superseded by a newer labeling")
			return
		case err != nil:
			respondStoreError(w, err)
			return
		}
		response["propagation"] = result
	}
	respondJSON(w, http.StatusOK, response)
}

// ClearLabel removes the person label from a face box. The derived
// embedding sample, if any, is removed with it.
func (h *FacesHandler) ClearLabel(w http.ResponseWriter, r *http.Request) {
	encounterID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	boxID, ok := uuidParam(w, r, "boxId")
	if !ok {
		return
	}

	enc, err := h.store.GetEncounter(r.Context(), encounterID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	box := findBox(enc, boxID)
	if box == nil {
		respondError(w, http.StatusNotFound, "box not found")
		return
	}

	box.ClearLabel()
	enc.SyncPeople()

	err = h.store.WithTx(r.Context(), func(tx graph.Store) error {
		if emb, err := tx.FindEmbeddingByProvenance(r.Context(), boxID, encounterID); err == nil {
			if err := tx.DeleteEmbedding(r.Context(), emb.ID); err != nil {
				return err
			}
		} else if !errors.Is(err, graph.ErrNotFound) {
			return err
		}
		return tx.SaveEncounter(r.Context(), enc)
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"box": box})
}

// Redetect reruns detection on one photo with the enhanced tiling pass
// and transfers existing labels onto the fresh boxes by overlap.
func (h *FacesHandler) Redetect(w http.ResponseWriter, r *http.Request) {
	encounterID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	photoID, ok := uuidParam(w, r, "photoId")
	if !ok {
		return
	}

	enc, err := h.store.GetEncounter(r.Context(), encounterID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	photo := findPhoto(enc, photoID)
	if photo == nil {
		respondError(w, http.StatusNotFound, "photo not found")
		return
	}

	faces, err := h.detector.Redetect(r.Context(), photo.Image)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	fresh := make([]*graph.FaceBoundingBox, 0, len(faces))
	for _, f := range faces {
		fresh = append(fresh, &graph.FaceBoundingBox{
			ID:      uuid.New(),
			PhotoID: photo.ID,
			Rect:    f.Rect,
		})
	}
	moved := h.detector.TransferLabels(photo.Boxes, fresh)
	previous := photo.Boxes

	photo.Boxes = fresh
	enc.SyncPeople()
	err = h.store.WithTx(r.Context(), func(tx graph.Store) error {
		// Embedding samples are keyed by the box they were cut from.
		// Follow each transferred label to its new box; samples of
		// labels that found no home lose their source and go away.
		for _, prev := range previous {
			if prev.PersonID == nil {
				continue
			}
			sample, err := tx.FindEmbeddingByProvenance(r.Context(), prev.ID, enc.ID)
			if errors.Is(err, graph.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if newID, ok := moved[prev.ID]; ok {
				id := newID
				sample.BoundingBoxID = &id
				if err := tx.SaveEmbedding(r.Context(), sample); err != nil {
					return err
				}
			} else if err := tx.DeleteEmbedding(r.Context(), sample.ID); err != nil {
				return err
			}
		}
		return tx.SaveEncounter(r.Context(), enc)
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, photo)
}

// locateRequest represents a tap-to-locate request. Coordinates are
// normalized to the displayed image, bottom-left origin.
type locateRequest struct {
	TapX float64 `json:"tap_x"`
	TapY float64 `json:"tap_y"`
	Zoom float64 `json:"zoom"`
}

// Locate finds the face the user tapped on and adds it as a new
// unlabeled box. Taps landing on an already known face are rejected.
func (h *FacesHandler) Locate(w http.ResponseWriter, r *http.Request) {
	encounterID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	photoID, ok := uuidParam(w, r, "photoId")
	if !ok {
		return
	}
	var req locateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	enc, err := h.store.GetEncounter(r.Context(), encounterID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	photo := findPhoto(enc, photoID)
	if photo == nil {
		respondError(w, http.StatusNotFound, "photo not found")
		return
	}

	existing := make([]geometry.Rect, 0, len(photo.Boxes))
	for _, box := range photo.Boxes {
		existing = append(existing, box.Rect)
	}

	session := h.detector.Locate(existing)
	face, err := session.Tap(r.Context(), photo.Image, req.TapX, req.TapY, req.Zoom)
	switch {
	case errors.Is(err, vision.ErrNoFaceFound):
		respondError(w, http.StatusNotFound, "no face found near tap")
		return
	case errors.Is(err, tiling.ErrDuplicateRegion):
		respondError(w, http.StatusConflict, "face already marked")
		return
	case err != nil:
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	box := &graph.FaceBoundingBox{
		ID:      uuid.New(),
		PhotoID: photo.ID,
		Rect:    face.Rect,
	}
	photo.Boxes = append(photo.Boxes, box)
	if err := h.store.SaveEncounter(r.Context(), enc); err != nil {
		respondStoreError(w, err)
		return
	}
	session.Applied()
	respondJSON(w, http.StatusCreated, box)
}

// Suggest ranks known people against one face box. Candidates come from
// the store's nearest-neighbor search over stored samples; people
// already confirmed in the encounter rank higher.
func (h *FacesHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	encounterID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	boxID, ok := uuidParam(w, r, "boxId")
	if !ok {
		return
	}

	enc, err := h.store.GetEncounter(r.Context(), encounterID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	box := findBox(enc, boxID)
	if box == nil {
		respondError(w, http.StatusNotFound, "box not found")
		return
	}
	photo := findPhoto(enc, box.PhotoID)
	if photo == nil || len(photo.Image) == 0 {
		respondError(w, http.StatusNotFound, "photo image unavailable")
		return
	}

	img, err := vision.DecodeImage(photo.Image)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "cannot decode photo")
		return
	}
	crop, err := vision.CropRect(img, box.Rect)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "cannot crop face")
		return
	}
	vector, err := h.embedder.Embed(r.Context(), crop)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	topK := h.policy.Match.TopK
	if topK <= 0 {
		topK = 5
	}
	samples, err := h.store.NearestEmbeddings(r.Context(), vector, topK*suggestOverfetch)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	byPerson := make(map[uuid.UUID]*match.Candidate)
	order := make([]uuid.UUID, 0, len(samples))
	for _, sample := range samples {
		cand, ok := byPerson[sample.PersonID]
		if !ok {
			person, err := h.store.GetPerson(r.Context(), sample.PersonID)
			if err != nil {
				continue
			}
			cand = &match.Candidate{PersonID: person.ID, PersonName: person.Name}
			byPerson[sample.PersonID] = cand
			order = append(order, sample.PersonID)
		}
		cand.Embeddings = append(cand.Embeddings, sample.Vector)
	}

	gallery := make([]match.Candidate, 0, len(order))
	for _, id := range order {
		gallery = append(gallery, *byPerson[id])
	}
	boost := make(map[uuid.UUID]bool, len(enc.PersonIDs))
	for _, id := range enc.PersonIDs {
		boost[id] = true
	}

	threshold := h.policy.Match.SuggestThreshold
	if threshold <= 0 {
		threshold = match.DefaultSuggestThreshold
	}
	matches := match.FindMatches(vector, gallery, match.Options{
		TopK:       topK,
		Threshold:  threshold,
		Boost:      boost,
		BoostBonus: h.policy.Match.RecentBoost,
	})

	respondJSON(w, http.StatusOK, map[string]any{"suggestions": matches})
}

// embedBox computes an identity sample for a freshly labeled box, or
// nil when the crop cannot be embedded. An existing sample for the same
// box is replaced in place.
func (h *FacesHandler) embedBox(ctx context.Context, enc *graph.Encounter, box *graph.FaceBoundingBox, personID uuid.UUID) *graph.FaceEmbedding {
	photo := findPhoto(enc, box.PhotoID)
	if photo == nil || len(photo.Image) == 0 {
		return nil
	}
	img, err := vision.DecodeImage(photo.Image)
	if err != nil {
		return nil
	}
	crop, err := vision.CropRect(img, box.Rect)
	if err != nil {
		return nil
	}
	vector, err := h.embedder.Embed(ctx, crop)
	if err != nil {
		return nil
	}

	sample := graph.NewFaceEmbedding(personID, vector, crop)
	if prev, err := h.store.FindEmbeddingByProvenance(ctx, box.ID, enc.ID); err == nil {
		sample.ID = prev.ID
	}
	sample.EncounterID = &enc.ID
	sample.BoundingBoxID = &box.ID
	return sample
}

func findBox(enc *graph.Encounter, boxID uuid.UUID) *graph.FaceBoundingBox {
	for _, photo := range enc.Photos {
		for _, box := range photo.Boxes {
			if box.ID == boxID {
				return box
			}
		}
	}
	return nil
}

func findPhoto(enc *graph.Encounter, photoID uuid.UUID) *graph.EncounterPhoto {
	for _, photo := range enc.Photos {
		if photo.ID == photoID {
			return photo
		}
	}
	return nil
}
