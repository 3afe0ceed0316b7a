package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kozaktomas/encounters/internal/library"
	"github.com/kozaktomas/encounters/internal/scan"
)

// ScanHandler handles library scan jobs. One scan session lives for the
// server lifetime: starting a wider scan resumes where the previous one
// stopped instead of reprocessing photos.
type ScanHandler struct {
	pipeline   *scan.Pipeline
	session    *scan.Session
	jobManager *JobManager
}

// NewScanHandler creates a new scan handler.
func NewScanHandler(pipeline *scan.Pipeline, jm *JobManager) *ScanHandler {
	return &ScanHandler{
		pipeline:   pipeline,
		session:    pipeline.NewSession(),
		jobManager: jm,
	}
}

// scanStartRequest represents a scan start request. Start and End pick a
// custom window and take precedence over the preset; either side may be
// omitted for an open bound.
type scanStartRequest struct {
	Preset      string     `json:"preset"`
	Start       *time.Time `json:"start"`
	End         *time.Time `json:"end"`
	Limit       int        `json:"limit"`
	Concurrency int        `json:"concurrency"`
}

// Start starts a new scan job over a preset or custom window.
func (h *ScanHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req scanStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	var window library.Range
	if req.Start != nil || req.End != nil {
		req.Preset = "custom"
		window.End = time.Now().Add(time.Minute)
		if req.Start != nil {
			window.Start = *req.Start
		}
		if req.End != nil {
			window.End = *req.End
		}
		if !window.End.After(window.Start) {
			respondError(w, http.StatusBadRequest, "scan window ends before it starts")
			return
		}
	} else {
		if req.Preset == "" {
			req.Preset = string(library.PresetWeek)
		}
		var err error
		window, err = library.PresetRange(library.Preset(req.Preset), time.Now())
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	jobID := uuid.New().String()
	job := h.jobManager.CreateJob(jobID, ScanJobOptions{
		Preset:      req.Preset,
		Start:       req.Start,
		End:         req.End,
		Limit:       req.Limit,
		Concurrency: req.Concurrency,
	})

	go h.runScanJob(job, window)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"preset": req.Preset,
		"status": string(JobStatusPending),
	})
}

// Status returns the status of a scan job.
func (h *ScanHandler) Status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job.Snapshot())
}

// List returns every known job, newest first.
func (h *ScanHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"jobs": h.jobManager.ListJobs()})
}

// Events streams job events via SSE.
func (h *ScanHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			job := h.jobManager.GetJob(id)
			if job == nil {
				return nil
			}
			return job
		},
		func(job SSEJob) any {
			if scanJob, ok := job.(*ScanJob); ok {
				return scanJob.Snapshot()
			}
			return job
		},
	)
}

// Cancel cancels a scan job.
func (h *ScanHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// saveGroupRequest represents a group commit request.
type saveGroupRequest struct {
	GroupIDs []uuid.UUID `json:"group_ids"`
	Occasion string      `json:"occasion"`
}

// SaveGroup commits suggested groups from a finished job into a single
// encounter. Multiple group ids are merged first.
func (h *ScanHandler) SaveGroup(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.GetStatus() != JobStatusCompleted {
		respondError(w, http.StatusConflict, "job has no result yet")
		return
	}

	var req saveGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if len(req.GroupIDs) == 0 {
		respondError(w, http.StatusBadRequest, "group_ids is required")
		return
	}

	selected := make([]scan.Group, 0, len(req.GroupIDs))
	for _, id := range req.GroupIDs {
		group, ok := findGroup(job, id)
		if !ok {
			respondError(w, http.StatusNotFound, fmt.Sprintf("group %s not found", id))
			return
		}
		selected = append(selected, group)
	}

	group := selected[0]
	if len(selected) > 1 {
		group = scan.MergeGroups(selected)
	}

	enc, err := h.pipeline.SaveGroup(r.Context(), group, req.Occasion)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, enc)
}

// runScanJob runs the scan in the background. The session, not the job,
// owns resume state, so a follow-up wider scan skips everything this
// one processed.
func (h *ScanHandler) runScanJob(job *ScanJob, window library.Range) {
	ctx, cancel := context.WithCancel(context.Background())
	job.cancel = cancel
	defer cancel()

	job.mu.Lock()
	job.Status = JobStatusRunning
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "started", Message: "Scan started"})

	result, err := h.session.Scan(ctx, window, scan.Options{
		Limit:       job.Options.Limit,
		Concurrency: job.Options.Concurrency,
		OnProgress: func(info scan.ProgressInfo) {
			job.mu.Lock()
			job.ProcessedPhotos = info.Current
			job.TotalPhotos = info.Total
			if info.Total > 0 {
				job.Progress = int(float64(info.Current) / float64(info.Total) * 100)
			}
			job.mu.Unlock()
			job.SendEvent(JobEvent{
				Type: "progress",
				Data: map[string]any{
					"phase":    info.Phase,
					"current":  info.Current,
					"total":    info.Total,
					"asset_id": info.AssetID,
				},
			})
		},
	})

	if err != nil {
		if ctx.Err() != nil {
			job.mu.Lock()
			job.Status = JobStatusCancelled
			job.mu.Unlock()
			job.SendEvent(JobEvent{Type: "cancelled", Message: "Job was cancelled"})
			return
		}
		h.failJob(job, fmt.Sprintf("scan failed: %v", err))
		return
	}

	// Drop groups whose photos were imported by a concurrent commit.
	groups, _, err := h.pipeline.PruneImported(ctx, result.Groups)
	if err == nil {
		result.Groups = groups
	}

	jobResult := summarizeResult(result)

	now := time.Now()
	job.mu.Lock()
	job.Status = JobStatusCompleted
	job.CompletedAt = &now
	job.Progress = 100
	job.Result = jobResult
	job.result = result
	job.mu.Unlock()

	job.SendEvent(JobEvent{Type: "completed", Data: jobResult})
}

func (h *ScanHandler) failJob(job *ScanJob, message string) {
	now := time.Now()
	job.mu.Lock()
	job.Status = JobStatusFailed
	job.Error = message
	job.CompletedAt = &now
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "job_error", Message: message})
}

func findGroup(job *ScanJob, id uuid.UUID) (scan.Group, bool) {
	job.mu.RLock()
	defer job.mu.RUnlock()
	if job.result == nil {
		return scan.Group{}, false
	}
	for _, g := range job.result.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return scan.Group{}, false
}

// summarizeResult builds the client-facing view of a scan result.
func summarizeResult(result *scan.Result) *ScanJobResult {
	summary := &ScanJobResult{
		Groups:  make([]GroupSummary, 0, len(result.Groups)),
		Skipped: result.Skipped,
	}
	for _, err := range result.Errors {
		summary.Errors = append(summary.Errors, err.Error())
	}

	for _, g := range result.Groups {
		gs := GroupSummary{
			ID:         g.ID.String(),
			PhotoCount: len(g.Photos),
			Location:   g.Location,
			Lat:        g.Lat,
			Lng:        g.Lng,
		}
		if len(g.Photos) > 0 {
			gs.Start = g.Photos[0].Asset.TakenAt
			gs.End = g.Photos[len(g.Photos)-1].Asset.TakenAt
		}

		seen := map[uuid.UUID]bool{}
		for _, photo := range g.Photos {
			for _, face := range photo.Faces {
				if face.Match == nil || seen[face.Match.PersonID] {
					continue
				}
				seen[face.Match.PersonID] = true
				gs.Matches = append(gs.Matches, MatchSummary{
					PersonID:     face.Match.PersonID.String(),
					PersonName:   face.Match.PersonName,
					Score:        face.Match.Score,
					Confidence:   string(face.Match.Confidence),
					AutoAccepted: face.Box.AutoAccepted,
				})
			}
		}
		summary.Groups = append(summary.Groups, gs)
	}
	return summary
}
