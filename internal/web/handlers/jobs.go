package handlers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/encounters/internal/scan"
)

// eventChannelBuffer is the buffer size of per-listener event channels.
// Slow listeners drop events rather than block the job.
const eventChannelBuffer = 64

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ScanJob represents an async library scan. The scan goroutine mutates
// its fields under mu; handlers read through Snapshot, never directly.
type ScanJob struct {
	EventBroadcaster

	ID              string
	Preset          string
	Status          JobStatus
	Progress        int
	TotalPhotos     int
	ProcessedPhotos int
	Error           string
	StartedAt       time.Time
	CompletedAt     *time.Time
	Result          *ScanJobResult
	Options         ScanJobOptions

	// result holds the full scan output, including image bytes, so
	// groups can be committed later. Never serialized.
	result *scan.Result
}

// ScanJobView is the client-facing copy of a job's state.
type ScanJobView struct {
	ID              string         `json:"id"`
	Preset          string         `json:"preset"`
	Status          JobStatus      `json:"status"`
	Progress        int            `json:"progress"`
	TotalPhotos     int            `json:"total_photos"`
	ProcessedPhotos int            `json:"processed_photos"`
	Error           string         `json:"error,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	Result          *ScanJobResult `json:"result,omitempty"`
	Options         ScanJobOptions `json:"options"`
}

// Snapshot copies the job state under the lock so it can be serialized
// while the scan keeps running.
func (j *ScanJob) Snapshot() ScanJobView {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return ScanJobView{
		ID:              j.ID,
		Preset:          j.Preset,
		Status:          j.Status,
		Progress:        j.Progress,
		TotalPhotos:     j.TotalPhotos,
		ProcessedPhotos: j.ProcessedPhotos,
		Error:           j.Error,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		Result:          j.Result,
		Options:         j.Options,
	}
}

// GetStatus returns the current job status (implements SSEJob).
func (j *ScanJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// Cancel cancels the scan job. A cancelled job never writes anything.
func (j *ScanJob) Cancel() {
	j.EventBroadcaster.Cancel()
	j.mu.Lock()
	j.Status = JobStatusCancelled
	j.mu.Unlock()
}

// ScanJobOptions represents scan job options. Start and End are set for
// custom windows instead of a preset.
type ScanJobOptions struct {
	Preset      string     `json:"preset"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	Limit       int        `json:"limit"`
	Concurrency int        `json:"concurrency"`
}

// ScanJobResult summarizes a finished scan for the client. Full photo
// bytes stay server-side; the client commits groups by id.
type ScanJobResult struct {
	Groups  []GroupSummary `json:"groups"`
	Skipped []string       `json:"skipped,omitempty"`
	Errors  []string       `json:"errors,omitempty"`
}

// GroupSummary is the client-facing view of one suggested group.
type GroupSummary struct {
	ID         string         `json:"id"`
	PhotoCount int            `json:"photo_count"`
	Start      time.Time      `json:"start"`
	End        time.Time      `json:"end"`
	Location   string         `json:"location,omitempty"`
	Lat        *float64       `json:"lat,omitempty"`
	Lng        *float64       `json:"lng,omitempty"`
	Matches    []MatchSummary `json:"matches,omitempty"`
}

// MatchSummary is one recognized person within a group.
type MatchSummary struct {
	PersonID     string  `json:"person_id"`
	PersonName   string  `json:"person_name"`
	Score        float64 `json:"score"`
	Confidence   string  `json:"confidence"`
	AutoAccepted bool    `json:"auto_accepted"`
}

// JobEvent represents an event from a job.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
// Embed this in job structs to get AddListener, RemoveListener, and SendEvent methods.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, eventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Cancel cancels the job via context and sends a cancelled event.
func (b *EventBroadcaster) Cancel() {
	if b.cancel != nil {
		b.cancel()
	}
	b.SendEvent(JobEvent{Type: "cancelled", Message: "Job cancelled by user"})
}

// SSEJob is the interface required by streamSSEEvents to stream job events via SSE.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	GetStatus() JobStatus
}

// JobManager manages async scan jobs.
type JobManager struct {
	jobs map[string]*ScanJob
	mu   sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*ScanJob),
	}
}

// CreateJob creates a new scan job.
func (m *JobManager) CreateJob(id string, options ScanJobOptions) *ScanJob {
	job := &ScanJob{
		ID:        id,
		Preset:    options.Preset,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
		Options:   options,
	}

	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()

	return job
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *ScanJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// DeleteJob removes a job.
func (m *JobManager) DeleteJob(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

// ListJobs returns a snapshot of every known job, newest first.
func (m *JobManager) ListJobs() []ScanJobView {
	m.mu.RLock()
	jobs := make([]*ScanJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.mu.RUnlock()

	views := make([]ScanJobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, job.Snapshot())
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].StartedAt.After(views[j].StartedAt)
	})
	return views
}
