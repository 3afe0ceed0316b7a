// Package scan turns a window of library photos into suggested
// encounter groups: faces are detected, embedded, matched against the
// known gallery and auto-labeled above the acceptance threshold, then
// photos are clustered by time and place.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kozaktomas/encounters/internal/config"
	"github.com/kozaktomas/encounters/internal/graph"
	"github.com/kozaktomas/encounters/internal/library"
	"github.com/kozaktomas/encounters/internal/match"
	"github.com/kozaktomas/encounters/internal/vision"
)

// Face is one detected face on a scanned photo, with everything needed
// to persist it later.
type Face struct {
	Box    *graph.FaceBoundingBox
	Crop   []byte
	Vector []float32
	Match  *match.Match
}

// Photo is one scanned library photo. PhotoID is the id the photo will
// get when its group is persisted; face boxes reference it already.
type Photo struct {
	PhotoID uuid.UUID
	Asset   library.Asset
	Image   []byte
	Faces   []Face
}

// Group is a run of photos close in time and place, the unit the user
// confirms into an encounter.
type Group struct {
	ID       uuid.UUID
	Photos   []Photo
	Lat      *float64
	Lng      *float64
	Location string
}

// Result is the outcome of one scan pass.
type Result struct {
	Groups  []Group
	Skipped []string
	Errors  []error
}

// ProgressInfo reports scan progress to the caller.
type ProgressInfo struct {
	Phase   string
	Current int
	Total   int
	AssetID string
}

// Options tune a single scan pass.
type Options struct {
	Limit               int
	AutoAcceptThreshold float64
	MatchThreshold      float64
	Concurrency         int
	OnProgress          func(ProgressInfo)
}

// Pipeline wires the scan dependencies together.
type Pipeline struct {
	library  library.PhotoLibrary
	detector vision.Detector
	embedder vision.Embedder
	store    graph.Store
	resolver Resolver
	policy   config.PolicyConfig
}

// Resolver is the reverse geocoder interface the pipeline needs; a nil
// resolver disables place names.
type Resolver interface {
	Resolve(ctx context.Context, lat, lng float64) (string, error)
}

func NewPipeline(lib library.PhotoLibrary, detector vision.Detector, embedder vision.Embedder, store graph.Store, resolver Resolver, policy config.PolicyConfig) *Pipeline {
	return &Pipeline{
		library:  lib,
		detector: detector,
		embedder: embedder,
		store:    store,
		resolver: resolver,
		policy:   policy,
	}
}

// Session carries resumable scan state: asset ids already processed in
// this session are never fetched again, and already-imported assets are
// filtered via the store.
type Session struct {
	pipeline *Pipeline
	mu       sync.Mutex
	scanned  map[string]bool
}

func (p *Pipeline) NewSession() *Session {
	return &Session{pipeline: p, scanned: map[string]bool{}}
}

// photoResult carries one worker's output back in input order.
type photoResult struct {
	index   int
	photo   *Photo
	skipped bool
	err     error
}

// Scan processes the window. "Scan more" is the same call with a wider
// window: previously scanned and already-imported assets are skipped, so
// continuing never reprocesses a photo.
func (s *Session) Scan(ctx context.Context, r library.Range, opts Options) (*Result, error) {
	p := s.pipeline
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.AutoAcceptThreshold == 0 {
		opts.AutoAcceptThreshold = p.policy.Match.AutoAcceptThreshold
	}
	if opts.MatchThreshold == 0 {
		opts.MatchThreshold = p.policy.Match.SuggestThreshold
	}

	assets, err := p.library.Fetch(ctx, r, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("fetch assets: %w", err)
	}

	assets, err = s.filterSeen(ctx, assets)
	if err != nil {
		return nil, err
	}

	gallery, boost, err := p.loadGallery(ctx)
	if err != nil {
		return nil, fmt.Errorf("load gallery: %w", err)
	}

	result := &Result{}
	photos := p.processAssets(ctx, assets, gallery, boost, opts, result)

	s.mu.Lock()
	for _, a := range assets {
		s.scanned[a.ID] = true
	}
	s.mu.Unlock()

	result.Groups = p.groupPhotos(photos)
	p.annotateGroups(ctx, result.Groups)
	return result, nil
}

// filterSeen drops assets scanned earlier in this session or already
// persisted as encounter photos.
func (s *Session) filterSeen(ctx context.Context, assets []library.Asset) ([]library.Asset, error) {
	ids := make([]string, 0, len(assets))
	for _, a := range assets {
		ids = append(ids, a.ID)
	}
	imported, err := s.pipeline.store.ImportedAssetIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("query imported assets: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := assets[:0]
	for _, a := range assets {
		if !s.scanned[a.ID] && !imported[a.ID] {
			fresh = append(fresh, a)
		}
	}
	return fresh, nil
}

// indexMinEmbeddings is the gallery size above which candidate people
// are pre-selected with a nearest-neighbor search instead of scoring
// every person exhaustively.
const indexMinEmbeddings = 256

// candidateOverfetch widens the neighbor search so people with a single
// close sample still surface among the candidates.
const candidateOverfetch = 8

// gallery is the in-memory match gallery for one scan pass.
type gallery struct {
	candidates []match.Candidate
	byPerson   map[uuid.UUID]int
	index      *match.Index
	embeddings int
}

// candidatesFor returns the candidates worth scoring against the query.
// Small galleries are scanned whole; large ones go through the index
// first. Exact rescoring happens in match.FindMatches either way.
func (g *gallery) candidatesFor(query []float32, topK int) []match.Candidate {
	if g.embeddings < indexMinEmbeddings {
		return g.candidates
	}
	if topK <= 0 {
		topK = 1
	}
	people := g.index.CandidatePeople(query, topK*candidateOverfetch)
	cands := make([]match.Candidate, 0, len(people))
	for _, pid := range people {
		if i, ok := g.byPerson[pid]; ok {
			cands = append(cands, g.candidates[i])
		}
	}
	return cands
}

// loadGallery builds match candidates from every known person, plus the
// boost set of recently seen people.
func (p *Pipeline) loadGallery(ctx context.Context) (*gallery, map[uuid.UUID]bool, error) {
	people, err := p.store.ListPeople(ctx)
	if err != nil {
		return nil, nil, err
	}

	g := &gallery{byPerson: map[uuid.UUID]int{}, index: match.NewIndex()}
	boost := map[uuid.UUID]bool{}
	cutoff := recentCutoff()
	for _, person := range people {
		embeddings, err := p.store.ListEmbeddingsByPerson(ctx, person.ID)
		if err != nil {
			return nil, nil, err
		}
		if len(embeddings) == 0 {
			continue
		}
		c := match.Candidate{PersonID: person.ID, PersonName: person.Name}
		for _, emb := range embeddings {
			c.Embeddings = append(c.Embeddings, emb.Vector)
			g.index.Add(emb.ID, person.ID, emb.Vector)
		}
		g.byPerson[person.ID] = len(g.candidates)
		g.candidates = append(g.candidates, c)
		g.embeddings += len(embeddings)
		if person.LastSeenAt.After(cutoff) {
			boost[person.ID] = true
		}
	}
	return g, boost, nil
}

// processAssets fans photo analysis out over a bounded worker pool and
// collects the results back in input order. Per-photo failures never
// abort the batch.
func (p *Pipeline) processAssets(ctx context.Context, assets []library.Asset, gallery *gallery, boost map[uuid.UUID]bool, opts Options, result *Result) []Photo {
	resultsChan := make(chan photoResult, len(assets))
	semaphore := make(chan struct{}, opts.Concurrency)
	var wg sync.WaitGroup

	var progressMu sync.Mutex
	processed := 0
	reportProgress := func(assetID string) {
		progressMu.Lock()
		processed++
		current := processed
		progressMu.Unlock()
		if opts.OnProgress != nil {
			opts.OnProgress(ProgressInfo{
				Phase:   "analyzing",
				Current: current,
				Total:   len(assets),
				AssetID: assetID,
			})
		}
	}

	for i := range assets {
		wg.Add(1)
		go func(idx int, asset library.Asset) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if ctx.Err() != nil {
				resultsChan <- photoResult{index: idx, err: ctx.Err()}
				reportProgress(asset.ID)
				return
			}

			photo, err := p.analyzePhoto(ctx, asset, gallery, boost, opts)
			if errors.Is(err, library.ErrImageUnavailable) {
				resultsChan <- photoResult{index: idx, skipped: true}
				reportProgress(asset.ID)
				return
			}
			if err != nil {
				resultsChan <- photoResult{index: idx, err: fmt.Errorf("analyze photo %s: %w", asset.ID, err)}
				reportProgress(asset.ID)
				return
			}

			resultsChan <- photoResult{index: idx, photo: photo}
			reportProgress(asset.ID)
		}(i, assets[i])
	}

	wg.Wait()
	close(resultsChan)

	ordered := make([]*photoResult, len(assets))
	for res := range resultsChan {
		r := res
		ordered[res.index] = &r
	}

	var photos []Photo
	for i, res := range ordered {
		if res == nil {
			continue
		}
		switch {
		case res.skipped:
			result.Skipped = append(result.Skipped, assets[i].ID)
		case res.err != nil:
			result.Errors = append(result.Errors, res.err)
		case res.photo != nil:
			photos = append(photos, *res.photo)
		}
	}
	return photos
}

// analyzePhoto fetches the image, detects faces, embeds each one and
// matches it against the gallery. Per-face embedding failures leave the
// box unlabeled and move on.
func (p *Pipeline) analyzePhoto(ctx context.Context, asset library.Asset, gallery *gallery, boost map[uuid.UUID]bool, opts Options) (*Photo, error) {
	imageData, err := p.library.Image(ctx, asset.ID)
	if err != nil {
		return nil, err
	}

	detected, err := p.detector.Detect(ctx, imageData, vision.DetectOptions{Accuracy: vision.AccuracyFast})
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	photoID := uuid.New()
	photo := Photo{PhotoID: photoID, Asset: asset, Image: imageData}

	for _, df := range detected {
		face := Face{
			Box: &graph.FaceBoundingBox{
				ID:      uuid.New(),
				PhotoID: photoID,
				Rect:    df.Rect,
			},
			Crop: df.Crop,
		}

		vector, err := p.embedder.Embed(ctx, df.Crop)
		if err != nil {
			// unlabeled face, user can label it manually
			photo.Faces = append(photo.Faces, face)
			continue
		}
		face.Vector = vector

		matches := match.FindMatches(vector, gallery.candidatesFor(vector, p.policy.Match.TopK), match.Options{
			TopK:       p.policy.Match.TopK,
			Threshold:  opts.MatchThreshold,
			Boost:      boost,
			BoostBonus: p.policy.Match.RecentBoost,
		})
		if len(matches) > 0 {
			best := matches[0]
			face.Match = &best
			if match.AutoAccept(best, opts.AutoAcceptThreshold) {
				similarity := best.Similarity
				face.Box.Assign(best.PersonID, best.PersonName, &similarity, true)
			}
		}

		photo.Faces = append(photo.Faces, face)
	}

	return &photo, nil
}

// groupPhotos clusters photos sorted by time into groups; a photo joins
// the current group when the gap to the previous photo is within MaxGap
// and, when both carry GPS, the distance is within MaxDistance.
func (p *Pipeline) groupPhotos(photos []Photo) []Group {
	if len(photos) == 0 {
		return nil
	}

	sorted := make([]Photo, len(photos))
	copy(sorted, photos)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Asset.TakenAt.Before(sorted[j].Asset.TakenAt)
	})

	var groups []Group
	current := newGroup(sorted[0])
	for _, photo := range sorted[1:] {
		last := current.Photos[len(current.Photos)-1]
		if p.sameGroup(last, photo) {
			current.addPhoto(photo)
		} else {
			groups = append(groups, current)
			current = newGroup(photo)
		}
	}
	return append(groups, current)
}

func (p *Pipeline) sameGroup(prev, next Photo) bool {
	if next.Asset.TakenAt.Sub(prev.Asset.TakenAt) > p.policy.Grouping.MaxGap {
		return false
	}
	if prev.Asset.Lat != nil && next.Asset.Lat != nil {
		d := haversineMeters(*prev.Asset.Lat, *prev.Asset.Lng, *next.Asset.Lat, *next.Asset.Lng)
		if d > p.policy.Grouping.MaxDistance {
			return false
		}
	}
	return true
}

func newGroup(photo Photo) Group {
	g := Group{ID: uuid.New()}
	g.addPhoto(photo)
	return g
}

func (g *Group) addPhoto(photo Photo) {
	g.Photos = append(g.Photos, photo)
	if g.Lat == nil && photo.Asset.Lat != nil {
		g.Lat, g.Lng = photo.Asset.Lat, photo.Asset.Lng
	}
}

// annotateGroups resolves place names for groups with GPS, concurrently.
// Geocoding failures leave the location empty.
func (p *Pipeline) annotateGroups(ctx context.Context, groups []Group) {
	if p.resolver == nil {
		return
	}

	var wg sync.WaitGroup
	for i := range groups {
		if groups[i].Lat == nil {
			continue
		}
		wg.Add(1)
		go func(g *Group) {
			defer wg.Done()
			name, err := p.resolver.Resolve(ctx, *g.Lat, *g.Lng)
			if err != nil {
				return
			}
			g.Location = name
		}(&groups[i])
	}
	wg.Wait()
}
