// Package library abstracts the photo source the scan pipeline reads
// from. Assets are cheap references; image bytes are fetched lazily and
// may be temporarily unavailable.
package library

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrImageUnavailable means the asset exists but its bytes cannot be
// fetched right now. Callers skip the photo and move on.
var ErrImageUnavailable = errors.New("image unavailable")

// Asset is a lightweight reference to one photo in the library.
type Asset struct {
	ID      string
	TakenAt time.Time
	Lat     *float64
	Lng     *float64
}

// Range is a half-open time window [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Preset names a relative scan window.
type Preset string

const (
	PresetToday Preset = "today"
	PresetWeek  Preset = "week"
	PresetMonth Preset = "month"
	PresetYear  Preset = "year"
	PresetAll   Preset = "all"
)

// PresetRange resolves a preset relative to now.
func PresetRange(p Preset, now time.Time) (Range, error) {
	end := now.Add(time.Minute)
	switch p {
	case PresetToday:
		y, m, d := now.Date()
		return Range{Start: time.Date(y, m, d, 0, 0, 0, 0, now.Location()), End: end}, nil
	case PresetWeek:
		return Range{Start: now.AddDate(0, 0, -7), End: end}, nil
	case PresetMonth:
		return Range{Start: now.AddDate(0, -1, 0), End: end}, nil
	case PresetYear:
		return Range{Start: now.AddDate(-1, 0, 0), End: end}, nil
	case PresetAll:
		return Range{Start: time.Time{}, End: end}, nil
	default:
		return Range{}, fmt.Errorf("unknown preset %q", p)
	}
}

// CustomRange builds a window from explicit dates in "2006-01-02" form.
// Either side may be empty for an open bound; the end date is inclusive.
func CustomRange(from, to string, now time.Time) (Range, error) {
	r := Range{End: now.Add(time.Minute)}
	if from != "" {
		start, err := time.ParseInLocation("2006-01-02", from, now.Location())
		if err != nil {
			return Range{}, fmt.Errorf("invalid start date %q: %w", from, err)
		}
		r.Start = start
	}
	if to != "" {
		end, err := time.ParseInLocation("2006-01-02", to, now.Location())
		if err != nil {
			return Range{}, fmt.Errorf("invalid end date %q: %w", to, err)
		}
		r.End = end.AddDate(0, 0, 1)
	}
	if !r.End.After(r.Start) {
		return Range{}, fmt.Errorf("scan window ends before it starts")
	}
	return r, nil
}

// PhotoLibrary is the read side of a photo collection.
type PhotoLibrary interface {
	// Fetch returns assets taken within r, oldest first, at most limit
	// (0 means no limit).
	Fetch(ctx context.Context, r Range, limit int) ([]Asset, error)
	// Count returns how many assets fall within r.
	Count(ctx context.Context, r Range) (int, error)
	// Image fetches the full-size bytes of an asset.
	Image(ctx context.Context, assetID string) ([]byte, error)
}
