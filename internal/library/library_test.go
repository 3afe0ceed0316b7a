package library

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T) (*httptest.Server, *PhotoPrism) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-token",
			"config":       map[string]any{"downloadToken": "dl-token"},
		})
	})
	mux.HandleFunc("/api/v1/photos", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("offset") != "0" {
			json.NewEncoder(w).Encode([]any{})
			return
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"UID": "p1", "TakenAt": "2026-06-01T10:00:00Z", "Lat": 50.08, "Lng": 14.43, "Hash": "h1", "Type": "image"},
			{"UID": "p2", "TakenAt": "2026-06-01T10:05:00Z", "Type": "image"},
			{"UID": "v1", "TakenAt": "2026-06-01T10:06:00Z", "Type": "video"},
		})
	})
	mux.HandleFunc("/api/v1/photos/p1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"UID": "p1",
			"Files": []any{
				map[string]any{"Hash": "secondary", "Primary": false},
				map[string]any{"Hash": "h1", "Primary": true},
			},
		})
	})
	mux.HandleFunc("/api/v1/photos/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/api/v1/dl/h1", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("t") != "dl-token" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte("jpeg-bytes"))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	pp, err := NewPhotoPrism(context.Background(), server.URL, "user", "pass")
	if err != nil {
		t.Fatalf("NewPhotoPrism failed: %v", err)
	}
	return server, pp
}

func TestFetch(t *testing.T) {
	_, pp := newTestServer(t)

	r := Range{
		Start: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC),
	}
	assets, err := pp.Fetch(context.Background(), r, 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if len(assets) != 2 {
		t.Fatalf("expected 2 image assets, got %d", len(assets))
	}
	if assets[0].ID != "p1" {
		t.Errorf("expected p1 first, got %s", assets[0].ID)
	}
	if assets[0].Lat == nil || *assets[0].Lat != 50.08 {
		t.Error("GPS coordinates not mapped")
	}
	if assets[1].Lat != nil {
		t.Error("missing GPS should map to nil")
	}
	if !assets[0].TakenAt.Equal(time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("taken time not parsed: %s", assets[0].TakenAt)
	}
}

func TestCount(t *testing.T) {
	_, pp := newTestServer(t)

	n, err := pp.Count(context.Background(), Range{})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3, got %d", n)
	}
}

func TestImage(t *testing.T) {
	_, pp := newTestServer(t)

	data, err := pp.Image(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Image failed: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Errorf("unexpected image bytes: %q", data)
	}
}

func TestImage_Unavailable(t *testing.T) {
	_, pp := newTestServer(t)

	_, err := pp.Image(context.Background(), "gone")
	if !errors.Is(err, ErrImageUnavailable) {
		t.Fatalf("expected ErrImageUnavailable, got %v", err)
	}
}

func TestPresetRange(t *testing.T) {
	now := time.Date(2026, 8, 30, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		preset    Preset
		wantStart time.Time
	}{
		{PresetToday, time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)},
		{PresetWeek, now.AddDate(0, 0, -7)},
		{PresetMonth, now.AddDate(0, -1, 0)},
		{PresetYear, now.AddDate(-1, 0, 0)},
		{PresetAll, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.preset), func(t *testing.T) {
			r, err := PresetRange(tt.preset, now)
			if err != nil {
				t.Fatalf("PresetRange failed: %v", err)
			}
			if !r.Start.Equal(tt.wantStart) {
				t.Errorf("start: expected %s, got %s", tt.wantStart, r.Start)
			}
			if !r.End.After(now) {
				t.Error("end should include now")
			}
		})
	}

	if _, err := PresetRange("fortnight", now); err == nil {
		t.Error("expected error for unknown preset")
	}
}

func TestCustomRange(t *testing.T) {
	now := time.Date(2026, 8, 30, 15, 30, 0, 0, time.UTC)

	r, err := CustomRange("2026-03-01", "2026-03-15", now)
	if err != nil {
		t.Fatalf("CustomRange failed: %v", err)
	}
	if !r.Start.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected start %s", r.Start)
	}
	// End date is inclusive, so the window runs through the whole 15th.
	if !r.Contains(time.Date(2026, 3, 15, 23, 59, 0, 0, time.UTC)) {
		t.Error("end date should be included")
	}
	if r.Contains(time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)) {
		t.Error("day after end should be excluded")
	}

	r, err = CustomRange("2026-03-01", "", now)
	if err != nil {
		t.Fatalf("open end failed: %v", err)
	}
	if !r.Contains(now) {
		t.Error("open end should run through now")
	}

	if _, err := CustomRange("2026-03-15", "2026-03-01", now); err == nil {
		t.Error("expected error for inverted window")
	}
	if _, err := CustomRange("March 1st", "", now); err == nil {
		t.Error("expected error for unparseable date")
	}
}

func TestRangeQuery(t *testing.T) {
	r := Range{
		Start: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	q := rangeQuery(r)
	if !strings.Contains(q, "after:2026-06-01") || !strings.Contains(q, "before:2026-07-01") {
		t.Errorf("unexpected query: %q", q)
	}

	if got := rangeQuery(Range{End: r.End}); strings.Contains(got, "after:") {
		t.Errorf("open start should have no after filter: %q", got)
	}
}
