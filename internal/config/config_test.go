package config

import (
	"os"
	"testing"
	"time"
)

func TestPhotoURL_EmptyDomain(t *testing.T) {
	cfg := LibraryConfig{
		Domain: "",
	}

	result := cfg.PhotoURL("photo123")

	if result != "" {
		t.Errorf("expected empty string for empty domain, got '%s'", result)
	}
}

func TestPhotoURL_WithDomain(t *testing.T) {
	cfg := LibraryConfig{
		Domain: "https://photos.example.com",
	}

	result := cfg.PhotoURL("photo123")

	if result == "" {
		t.Error("expected non-empty result")
	}

	// Should contain OSC 8 escape sequences
	if result[0] != 0x1b {
		t.Error("expected result to start with escape sequence")
	}
}

func TestLoad_PolicyDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Policy.Match.AutoAcceptThreshold != 0.85 {
		t.Errorf("expected auto accept threshold 0.85, got %f", cfg.Policy.Match.AutoAcceptThreshold)
	}
	if cfg.Policy.Match.SuggestThreshold != 0.5 {
		t.Errorf("expected suggest threshold 0.5, got %f", cfg.Policy.Match.SuggestThreshold)
	}
	if cfg.Policy.Match.TopK != 5 {
		t.Errorf("expected top k 5, got %d", cfg.Policy.Match.TopK)
	}
	if cfg.Policy.Grouping.MaxGap != 90*time.Minute {
		t.Errorf("expected max gap 90m, got %s", cfg.Policy.Grouping.MaxGap)
	}
	if cfg.Policy.Grouping.MaxDistance != 500 {
		t.Errorf("expected max distance 500, got %f", cfg.Policy.Grouping.MaxDistance)
	}
	if cfg.Policy.Detect.NMSThreshold != 0.4 {
		t.Errorf("expected nms threshold 0.4, got %f", cfg.Policy.Detect.NMSThreshold)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	os.Setenv("MATCH_AUTO_ACCEPT_THRESHOLD", "0.9")
	os.Setenv("GROUPING_MAX_GAP_MINUTES", "30")
	os.Setenv("VISION_DIM", "768")
	defer func() {
		os.Unsetenv("MATCH_AUTO_ACCEPT_THRESHOLD")
		os.Unsetenv("GROUPING_MAX_GAP_MINUTES")
		os.Unsetenv("VISION_DIM")
	}()

	cfg := Load()

	if cfg.Policy.Match.AutoAcceptThreshold != 0.9 {
		t.Errorf("expected auto accept threshold 0.9, got %f", cfg.Policy.Match.AutoAcceptThreshold)
	}
	if cfg.Policy.Grouping.MaxGap != 30*time.Minute {
		t.Errorf("expected max gap 30m, got %s", cfg.Policy.Grouping.MaxGap)
	}
	if cfg.Vision.Dim != 768 {
		t.Errorf("expected dim 768, got %d", cfg.Vision.Dim)
	}
}

func TestEnvInt_Invalid(t *testing.T) {
	os.Setenv("DATABASE_MAX_OPEN_CONNS", "not-a-number")
	defer os.Unsetenv("DATABASE_MAX_OPEN_CONNS")

	cfg := Load()

	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("expected fallback 25, got %d", cfg.Database.MaxOpenConns)
	}
}

func TestEnvFloat_OutOfRange(t *testing.T) {
	os.Setenv("MATCH_SUGGEST_THRESHOLD", "1.5")
	defer os.Unsetenv("MATCH_SUGGEST_THRESHOLD")

	cfg := Load()

	if cfg.Policy.Match.SuggestThreshold != 0.5 {
		t.Errorf("expected fallback 0.5, got %f", cfg.Policy.Match.SuggestThreshold)
	}
}
