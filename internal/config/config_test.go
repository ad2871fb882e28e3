package config

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ACTIVITY_WINDOW", "")
	t.Setenv("MATCHER_STRATEGY", "")
	cfg := Load()
	if cfg.ActivityWindow != 5*time.Minute {
		t.Fatalf("expected 5m activity window, got %s", cfg.ActivityWindow)
	}
	if cfg.MatcherStrategy != StrategyEmbedding {
		t.Fatalf("expected embedding strategy, got %s", cfg.MatcherStrategy)
	}
	if !cfg.ProximityRequired {
		t.Fatalf("expected proximity to be required by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ACTIVITY_WINDOW", "2m")
	t.Setenv("PROXIMITY_REQUIRED", "false")
	t.Setenv("PIXEL_MAX_MSE", "850.5")
	t.Setenv("CANONICAL_SIZE", "bogus")
	cfg := Load()
	if cfg.ActivityWindow != 2*time.Minute {
		t.Fatalf("expected 2m, got %s", cfg.ActivityWindow)
	}
	if cfg.ProximityRequired {
		t.Fatalf("expected proximity disabled")
	}
	if cfg.PixelMaxMSE != 850.5 {
		t.Fatalf("expected 850.5, got %v", cfg.PixelMaxMSE)
	}
	if cfg.CanonicalSize != 100 {
		t.Fatalf("invalid int should fall back to 100, got %d", cfg.CanonicalSize)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*App){
		"strategy":   func(a *App) { a.MatcherStrategy = "eigenfaces" },
		"store":      func(a *App) { a.StoreBackend = "mongo" },
		"window":     func(a *App) { a.ActivityWindow = 0 },
		"similarity": func(a *App) { a.EmbeddingMinSimilarity = 1.5 },
		"detector":   func(a *App) { a.Detector = "haar" },
	}
	for name, mutate := range cases {
		cfg := Load()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"loud":  slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range cases {
		lvl := App{LogLevel: in}.SlogLevel()
		if got := lvl.Level(); got != want {
			t.Fatalf("%q: expected %s, got %s", in, want, got)
		}
	}

	h := slog.NewTextHandler(nil, &slog.HandlerOptions{Level: App{LogLevel: "warn"}.SlogLevel()})
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info should be filtered at warn")
	}
	if !h.Enabled(context.Background(), slog.LevelWarn) {
		t.Fatal("warn should pass at warn")
	}
}
