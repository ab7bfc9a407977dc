package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gowvp/icapture/internal/conf"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"other":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupLogger(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	dir := t.TempDir()
	bc := conf.DefaultConfig()
	bc.Log.Dir = dir
	bc.Log.MaxAge = conf.Duration(time.Hour)
	bc.Log.RotationTime = conf.Duration(time.Hour)

	log, clean, err := SetupLogger(&bc)
	if err != nil {
		t.Fatal(err)
	}
	defer clean()

	log.Info("hello")
	if !log.Enabled(t.Context(), slog.LevelInfo) || log.Enabled(t.Context(), slog.LevelDebug) {
		t.Fatal("expect info level")
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.log"))
	if len(matches) == 0 {
		t.Fatal("expect log file")
	}
	b, err := os.ReadFile(filepath.Join(dir, "latest.log"))
	if err == nil && len(b) == 0 {
		t.Fatal("expect log content")
	}
}
