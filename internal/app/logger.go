package app

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gowvp/icapture/internal/conf"
	"github.com/ixugo/goddd/pkg/system"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// SetupLogger 日志同时输出到控制台与按时间切割的文件
func SetupLogger(bc *conf.Bootstrap) (*slog.Logger, func(), error) {
	dir := bc.Log.Dir
	if dir != "" && !filepath.IsAbs(dir) {
		dir = filepath.Join(system.Getwd(), dir)
	}

	var w io.Writer = os.Stdout
	clean := func() {}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
		r, err := rotatelogs.New(
			filepath.Join(dir, "%Y%m%d%H%M.log"),
			rotatelogs.WithLinkName(filepath.Join(dir, "latest.log")),
			rotatelogs.WithMaxAge(bc.Log.MaxAge.Duration()),
			rotatelogs.WithRotationTime(bc.Log.RotationTime.Duration()),
		)
		if err != nil {
			return nil, nil, err
		}
		w = io.MultiWriter(os.Stdout, r)
		clean = func() { _ = r.Close() }
	}

	level := parseLevel(bc.Log.Level)
	if bc.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: bc.Debug,
		Level:     level,
	})).With("version", bc.BuildVersion)
	slog.SetDefault(log)
	return log, clean, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
