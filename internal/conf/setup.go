package conf

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	envDSN      = "ICAPTURE_DSN"
	envHTTPPort = "ICAPTURE_HTTP_PORT"
	envAnalysis = "ICAPTURE_ANALYSIS_URL"
)

// SetupConfig 加载配置文件，文件不存在时写入默认配置
// 加载顺序: 默认值 -> toml 文件 -> .env / 环境变量
func SetupConfig(path string) (Bootstrap, error) {
	cfg := DefaultConfig()

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return cfg, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := WriteConfig(&cfg, path); err != nil {
			slog.Warn("write default config failed", "path", path, "err", err)
		}
	case err != nil:
		return cfg, err
	default:
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

// WriteConfig 将配置写回文件
func WriteConfig(cfg *Bootstrap, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func applyEnv(cfg *Bootstrap) {
	if v := os.Getenv(envDSN); v != "" {
		cfg.Data.Database.Dsn = v
	}
	if v := os.Getenv(envHTTPPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTP.Port = port
		}
	}
	if v := os.Getenv(envAnalysis); v != "" {
		cfg.Analysis.URL = v
	}
}

// Validate 检查配置取值范围
func (c *Bootstrap) Validate() error {
	var errs []error
	if c.Sync.Tolerance <= 0 {
		errs = append(errs, fmt.Errorf("sync.tolerance must be positive"))
	}
	if c.Sync.BufferSize < 1 {
		errs = append(errs, fmt.Errorf("sync.buffer_size must be >= 1"))
	}
	if c.Pipeline.InferenceQueueSize < 1 || c.Pipeline.PersistenceQueueSize < 1 {
		errs = append(errs, fmt.Errorf("pipeline queue sizes must be >= 1"))
	}
	if c.Pipeline.CaptureFPS < 1 {
		errs = append(errs, fmt.Errorf("pipeline.capture_fps must be >= 1"))
	}
	if c.Violation.RequiredFrames < 1 {
		errs = append(errs, fmt.Errorf("violation.required_frames must be >= 1"))
	}
	for i, r := range c.Violation.Rules {
		if r.Category == "" {
			errs = append(errs, fmt.Errorf("violation.rules[%d].category is empty", i))
		}
		if r.MinConfidence < 0 || r.MinConfidence > 1 {
			errs = append(errs, fmt.Errorf("violation.rules[%d].min_confidence out of [0,1]", i))
		}
	}
	if c.Retry.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("retry.max_retries must be >= 1"))
	}
	if c.Cameras.Primary.ID == "" {
		errs = append(errs, fmt.Errorf("cameras.primary.id is required"))
	}
	if c.Cameras.Primary.ID == c.Cameras.Secondary.ID {
		errs = append(errs, fmt.Errorf("cameras.primary.id and cameras.secondary.id must differ"))
	}
	return errors.Join(errs...)
}
