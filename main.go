package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gowvp/icapture/internal/app"
	"github.com/gowvp/icapture/internal/conf"
	"github.com/ixugo/goddd/pkg/system"
)

var (
	buildVersion = "0.0.1" // 构建版本号
	configDir    = flag.String("conf", "./configs", "config directory, eg: -conf /configs/")
)

func main() {
	flag.Parse()

	dir := *configDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(system.Getwd(), dir)
	}
	bc, err := conf.SetupConfig(filepath.Join(dir, "config.toml"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	bc.BuildVersion = buildVersion

	if err := app.Run(&bc); err != nil {
		slog.Error("服务异常退出", "err", err)
		os.Exit(1)
	}
}
