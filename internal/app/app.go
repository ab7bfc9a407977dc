package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gowvp/icapture/internal/conf"
)

// Run 组装依赖并启动 HTTP 服务，收到退出信号后依次停止流水线、摄像头与数据库
func Run(bc *conf.Bootstrap) error {
	log, closeLog, err := SetupLogger(bc)
	if err != nil {
		return fmt.Errorf("setup log: %w", err)
	}
	defer closeLog()

	handler, cleanUp, err := wireApp(bc)
	if err != nil {
		return err
	}
	defer cleanUp()

	timeout := bc.Server.HTTP.Timeout.Duration()
	srv := http.Server{
		Addr:              fmt.Sprintf(":%d", bc.Server.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       timeout,
		IdleTimeout:       2 * timeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Info("http server start", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	slog.Info("服务退出中")

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
