package api

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/ixugo/goddd/pkg/web"
)

var startRuntime = time.Now()

func setupRouter(r *gin.Engine, uc *Usecase) {
	r.Use(
		// 格式化输出到控制台，然后记录到日志
		gin.CustomRecovery(func(c *gin.Context, err any) {
			slog.ErrorContext(c.Request.Context(), "panic", "err", err, "stack", string(debug.Stack()))
			c.AbortWithStatus(http.StatusInternalServerError)
		}),
		web.Metrics(),
		web.Logger(
			web.IgnoreMethod(http.MethodOptions),
			web.IgnorePrefix("/metrics"),
			web.IgnorePrefix("/ws"),
			web.IgnorePrefix("/static"),
		),
	)

	allow := uc.Conf.Server.HTTP.AllowCORS
	r.Use(cors.New(cors.Config{
		AllowMethods: []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowHeaders: []string{
			"Accept", "Content-Length", "Content-Type", "Accept-Language",
			"Origin", "Authorization", "Referer", "User-Agent", "Accept-Encoding",
			"Cache-Control", "X-Requested-With", "X-Request-ID",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
		AllowOriginFunc: func(origin string) bool {
			return len(allow) == 0 || slices.Contains(allow, origin)
		},
	}))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"msg": "来到了无人的荒漠"})
	})

	registerStatus(r, uc.StatusAPI)
	// 列表与详情响应体较大，单独开启压缩
	registerViolation(r, uc.ViolationAPI, gzip.Gzip(gzip.DefaultCompression))
}
