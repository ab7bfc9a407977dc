package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gowvp/icapture/internal/core/evidence"
	"github.com/gowvp/icapture/internal/core/violation"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/ixugo/goddd/pkg/web"
)

// ViolationAPI 违章记录查询
type ViolationAPI struct {
	core        violation.Core
	evidenceDir string
}

func NewViolationAPI(core violation.Core, ev *evidence.Capturer) ViolationAPI {
	return ViolationAPI{core: core, evidenceDir: ev.Dir()}
}

func registerViolation(g gin.IRouter, api ViolationAPI, handler ...gin.HandlerFunc) {
	{
		group := g.Group("/violations", handler...)
		group.GET("", web.WrapH(api.findViolations))
		group.GET("/:id", web.WrapH(api.getViolation))
	}

	// 证据图静态文件，路径与记录中的 rider_image_path/plate_image_path 对应
	if api.evidenceDir != "" {
		g.Static("/static/evidence", api.evidenceDir)
	}
}

// findViolations 分页查询违章，按采集时间倒序
func (a ViolationAPI) findViolations(c *gin.Context, in *violation.FindViolationInput) (any, error) {
	items, total, err := a.core.FindViolations(c.Request.Context(), in)
	return gin.H{"items": items, "total": total}, err
}

func (a ViolationAPI) getViolation(c *gin.Context, _ *struct{}) (*violation.Violation, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return nil, reason.ErrBadRequest.SetMsg("invalid violation id")
	}
	return a.core.GetViolation(c.Request.Context(), id)
}
