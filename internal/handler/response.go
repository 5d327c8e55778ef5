// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/service"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/errs"
)

// respondError 把应用错误分类映射为 HTTP 状态码并输出统一的错误响应。
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errs.IsAuth(err):
		status = http.StatusUnauthorized
	case errs.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrQuotaExceeded):
		status = http.StatusForbidden
	case errs.IsProtocol(err):
		status = http.StatusBadGateway
	default:
		var ne *errs.NetworkError
		if errors.As(err, &ne) {
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, gin.H{"code": status, "message": err.Error()})
}

// respondOK 输出统一的成功响应。
func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}
