package middleware

import (
	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/bias-game/internal/errors"
)

// Abort 以统一的错误响应结束请求
func Abort(c *gin.Context, err error) {
	appErr := apperrors.As(err)
	c.AbortWithStatusJSON(appErr.HTTPStatus(), apperrors.NewErrorResponse(appErr, GetRequestID(c)))
}
