package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	apperrors "github.com/wfunc/bias-game/internal/errors"
	"github.com/wfunc/bias-game/internal/game"
	"github.com/wfunc/bias-game/internal/middleware"
	"go.uber.org/zap"
)

const (
	defaultQRSize = 256
	maxQRSize     = 1024
)

// QRHandler 生成房间邀请二维码
type QRHandler struct {
	publicURL string
	logger    *zap.Logger
}

// NewQRHandler 创建二维码处理器，publicURL 为前端访问地址
func NewQRHandler(publicURL string, logger *zap.Logger) *QRHandler {
	return &QRHandler{publicURL: strings.TrimRight(publicURL, "/"), logger: logger}
}

// JoinURL 房间邀请链接
func (h *QRHandler) JoinURL(code string) string {
	return h.publicURL + "/?room=" + url.QueryEscape(code)
}

// RoomQR 返回房间邀请链接的 PNG 二维码
// @Summary 房间二维码
// @Tags Room
// @Produce png
// @Param code path string true "房间号"
// @Param size query int false "边长像素"
// @Success 200 {file} binary
// @Router /api/v1/rooms/{code}/qr [get]
func (h *QRHandler) RoomQR(c *gin.Context) {
	code, err := game.NormalizeRoomCode(c.Param("code"))
	if err != nil {
		middleware.Abort(c, err)
		return
	}

	size := defaultQRSize
	if raw := c.Query("size"); raw != "" {
		size, err = strconv.Atoi(raw)
		if err != nil || size <= 0 || size > maxQRSize {
			middleware.Abort(c, apperrors.New(apperrors.ErrInvalidParam, "size 超出范围"))
			return
		}
	}

	png, err := qrcode.Encode(h.JoinURL(code), qrcode.Medium, size)
	if err != nil {
		h.logger.Error("生成二维码失败", zap.String("room_id", code), zap.Error(err))
		middleware.Abort(c, apperrors.Wrap(err, apperrors.ErrInternal))
		return
	}
	c.Header("Cache-Control", "public, max-age=3600")
	c.Data(http.StatusOK, "image/png", png)
}
