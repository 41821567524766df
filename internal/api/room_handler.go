package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/bias-game/internal/errors"
	"github.com/wfunc/bias-game/internal/game"
	"github.com/wfunc/bias-game/internal/middleware"
	"github.com/wfunc/bias-game/internal/models"
	"github.com/wfunc/bias-game/internal/service"
	"go.uber.org/zap"
)

// RoomHandler 房间与回合处理器
type RoomHandler struct {
	rooms  service.RoomService
	logger *zap.Logger
}

// NewRoomHandler 创建房间处理器
func NewRoomHandler(rooms service.RoomService, logger *zap.Logger) *RoomHandler {
	return &RoomHandler{rooms: rooms, logger: logger}
}

// JoinRequest 加入房间请求
type JoinRequest struct {
	Name string `json:"name" binding:"required"`
}

// ReadyRequest 准备状态请求
type ReadyRequest struct {
	Ready *bool `json:"ready" binding:"required"`
}

// OpenRequest 房间开放状态请求
type OpenRequest struct {
	Open *bool `json:"open" binding:"required"`
}

// ModeRequest 游戏模式请求
type ModeRequest struct {
	GameMode models.GameMode `json:"gameMode" binding:"required"`
}

// DubitoRequest Dubito 开关请求
type DubitoRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// MaxPointsRequest 目标分数请求
type MaxPointsRequest struct {
	MaxPoints int `json:"maxPoints" binding:"required"`
}

// CategoriesRequest 卡牌分类请求
type CategoriesRequest struct {
	Categories []string `json:"categories" binding:"required"`
}

// SwapRequest 调整顺序请求，交换 index 与 index+1
type SwapRequest struct {
	Index *int `json:"index" binding:"required"`
}

// AnswerRequest 回答请求
type AnswerRequest struct {
	Answer models.Answer `json:"answer" binding:"required"`
}

// DecisionRequest 接受或质疑请求
type DecisionRequest struct {
	Decision models.Decision `json:"decision" binding:"required"`
}

// VoteRequest 投票请求
type VoteRequest struct {
	Vote models.Vote `json:"vote" binding:"required"`
}

// DiscardRequest 弃牌请求
type DiscardRequest struct {
	DilemmaID string `json:"dilemmaId" binding:"required"`
}

// ResultsResponse 历史对局响应
type ResultsResponse struct {
	Results  []*models.GameResult `json:"results"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"pageSize"`
}

// bind 解析请求体，失败时直接写入错误响应
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		middleware.Abort(c, apperrors.New(apperrors.ErrInvalidParam, "参数错误").WithCause(err))
		return false
	}
	return true
}

// identity 取出认证中间件写入的身份
func identity(c *gin.Context) (game.Identity, bool) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		middleware.Abort(c, apperrors.New(apperrors.ErrAuthentication))
	}
	return id, ok
}

func respond[T any](c *gin.Context, v T, err error) {
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// Categories 获取卡牌分类
// @Summary 卡牌分类列表
// @Tags Catalog
// @Produce json
// @Success 200 {object} catalog.Metadata
// @Router /api/v1/catalog/categories [get]
func (h *RoomHandler) Categories(c *gin.Context) {
	meta, err := h.rooms.Categories(c.Request.Context())
	respond(c, meta, err)
}

// Create 创建房间
// @Summary 创建房间
// @Description 创建者成为房主，返回会话令牌
// @Tags Room
// @Accept json
// @Produce json
// @Param request body service.CreateRoomRequest true "创建房间请求"
// @Success 201 {object} service.JoinResponse
// @Failure 400 {object} apperrors.ErrorResponse
// @Router /api/v1/rooms [post]
func (h *RoomHandler) Create(c *gin.Context) {
	var req service.CreateRoomRequest
	if !bind(c, &req) {
		return
	}
	resp, err := h.rooms.CreateRoom(c.Request.Context(), &req)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	h.logger.Info("房间已创建",
		zap.String("room_id", resp.Room.ID),
		zap.String("player_id", resp.PlayerID),
		zap.String("ip", c.ClientIP()))
	c.JSON(http.StatusCreated, resp)
}

// Join 加入房间
// @Summary 加入房间
// @Tags Room
// @Accept json
// @Produce json
// @Param code path string true "房间号"
// @Param request body JoinRequest true "加入请求"
// @Success 200 {object} service.JoinResponse
// @Failure 404 {object} apperrors.ErrorResponse
// @Failure 409 {object} apperrors.ErrorResponse
// @Router /api/v1/rooms/{code}/join [post]
func (h *RoomHandler) Join(c *gin.Context) {
	var req JoinRequest
	if !bind(c, &req) {
		return
	}
	resp, err := h.rooms.JoinRoom(c.Request.Context(), c.Param("code"), req.Name)
	respond(c, resp, err)
}

// Resume 恢复会话
// @Summary 使用令牌恢复会话
// @Tags Session
// @Security Bearer
// @Produce json
// @Success 200 {object} service.RoomState
// @Failure 401 {object} apperrors.ErrorResponse
// @Router /api/v1/session/resume [post]
func (h *RoomHandler) Resume(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	state, err := h.rooms.Resume(c.Request.Context(), id)
	respond(c, state, err)
}

// Get 获取房间
func (h *RoomHandler) Get(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	state, err := h.rooms.GetRoom(c.Request.Context(), id)
	respond(c, state, err)
}

// Leave 离开房间
func (h *RoomHandler) Leave(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	if err := h.rooms.Leave(c.Request.Context(), id); err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// SetReady 设置准备状态
func (h *RoomHandler) SetReady(c *gin.Context) {
	var req ReadyRequest
	id, ok := identity(c)
	if !ok || !bind(c, &req) {
		return
	}
	state, err := h.rooms.SetReady(c.Request.Context(), id, *req.Ready)
	respond(c, state, err)
}

// SetOpen 开放或关闭房间
func (h *RoomHandler) SetOpen(c *gin.Context) {
	var req OpenRequest
	id, ok := identity(c)
	if !ok || !bind(c, &req) {
		return
	}
	state, err := h.rooms.SetOpen(c.Request.Context(), id, *req.Open)
	respond(c, state, err)
}

// SetGameMode 设置游戏模式
func (h *RoomHandler) SetGameMode(c *gin.Context) {
	var req ModeRequest
	id, ok := identity(c)
	if !ok || !bind(c, &req) {
		return
	}
	state, err := h.rooms.SetGameMode(c.Request.Context(), id, req.GameMode)
	respond(c, state, err)
}

// SetDubito 开关 Dubito 模式
func (h *RoomHandler) SetDubito(c *gin.Context) {
	var req DubitoRequest
	id, ok := identity(c)
	if !ok || !bind(c, &req) {
		return
	}
	state, err := h.rooms.SetDubito(c.Request.Context(), id, *req.Enabled)
	respond(c, state, err)
}

// SetMaxPoints 设置目标分数
func (h *RoomHandler) SetMaxPoints(c *gin.Context) {
	var req MaxPointsRequest
	id, ok := identity(c)
	if !ok || !bind(c, &req) {
		return
	}
	state, err := h.rooms.SetMaxPoints(c.Request.Context(), id, req.MaxPoints)
	respond(c, state, err)
}

// SetCategories 设置卡牌分类
func (h *RoomHandler) SetCategories(c *gin.Context) {
	var req CategoriesRequest
	id, ok := identity(c)
	if !ok || !bind(c, &req) {
		return
	}
	state, err := h.rooms.SetCategories(c.Request.Context(), id, req.Categories)
	respond(c, state, err)
}

// SwapOrder 交换相邻玩家顺序
func (h *RoomHandler) SwapOrder(c *gin.Context) {
	var req SwapRequest
	id, ok := identity(c)
	if !ok || !bind(c, &req) {
		return
	}
	state, err := h.rooms.SwapPlayerOrder(c.Request.Context(), id, *req.Index)
	respond(c, state, err)
}

// Start 开始游戏
// @Summary 开始游戏
// @Description 仅房主可调用，发牌并进入第一回合
// @Tags Room
// @Security Bearer
// @Produce json
// @Param code path string true "房间号"
// @Success 200 {object} service.RoomState
// @Failure 403 {object} apperrors.ErrorResponse
// @Failure 409 {object} apperrors.ErrorResponse
// @Router /api/v1/rooms/{code}/start [post]
func (h *RoomHandler) Start(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	state, err := h.rooms.StartGame(c.Request.Context(), id)
	respond(c, state, err)
}

// Reset 重置到大厅
func (h *RoomHandler) Reset(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	state, err := h.rooms.ResetGame(c.Request.Context(), id)
	respond(c, state, err)
}

// Guess 提问者选择卡牌、目标与猜测
// @Summary 提交猜测
// @Tags Turn
// @Security Bearer
// @Accept json
// @Produce json
// @Param code path string true "房间号"
// @Param request body service.GuessRequest true "猜测"
// @Success 200 {object} service.ActionResponse
// @Failure 409 {object} apperrors.ErrorResponse
// @Router /api/v1/rooms/{code}/turn/guess [post]
func (h *RoomHandler) Guess(c *gin.Context) {
	var req service.GuessRequest
	id, ok := identity(c)
	if !ok || !bind(c, &req) {
		return
	}
	resp, err := h.rooms.SubmitGuess(c.Request.Context(), id, &req)
	respond(c, resp, err)
}

// Answer 目标玩家回答
func (h *RoomHandler) Answer(c *gin.Context) {
	var req AnswerRequest
	id, ok := identity(c)
	if !ok || !bind(c, &req) {
		return
	}
	resp, err := h.rooms.SubmitAnswer(c.Request.Context(), id, req.Answer)
	respond(c, resp, err)
}

// Decide 提问者接受或质疑
func (h *RoomHandler) Decide(c *gin.Context) {
	var req DecisionRequest
	id, ok := identity(c)
	if !ok || !bind(c, &req) {
		return
	}
	resp, err := h.rooms.Decide(c.Request.Context(), id, req.Decision)
	respond(c, resp, err)
}

// Vote 投票
func (h *RoomHandler) Vote(c *gin.Context) {
	var req VoteRequest
	id, ok := identity(c)
	if !ok || !bind(c, &req) {
		return
	}
	resp, err := h.rooms.CastVote(c.Request.Context(), id, req.Vote)
	respond(c, resp, err)
}

// Tally 统计投票
func (h *RoomHandler) Tally(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	resp, err := h.rooms.TallyVotes(c.Request.Context(), id)
	respond(c, resp, err)
}

// Next 进入下一回合
func (h *RoomHandler) Next(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	resp, err := h.rooms.NextTurn(c.Request.Context(), id)
	respond(c, resp, err)
}

// Discard 弃牌换新
func (h *RoomHandler) Discard(c *gin.Context) {
	var req DiscardRequest
	id, ok := identity(c)
	if !ok || !bind(c, &req) {
		return
	}
	resp, err := h.rooms.DiscardCard(c.Request.Context(), id, req.DilemmaID)
	respond(c, resp, err)
}

// Results 历史对局
// @Summary 房间历史对局
// @Tags Room
// @Produce json
// @Param code path string true "房间号"
// @Param page query int false "页码"
// @Param pageSize query int false "每页数量"
// @Success 200 {object} ResultsResponse
// @Router /api/v1/rooms/{code}/results [get]
func (h *RoomHandler) Results(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	results, total, err := h.rooms.Results(c.Request.Context(), c.Param("code"), page, pageSize)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	if results == nil {
		results = []*models.GameResult{}
	}
	c.JSON(http.StatusOK, ResultsResponse{Results: results, Total: total, Page: page, PageSize: pageSize})
}

// Document 按路径读取房间文档的子树
func (h *RoomHandler) Document(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	data, err := h.rooms.Document(c.Request.Context(), id, c.Param("path"))
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}
