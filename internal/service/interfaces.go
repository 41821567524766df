package service

import (
	"context"
	"time"

	"github.com/wfunc/bias-game/internal/catalog"
	"github.com/wfunc/bias-game/internal/game"
	"github.com/wfunc/bias-game/internal/models"
)

// RoomService 房间服务接口
type RoomService interface {
	// 房间生命周期
	CreateRoom(ctx context.Context, req *CreateRoomRequest) (*JoinResponse, error)
	JoinRoom(ctx context.Context, code, name string) (*JoinResponse, error)
	Resume(ctx context.Context, id game.Identity) (*RoomState, error)
	GetRoom(ctx context.Context, id game.Identity) (*RoomState, error)
	Leave(ctx context.Context, id game.Identity) error

	// 大厅设置
	SetReady(ctx context.Context, id game.Identity, ready bool) (*RoomState, error)
	SetOpen(ctx context.Context, id game.Identity, open bool) (*RoomState, error)
	SetGameMode(ctx context.Context, id game.Identity, mode models.GameMode) (*RoomState, error)
	SetDubito(ctx context.Context, id game.Identity, on bool) (*RoomState, error)
	SetMaxPoints(ctx context.Context, id game.Identity, maxPoints int) (*RoomState, error)
	SetCategories(ctx context.Context, id game.Identity, categories []string) (*RoomState, error)
	SwapPlayerOrder(ctx context.Context, id game.Identity, index int) (*RoomState, error)
	StartGame(ctx context.Context, id game.Identity) (*RoomState, error)
	ResetGame(ctx context.Context, id game.Identity) (*RoomState, error)

	// 回合
	SubmitGuess(ctx context.Context, id game.Identity, req *GuessRequest) (*ActionResponse, error)
	SubmitAnswer(ctx context.Context, id game.Identity, answer models.Answer) (*ActionResponse, error)
	Decide(ctx context.Context, id game.Identity, decision models.Decision) (*ActionResponse, error)
	CastVote(ctx context.Context, id game.Identity, vote models.Vote) (*ActionResponse, error)
	TallyVotes(ctx context.Context, id game.Identity) (*ActionResponse, error)
	NextTurn(ctx context.Context, id game.Identity) (*ActionResponse, error)
	DiscardCard(ctx context.Context, id game.Identity, dilemmaID string) (*ActionResponse, error)

	// 查询
	Categories(ctx context.Context) (*catalog.Metadata, error)
	Results(ctx context.Context, code string, page, pageSize int) ([]*models.GameResult, int64, error)
	Document(ctx context.Context, id game.Identity, path string) ([]byte, error)
	ViewFor(room *models.Room, playerID string) (*RoomState, bool)

	// 维护
	CleanupIdleRooms(ctx context.Context) (int, error)
	StartCleanupTask(ctx context.Context, interval time.Duration)
}

// CreateRoomRequest 创建房间请求
type CreateRoomRequest struct {
	Name       string          `json:"name" binding:"required"`
	MaxPoints  int             `json:"maxPoints"`
	DubitoMode bool            `json:"dubitoMode"`
	GameMode   models.GameMode `json:"gameMode"`
	Categories []string        `json:"categories"`
}

// GuessRequest 提问请求
type GuessRequest struct {
	DilemmaID string        `json:"dilemmaId" binding:"required"`
	TargetID  string        `json:"targetId" binding:"required"`
	Guess     models.Answer `json:"guess" binding:"required"`
}

// RoomState 房间文档加上请求者视角的视图
type RoomState struct {
	Room     *models.Room            `json:"room"`
	View     *game.PlayerView        `json:"view"`
	Dilemmas map[string]catalog.Card `json:"dilemmas,omitempty"`
	// Issue 恢复时发现的房间状态问题
	Issue string `json:"issue,omitempty"`
}

// JoinResponse 创建或加入房间的响应
type JoinResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	PlayerID  string    `json:"playerId"`
	MidGame   bool      `json:"midGame"`
	*RoomState
}

// ActionResponse 回合动作的响应
type ActionResponse struct {
	Result *game.Result `json:"result,omitempty"`
	*RoomState
}
