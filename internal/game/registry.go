package game

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	apperrors "github.com/wfunc/bias-game/internal/errors"
	"github.com/wfunc/bias-game/internal/models"
)

const (
	// RoomCodeLength 房间号长度
	RoomCodeLength = 6
	// MaxNameLength 玩家名最大长度（去除首尾空白后）
	MaxNameLength = 20

	roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var roomCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

func precondition(format string, args ...interface{}) error {
	return apperrors.Newf(apperrors.ErrPreconditionViolation, format, args...)
}

func validation(format string, args ...interface{}) error {
	return apperrors.Newf(apperrors.ErrValidation, format, args...)
}

// GenerateRoomCode 生成6位大写字母数字房间号。唯一性由调用方对照存储检查。
func GenerateRoomCode() string {
	var b strings.Builder
	b.Grow(RoomCodeLength)
	for i := 0; i < RoomCodeLength; i++ {
		b.WriteByte(roomCodeAlphabet[rand.IntN(len(roomCodeAlphabet))])
	}
	return b.String()
}

// NormalizeRoomCode 转为大写并校验格式
func NormalizeRoomCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !roomCodePattern.MatchString(code) {
		return "", validation("房间号格式错误: %q", code)
	}
	return code, nil
}

// ValidateName 校验玩家名，返回去除首尾空白后的名字
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n == 0 {
		return "", validation("玩家名不能为空")
	}
	if n > MaxNameLength {
		return "", validation("玩家名长度 %d 超过 %d", n, MaxNameLength)
	}
	return name, nil
}

// NewPlayerID 生成玩家ID，格式 player_<毫秒时间戳>_<随机串>
func NewPlayerID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("player_%d_%s", now.UnixMilli(), random[:9])
}

// RoomOptions 创建房间参数
type RoomOptions struct {
	MaxPoints  int
	DubitoMode bool
	GameMode   models.GameMode
	Categories []string
}

// NewRoom 创建只有房主一人的新房间
func NewRoom(rules Rules, code, playerID, playerName string, opts RoomOptions, now time.Time) (*models.Room, error) {
	name, err := ValidateName(playerName)
	if err != nil {
		return nil, err
	}
	if _, err := NormalizeRoomCode(code); err != nil {
		return nil, err
	}

	maxPoints := opts.MaxPoints
	if maxPoints == 0 {
		maxPoints = rules.DefaultMaxPoints
	}
	if maxPoints < 1 || maxPoints > rules.MaxPointsLimit {
		return nil, validation("目标分数必须在 1..%d 之间", rules.MaxPointsLimit)
	}

	mode := opts.GameMode
	if mode == "" {
		mode = models.ModeChoice
	}
	if mode != models.ModeChoice && mode != models.ModeSequential {
		return nil, validation("未知的游戏模式: %s", mode)
	}

	ts := now.UnixMilli()
	return &models.Room{
		ID: code,
		Config: models.RoomConfig{
			Status:       models.StatusLobby,
			MaxPoints:    maxPoints,
			IsDubitoMode: opts.DubitoMode,
			GameMode:     mode,
			PlayerOrder:  []string{playerID},
			Categories:   append([]string(nil), opts.Categories...),
		},
		Players: map[string]*models.Player{
			playerID: {
				ID:       playerID,
				Name:     name,
				Cards:    []string{},
				IsHost:   true,
				JoinedAt: ts,
			},
		},
		UsedDilemmas:   []string{},
		DiscardedCards: []string{},
		TurnHistory:    []models.TurnRecord{},
		NextJoinOrder:  1,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}, nil
}

// JoinRoom 将新玩家加入房间，返回是否为游戏中途加入。
// 房间不在大厅且未开放时返回 ErrRoomClosed。
func JoinRoom(room *models.Room, playerID, playerName string, now time.Time) (bool, error) {
	name, err := ValidateName(playerName)
	if err != nil {
		return false, err
	}
	if room.Config.Status != models.StatusLobby && !room.Config.IsOpen {
		return false, apperrors.New(apperrors.ErrRoomClosed, room.ID)
	}
	if _, exists := room.Players[playerID]; exists {
		return false, precondition("玩家 %s 已在房间中", playerID)
	}

	room.Players[playerID] = &models.Player{
		ID:        playerID,
		Name:      name,
		Cards:     []string{},
		JoinOrder: room.NextJoinOrder,
		JoinedAt:  now.UnixMilli(),
	}
	room.NextJoinOrder++
	room.Config.PlayerOrder = append(room.Config.PlayerOrder, playerID)

	return room.Config.Status != models.StatusLobby, nil
}

// DealLateJoiner 为中途加入的玩家发牌，卡牌不足时部分填充
func DealLateJoiner(room *models.Room, deck Deck, playerID string) []string {
	p, ok := room.Players[playerID]
	if !ok {
		return nil
	}
	hand := deck.CardsForLateJoiner(ExcludedCards(room))
	p.Cards = append(p.Cards, hand...)
	return hand
}

// IsHost 是否为房主
func IsHost(room *models.Room, playerID string) bool {
	p, ok := room.Players[playerID]
	return ok && p.IsHost
}

// PlayerCount 玩家数量
func PlayerCount(room *models.Room) int {
	return len(room.Players)
}

// AllReady 人数达到下限且所有玩家都已准备
func AllReady(room *models.Room, minPlayers int) bool {
	if len(room.Players) < minPlayers {
		return false
	}
	for _, p := range room.Players {
		if !p.IsReady {
			return false
		}
	}
	return true
}

// NextPlayerWithCards 按ID排序循环查找下一位有手牌的玩家。
// 当前玩家不在候选中（已离开或无手牌）时按排序取其后一位；没有人有手牌时返回空串。
func NextPlayerWithCards(room *models.Room, currentID string) string {
	var withCards []string
	for _, id := range room.SortedPlayerIDs() {
		if len(room.Players[id].Cards) > 0 {
			withCards = append(withCards, id)
		}
	}
	if len(withCards) == 0 {
		return ""
	}
	// currentID 可能已离开房间，取排序上的下一位
	for _, id := range withCards {
		if id > currentID {
			return id
		}
	}
	return withCards[0]
}

// SequentialTarget 顺序模式下的目标：playerOrder 中提问者的下一位（循环）
func SequentialTarget(room *models.Room, activeID string) string {
	order := room.Config.PlayerOrder
	for i, id := range order {
		if id != activeID {
			continue
		}
		for step := 1; step < len(order); step++ {
			next := order[(i+step)%len(order)]
			if _, ok := room.Players[next]; ok {
				return next
			}
		}
		return ""
	}
	return ""
}

func requireHost(room *models.Room, actorID string) error {
	if !IsHost(room, actorID) {
		return precondition("只有房主可以执行该操作")
	}
	return nil
}

func requireLobby(room *models.Room) error {
	if room.Config.Status != models.StatusLobby {
		return precondition("只能在大厅阶段修改，当前状态: %s", room.Config.Status)
	}
	return nil
}

// SwapPlayerOrder 交换 playerOrder 中 index 与 index+1 的位置，仅房主、仅顺序模式
func SwapPlayerOrder(room *models.Room, actorID string, index int) error {
	if err := requireHost(room, actorID); err != nil {
		return err
	}
	if room.Config.GameMode != models.ModeSequential {
		return precondition("只有顺序模式可以调整顺序")
	}
	order := room.Config.PlayerOrder
	if index < 0 || index+1 >= len(order) {
		return validation("顺序下标越界: %d", index)
	}
	order[index], order[index+1] = order[index+1], order[index]
	return nil
}

// SetReady 设置准备状态
func SetReady(room *models.Room, playerID string, ready bool) error {
	p, ok := room.Players[playerID]
	if !ok {
		return apperrors.New(apperrors.ErrPlayerNotFound, playerID)
	}
	if err := requireLobby(room); err != nil {
		return err
	}
	p.IsReady = ready
	return nil
}

// SetOpen 设置是否允许中途加入
func SetOpen(room *models.Room, actorID string, open bool) error {
	if err := requireHost(room, actorID); err != nil {
		return err
	}
	room.Config.IsOpen = open
	return nil
}

// SetGameMode 设置目标选择模式
func SetGameMode(room *models.Room, actorID string, mode models.GameMode) error {
	if err := requireHost(room, actorID); err != nil {
		return err
	}
	if err := requireLobby(room); err != nil {
		return err
	}
	if mode != models.ModeChoice && mode != models.ModeSequential {
		return validation("未知的游戏模式: %s", mode)
	}
	room.Config.GameMode = mode
	return nil
}

// SetDubito 开关Dubito模式
func SetDubito(room *models.Room, actorID string, on bool) error {
	if err := requireHost(room, actorID); err != nil {
		return err
	}
	if err := requireLobby(room); err != nil {
		return err
	}
	room.Config.IsDubitoMode = on
	return nil
}

// SetMaxPoints 设置目标分数
func SetMaxPoints(room *models.Room, rules Rules, actorID string, maxPoints int) error {
	if err := requireHost(room, actorID); err != nil {
		return err
	}
	if err := requireLobby(room); err != nil {
		return err
	}
	if maxPoints < 1 || maxPoints > rules.MaxPointsLimit {
		return validation("目标分数必须在 1..%d 之间", rules.MaxPointsLimit)
	}
	room.Config.MaxPoints = maxPoints
	return nil
}

// SetCategories 设置卡牌分类
func SetCategories(room *models.Room, actorID string, categories []string) error {
	if err := requireHost(room, actorID); err != nil {
		return err
	}
	if err := requireLobby(room); err != nil {
		return err
	}
	if len(categories) == 0 {
		return validation("至少选择一个分类")
	}
	room.Config.Categories = append([]string(nil), categories...)
	return nil
}

// RemovePlayer 移除玩家及其投票；房主离开时由最早加入的玩家接任。
// 返回房间是否已空。回合相关的后续处理见 Engine.HandleDeparture。
func RemovePlayer(room *models.Room, playerID string) (bool, error) {
	p, ok := room.Players[playerID]
	if !ok {
		return false, apperrors.New(apperrors.ErrPlayerNotFound, playerID)
	}
	delete(room.Players, playerID)

	order := room.Config.PlayerOrder[:0]
	for _, id := range room.Config.PlayerOrder {
		if id != playerID {
			order = append(order, id)
		}
	}
	room.Config.PlayerOrder = order

	if t := room.CurrentTurn; t != nil && t.Votes != nil {
		delete(t.Votes, playerID)
	}

	if len(room.Players) == 0 {
		return true, nil
	}
	if p.IsHost {
		room.PlayersByJoinOrder()[0].IsHost = true
	}
	return false, nil
}
