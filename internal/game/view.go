package game

import (
	"github.com/wfunc/bias-game/internal/models"
)

// Screen 客户端应展示的界面
type Screen string

const (
	ScreenEntry Screen = "entry"
	ScreenLobby Screen = "lobby"
	ScreenGame  Screen = "game"
	ScreenEnded Screen = "ended"
)

// PlayerView 从房间文档推导出的某位玩家"现在能做什么"
type PlayerView struct {
	PlayerID         string            `json:"playerId"`
	Screen           Screen            `json:"screen"`
	Status           models.GameStatus `json:"status"`
	TurnStatus       models.TurnStatus `json:"turnStatus,omitempty"`
	IsHost           bool              `json:"isHost"`
	IsMyTurn         bool              `json:"isMyTurn"`
	IsTarget         bool              `json:"isTarget"`
	CanStart         bool              `json:"canStart"`
	CanGuess         bool              `json:"canGuess"`
	CanAnswer        bool              `json:"canAnswer"`
	CanDecide        bool              `json:"canDecide"`
	CanVote          bool              `json:"canVote"`
	HasVoted         bool              `json:"hasVoted"`
	CanTally         bool              `json:"canTally"`
	CanAdvance       bool              `json:"canAdvance"`
	AvailableTargets []string          `json:"availableTargets,omitempty"`
	MyCards          []string          `json:"myCards"`
	MyScore          int               `json:"myScore"`
	WinnerID         string            `json:"winnerId,omitempty"`
}

// ViewFor 计算玩家视图。玩家不在房间中时返回 false。
func ViewFor(room *models.Room, playerID string, rules Rules) (*PlayerView, bool) {
	if room == nil {
		return nil, false
	}
	p, ok := room.Players[playerID]
	if !ok {
		return nil, false
	}

	v := &PlayerView{
		PlayerID: playerID,
		Status:   room.Config.Status,
		IsHost:   p.IsHost,
		MyCards:  append([]string{}, p.Cards...),
		MyScore:  p.Score,
		WinnerID: room.WinnerID,
	}

	switch room.Config.Status {
	case models.StatusLobby:
		v.Screen = ScreenLobby
		v.CanStart = p.IsHost && AllReady(room, rules.MinPlayers) &&
			(!room.Config.IsDubitoMode || len(room.Players) >= rules.DubitoMinPlayers)
		return v, true
	case models.StatusEnded:
		v.Screen = ScreenEnded
		return v, true
	}

	v.Screen = ScreenGame
	t := room.CurrentTurn
	if t == nil {
		return v, true
	}

	v.TurnStatus = t.Status
	v.IsMyTurn = t.ActivePlayerID == playerID
	v.IsTarget = t.TargetPlayerID == playerID

	switch t.Status {
	case models.TurnGuessing:
		v.CanGuess = v.IsMyTurn && len(p.Cards) > 0
		if v.CanGuess {
			v.AvailableTargets = availableTargets(room, playerID)
		}
	case models.TurnWaitingAnswer:
		v.CanAnswer = v.IsTarget
	case models.TurnWaitingAcceptOrDoubt:
		v.CanDecide = v.IsMyTurn
	case models.TurnVotingTruth:
		_, v.HasVoted = t.Votes[playerID]
		v.CanVote = !v.IsMyTurn && !v.IsTarget && !v.HasVoted
		v.CanTally = votingComplete(room, t)
	case models.TurnShowingResult, models.TurnShowingVoteResult:
		v.CanAdvance = v.IsMyTurn
	}
	return v, true
}

// availableTargets 可选目标；顺序模式下只有一个
func availableTargets(room *models.Room, activeID string) []string {
	if room.Config.GameMode == models.ModeSequential {
		if t := SequentialTarget(room, activeID); t != "" {
			return []string{t}
		}
		return nil
	}
	var targets []string
	for _, id := range room.SortedPlayerIDs() {
		if id != activeID {
			targets = append(targets, id)
		}
	}
	return targets
}
