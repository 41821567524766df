package models

import (
	"sort"
)

// GameStatus 房间状态
type GameStatus string

const (
	StatusLobby   GameStatus = "lobby"
	StatusPlaying GameStatus = "playing"
	StatusEnded   GameStatus = "ended"
)

// GameMode 选择目标玩家的方式
type GameMode string

const (
	ModeChoice     GameMode = "choice"     // 提问者自由选择
	ModeSequential GameMode = "sequential" // 固定为顺序中的下一位
)

// TurnStatus 回合状态
type TurnStatus string

const (
	TurnGuessing             TurnStatus = "guessing"
	TurnWaitingAnswer        TurnStatus = "waiting_answer"
	TurnWaitingAcceptOrDoubt TurnStatus = "waiting_accept_or_doubt"
	TurnVotingTruth          TurnStatus = "voting_truth"
	TurnShowingVoteResult    TurnStatus = "showing_vote_result"
	TurnShowingResult        TurnStatus = "showing_result"
)

// Answer 回答/预测取值
type Answer string

const (
	AnswerSi      Answer = "si"
	AnswerNo      Answer = "no"
	AnswerDipende Answer = "dipende"
)

// Valid 是否为合法取值
func (a Answer) Valid() bool {
	return a == AnswerSi || a == AnswerNo || a == AnswerDipende
}

// Vote Dubito模式下的投票
type Vote string

const (
	VoteTruth Vote = "truth"
	VoteLie   Vote = "lie"
)

// Valid 是否为合法取值
func (v Vote) Valid() bool {
	return v == VoteTruth || v == VoteLie
}

// Decision 提问者对回答的处理
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionDoubt  Decision = "doubt"
)

// RoomConfig 房间配置块
type RoomConfig struct {
	Status       GameStatus `json:"status"`
	MaxPoints    int        `json:"maxPoints"`
	IsOpen       bool       `json:"isOpen"`
	IsDubitoMode bool       `json:"isDubitoMode"`
	GameMode     GameMode   `json:"gameMode"`
	PlayerOrder  []string   `json:"playerOrder"`
	Categories   []string   `json:"categories"`
}

// Player 房间内的玩家
type Player struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Score     int      `json:"score"`
	Cards     []string `json:"cards"`
	IsReady   bool     `json:"isReady"`
	IsHost    bool     `json:"isHost"`
	JoinOrder int      `json:"joinOrder"`
	JoinedAt  int64    `json:"joinedAt"`
}

// HasCard 手牌中是否有该卡
func (p *Player) HasCard(id string) bool {
	for _, c := range p.Cards {
		if c == id {
			return true
		}
	}
	return false
}

// RemoveCard 从手牌移除卡牌，返回是否移除成功
func (p *Player) RemoveCard(id string) bool {
	for i, c := range p.Cards {
		if c == id {
			p.Cards = append(p.Cards[:i:i], p.Cards[i+1:]...)
			return true
		}
	}
	return false
}

// VotingResult 投票结果
type VotingResult struct {
	TruthVotes   int  `json:"truthVotes"`
	LieVotes     int  `json:"lieVotes"`
	LiarCaught   bool `json:"liarCaught"`
	PointAwarded bool `json:"pointAwarded"`
}

// Turn 当前回合
type Turn struct {
	ActivePlayerID string          `json:"activePlayerId"`
	TargetPlayerID string          `json:"targetPlayerId,omitempty"`
	DilemmaID      string          `json:"dilemmaId,omitempty"`
	Guess          Answer          `json:"guess,omitempty"`
	Answer         Answer          `json:"answer,omitempty"`
	Status         TurnStatus      `json:"status"`
	Decision       Decision        `json:"decision,omitempty"`
	Votes          map[string]Vote `json:"votes,omitempty"`
	VotingResult   *VotingResult   `json:"votingResult,omitempty"`
	PointAwarded   bool            `json:"pointAwarded"`
	StartedAt      int64           `json:"startedAt"`
}

// TurnRecord 回合历史记录
type TurnRecord struct {
	Turn
	Timestamp int64 `json:"timestamp"`
}

// Room 房间文档，作为一个整体存储与广播
type Room struct {
	ID             string             `json:"id"`
	Config         RoomConfig         `json:"config"`
	Players        map[string]*Player `json:"players"`
	UsedDilemmas   []string           `json:"usedDilemmas"`
	DiscardedCards []string           `json:"discardedCards"`
	CurrentTurn    *Turn              `json:"currentTurn,omitempty"`
	TurnHistory    []TurnRecord       `json:"turnHistory"`
	WinnerID       string             `json:"winnerId,omitempty"`
	NextJoinOrder  int                `json:"nextJoinOrder"`
	Version        int64              `json:"version"`
	CreatedAt      int64              `json:"createdAt"`
	UpdatedAt      int64              `json:"updatedAt"`
}

// Player 按ID获取玩家
func (r *Room) Player(id string) (*Player, bool) {
	p, ok := r.Players[id]
	return p, ok
}

// SortedPlayerIDs 按ID排序的玩家列表
func (r *Room) SortedPlayerIDs() []string {
	ids := make([]string, 0, len(r.Players))
	for id := range r.Players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PlayersByJoinOrder 按加入顺序排列的玩家
func (r *Room) PlayersByJoinOrder() []*Player {
	players := make([]*Player, 0, len(r.Players))
	for _, p := range r.Players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].JoinOrder != players[j].JoinOrder {
			return players[i].JoinOrder < players[j].JoinOrder
		}
		return players[i].ID < players[j].ID
	})
	return players
}

// Clone 深拷贝房间文档
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Config.PlayerOrder = cloneStrings(r.Config.PlayerOrder)
	c.Config.Categories = cloneStrings(r.Config.Categories)
	c.UsedDilemmas = cloneStrings(r.UsedDilemmas)
	c.DiscardedCards = cloneStrings(r.DiscardedCards)

	c.Players = make(map[string]*Player, len(r.Players))
	for id, p := range r.Players {
		pc := *p
		pc.Cards = cloneStrings(p.Cards)
		c.Players[id] = &pc
	}

	c.CurrentTurn = r.CurrentTurn.Clone()

	if r.TurnHistory != nil {
		c.TurnHistory = make([]TurnRecord, len(r.TurnHistory))
		for i, rec := range r.TurnHistory {
			c.TurnHistory[i] = TurnRecord{Turn: *rec.Turn.Clone(), Timestamp: rec.Timestamp}
		}
	}
	return &c
}

// Clone 深拷贝回合
func (t *Turn) Clone() *Turn {
	if t == nil {
		return nil
	}
	c := *t
	if t.Votes != nil {
		c.Votes = make(map[string]Vote, len(t.Votes))
		for k, v := range t.Votes {
			c.Votes[k] = v
		}
	}
	if t.VotingResult != nil {
		vr := *t.VotingResult
		c.VotingResult = &vr
	}
	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
