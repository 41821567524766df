// Package game 实现房间/玩家登记与回合状态机。
//
// 包内所有规则都是 (房间文档, 玩家动作) 的纯函数：不读写存储，不持有全局状态。
// 调用方负责在原子事务中读取最新文档、应用规则并写回。
package game

import (
	"github.com/wfunc/bias-game/internal/catalog"
	"github.com/wfunc/bias-game/internal/config"
	"github.com/wfunc/bias-game/internal/models"
)

// Rules 可配置的规则参数
type Rules struct {
	CardsPerPlayer   int
	MinPlayers       int
	DubitoMinPlayers int
	DefaultMaxPoints int
	MaxPointsLimit   int
}

// DefaultRules 默认规则
func DefaultRules() Rules {
	return Rules{
		CardsPerPlayer:   catalog.DefaultCardsPerPlayer,
		MinPlayers:       2,
		DubitoMinPlayers: 4,
		DefaultMaxPoints: 10,
		MaxPointsLimit:   10,
	}
}

// RulesFromConfig 从游戏配置构造规则
func RulesFromConfig(cfg *config.GameConfig) Rules {
	return Rules{
		CardsPerPlayer:   cfg.CardsPerPlayer,
		MinPlayers:       cfg.MinPlayers,
		DubitoMinPlayers: cfg.DubitoMinPlayers,
		DefaultMaxPoints: cfg.DefaultMaxPoints,
		MaxPointsLimit:   cfg.MaxPointsLimit,
	}
}

// Deck 规则所需的卡牌来源，由 catalog.Catalog 实现
type Deck interface {
	Has(id string) bool
	Distribute(playerIDs []string, used []string) (map[string][]string, error)
	DrawReplacement(excluded catalog.Exclusion) (string, bool)
	CardsForLateJoiner(excluded catalog.Exclusion) []string
}

var _ Deck = (*catalog.Catalog)(nil)

// ExcludedCards 房间内不可再抽取的卡：所有手牌、已用卡、弃牌
func ExcludedCards(room *models.Room) catalog.Exclusion {
	ex := catalog.Exclude(room.UsedDilemmas, room.DiscardedCards)
	for _, p := range room.Players {
		for _, c := range p.Cards {
			ex[c] = struct{}{}
		}
	}
	return ex
}
