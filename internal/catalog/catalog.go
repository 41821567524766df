// Package catalog 管理两难卡牌目录：按分类加载、无重复发牌与补牌。
package catalog

import (
	"math/rand/v2"
	"sync"

	apperrors "github.com/wfunc/bias-game/internal/errors"
	"go.uber.org/zap"
)

// DefaultCardsPerPlayer 每位玩家的目标手牌数
const DefaultCardsPerPlayer = 6

// Card 卡牌目录中的一张两难卡
type Card struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Category string `json:"category"`
}

// Exclusion 不可再抽取的卡牌集合
type Exclusion map[string]struct{}

// Exclude 合并多个卡牌ID列表为排除集合
func Exclude(lists ...[]string) Exclusion {
	ex := make(Exclusion)
	for _, list := range lists {
		for _, id := range list {
			ex[id] = struct{}{}
		}
	}
	return ex
}

// Has 是否被排除
func (e Exclusion) Has(id string) bool {
	_, ok := e[id]
	return ok
}

// Catalog 已加载的卡牌目录，加载后不可变
type Catalog struct {
	cards          []Card
	index          map[string]int
	cardsPerPlayer int
	logger         *zap.Logger

	mu  sync.Mutex // 保护 rng
	rng *rand.Rand
}

// Option 目录选项
type Option func(*Catalog)

// WithCardsPerPlayer 设置每人手牌数
func WithCardsPerPlayer(n int) Option {
	return func(c *Catalog) {
		if n > 0 {
			c.cardsPerPlayer = n
		}
	}
}

// WithRand 使用指定随机源，便于测试复现
func WithRand(r *rand.Rand) Option {
	return func(c *Catalog) {
		c.rng = r
	}
}

// WithLogger 设置日志器
func WithLogger(l *zap.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.logger = l
		}
	}
}

// New 用卡牌列表创建目录，ID重复或为空时失败
func New(cards []Card, opts ...Option) (*Catalog, error) {
	c := &Catalog{
		cards:          make([]Card, 0, len(cards)),
		index:          make(map[string]int, len(cards)),
		cardsPerPlayer: DefaultCardsPerPlayer,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, card := range cards {
		if card.ID == "" {
			return nil, apperrors.New(apperrors.ErrCatalogLoad, "卡牌ID为空")
		}
		if _, dup := c.index[card.ID]; dup {
			return nil, apperrors.Newf(apperrors.ErrCatalogLoad, "卡牌ID重复: %s", card.ID)
		}
		c.index[card.ID] = len(c.cards)
		c.cards = append(c.cards, card)
	}
	return c, nil
}

// Len 卡牌总数
func (c *Catalog) Len() int {
	return len(c.cards)
}

// CardsPerPlayer 每人手牌数
func (c *Catalog) CardsPerPlayer() int {
	return c.cardsPerPlayer
}

// Has 目录中是否存在该卡
func (c *Catalog) Has(id string) bool {
	_, ok := c.index[id]
	return ok
}

// Card 按ID查找卡牌
func (c *Catalog) Card(id string) (Card, bool) {
	i, ok := c.index[id]
	if !ok {
		return Card{}, false
	}
	return c.cards[i], true
}

// Cards 按ID批量查找，忽略不存在的ID
func (c *Catalog) Cards(ids []string) []Card {
	out := make([]Card, 0, len(ids))
	for _, id := range ids {
		if card, ok := c.Card(id); ok {
			out = append(out, card)
		}
	}
	return out
}

// Distribute 为每位玩家发 CardsPerPlayer 张牌，全部来自 (目录 - used)。
// 可用卡牌不足时返回 ErrInsufficientCards，不做部分发放。
func (c *Catalog) Distribute(playerIDs []string, used []string) (map[string][]string, error) {
	available := c.available(Exclude(used))
	needed := len(playerIDs) * c.cardsPerPlayer
	if len(available) < needed {
		return nil, apperrors.Newf(apperrors.ErrInsufficientCards,
			"需要 %d 张，可用 %d 张", needed, len(available))
	}

	c.shuffle(available)

	distribution := make(map[string][]string, len(playerIDs))
	next := 0
	for _, pid := range playerIDs {
		hand := make([]string, c.cardsPerPlayer)
		copy(hand, available[next:next+c.cardsPerPlayer])
		next += c.cardsPerPlayer
		distribution[pid] = hand
	}

	c.logger.Debug("发牌完成",
		zap.Int("players", len(playerIDs)),
		zap.Int("pool", len(available)))
	return distribution, nil
}

// DrawReplacement 随机抽一张未被排除的卡，没有可用卡时返回 false
func (c *Catalog) DrawReplacement(excluded Exclusion) (string, bool) {
	available := c.available(excluded)
	if len(available) == 0 {
		return "", false
	}
	return available[c.intN(len(available))], true
}

// CardsForLateJoiner 为中途加入的玩家抽取最多 CardsPerPlayer 张牌，不足时部分填充
func (c *Catalog) CardsForLateJoiner(excluded Exclusion) []string {
	available := c.available(excluded)
	c.shuffle(available)

	n := c.cardsPerPlayer
	if len(available) < n {
		c.logger.Warn("可用卡牌不足，部分填充手牌",
			zap.Int("wanted", n),
			zap.Int("available", len(available)))
		n = len(available)
	}

	hand := make([]string, n)
	copy(hand, available[:n])
	return hand
}

func (c *Catalog) available(excluded Exclusion) []string {
	out := make([]string, 0, len(c.cards))
	for _, card := range c.cards {
		if !excluded.Has(card.ID) {
			out = append(out, card.ID)
		}
	}
	return out
}

// shuffle Fisher–Yates 洗牌
func (c *Catalog) shuffle(ids []string) {
	for i := len(ids) - 1; i > 0; i-- {
		j := c.intN(i + 1)
		ids[i], ids[j] = ids[j], ids[i]
	}
}

func (c *Catalog) intN(n int) int {
	if c.rng == nil {
		return rand.IntN(n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.IntN(n)
}
