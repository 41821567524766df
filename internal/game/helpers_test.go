package game

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wfunc/bias-game/internal/catalog"
	"github.com/wfunc/bias-game/internal/models"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func newTestDeck(t *testing.T, n int) *catalog.Catalog {
	t.Helper()
	cards := make([]catalog.Card, n)
	for i := range cards {
		cards[i] = catalog.Card{ID: fmt.Sprintf("d%03d", i+1), Text: fmt.Sprintf("dilemma %d", i+1), Category: "default"}
	}
	c, err := catalog.New(cards, catalog.WithRand(rand.New(rand.NewPCG(7, 11))))
	require.NoError(t, err)
	return c
}

// newLobby 创建 p1..pn 的大厅房间，p1 为房主，全部已准备
func newLobby(t *testing.T, n int, opts RoomOptions) *models.Room {
	t.Helper()
	room, err := NewRoom(DefaultRules(), "ABC123", "p1", "Player1", opts, testNow)
	require.NoError(t, err)
	for i := 2; i <= n; i++ {
		_, err := JoinRoom(room, fmt.Sprintf("p%d", i), fmt.Sprintf("Player%d", i), testNow)
		require.NoError(t, err)
	}
	for id := range room.Players {
		require.NoError(t, SetReady(room, id, true))
	}
	return room
}

// startedGame 创建并开始一局 n 人游戏
func startedGame(t *testing.T, n int, opts RoomOptions) (*Engine, *models.Room, *catalog.Catalog) {
	t.Helper()
	e := NewEngine(DefaultRules(), WithClock(fixedClock))
	deck := newTestDeck(t, 120)
	room := newLobby(t, n, opts)
	_, err := e.StartGame(room, deck, "p1")
	require.NoError(t, err)
	return e, room, deck
}

// assertHandInvariant 卡牌在所有手牌、已用与弃牌之间最多出现一次
func assertHandInvariant(t *testing.T, room *models.Room) {
	t.Helper()
	seen := make(map[string]string)
	mark := func(id, where string) {
		prev, dup := seen[id]
		require.Falsef(t, dup, "卡牌 %s 同时出现在 %s 和 %s", id, prev, where)
		seen[id] = where
	}
	for _, p := range room.Players {
		for _, c := range p.Cards {
			mark(c, "hand:"+p.ID)
		}
	}
	for _, c := range room.UsedDilemmas {
		mark(c, "used")
	}
	for _, c := range room.DiscardedCards {
		mark(c, "discarded")
	}
}

// playGuess 当前提问者用第一张手牌向 target 提问
func playGuess(t *testing.T, e *Engine, room *models.Room, deck Deck, target string, guess models.Answer) string {
	t.Helper()
	active := room.CurrentTurn.ActivePlayerID
	card := room.Players[active].Cards[0]
	_, err := e.SubmitGuess(room, deck, active, card, target, guess)
	require.NoError(t, err)
	return card
}
