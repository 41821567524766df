package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleRoom() *Room {
	return &Room{
		ID: "ABC123",
		Config: RoomConfig{
			Status:      StatusPlaying,
			MaxPoints:   5,
			PlayerOrder: []string{"p1", "p2"},
		},
		Players: map[string]*Player{
			"p1": {ID: "p1", Name: "Anna", Cards: []string{"a", "b"}, JoinOrder: 0, IsHost: true},
			"p2": {ID: "p2", Name: "Bruno", Cards: []string{"c"}, JoinOrder: 1},
		},
		UsedDilemmas: []string{"x"},
		CurrentTurn: &Turn{
			ActivePlayerID: "p1",
			Status:         TurnVotingTruth,
			Votes:          map[string]Vote{"p3": VoteLie},
		},
		TurnHistory: []TurnRecord{{Turn: Turn{ActivePlayerID: "p2"}, Timestamp: 1}},
	}
}

func TestRoomClone_IsDeep(t *testing.T) {
	r := sampleRoom()
	c := r.Clone()

	c.Players["p1"].Cards[0] = "zzz"
	c.Players["p2"].Score = 9
	c.UsedDilemmas[0] = "y"
	c.Config.PlayerOrder[0] = "p9"
	c.CurrentTurn.Votes["p4"] = VoteTruth
	c.TurnHistory[0].ActivePlayerID = "p9"

	assert.Equal(t, "a", r.Players["p1"].Cards[0])
	assert.Equal(t, 0, r.Players["p2"].Score)
	assert.Equal(t, "x", r.UsedDilemmas[0])
	assert.Equal(t, "p1", r.Config.PlayerOrder[0])
	assert.Len(t, r.CurrentTurn.Votes, 1)
	assert.Equal(t, "p2", r.TurnHistory[0].ActivePlayerID)
}

func TestPlayer_RemoveCard(t *testing.T) {
	p := &Player{Cards: []string{"a", "b", "c"}}
	assert.True(t, p.RemoveCard("b"))
	assert.Equal(t, []string{"a", "c"}, p.Cards)
	assert.False(t, p.RemoveCard("b"))
	assert.False(t, p.HasCard("b"))
	assert.True(t, p.HasCard("c"))
}

func TestRoom_Ordering(t *testing.T) {
	r := sampleRoom()
	assert.Equal(t, []string{"p1", "p2"}, r.SortedPlayerIDs())

	r.Players["p1"].JoinOrder = 3
	ordered := r.PlayersByJoinOrder()
	assert.Equal(t, "p2", ordered[0].ID)
	assert.Equal(t, "p1", ordered[1].ID)
}

func TestAnswerAndVoteValidity(t *testing.T) {
	assert.True(t, AnswerSi.Valid())
	assert.True(t, Answer("dipende").Valid())
	assert.False(t, Answer("maybe").Valid())
	assert.True(t, VoteLie.Valid())
	assert.False(t, Vote("unsure").Valid())
}
