package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/bias-game/internal/models"
	"gorm.io/gorm"
)

// GameResultRepositoryTestSuite 对局归档仓储测试套件
type GameResultRepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo GameResultRepository
}

func (suite *GameResultRepositoryTestSuite) SetupTest() {
	suite.db = SetupTestDB()
	suite.repo = NewManager(suite.db).GameResult()
}

func (suite *GameResultRepositoryTestSuite) TearDownTest() {
	CleanupTestDB(suite.db)
}

// TestListByRoom 测试按房间查询与分页
func (suite *GameResultRepositoryTestSuite) TestListByRoom() {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		suite.Require().NoError(suite.repo.Create(ctx, &models.GameResult{
			RoomID:      "ABC123",
			WinnerID:    "p1",
			WinnerName:  "Alice",
			Scores:      []byte(`{"p1":{"name":"Alice","score":10}}`),
			Turns:       12 + i,
			PlayerCount: 3,
			EndedAt:     base.Add(time.Duration(i) * time.Hour),
		}))
	}
	suite.Require().NoError(suite.repo.Create(ctx, &models.GameResult{RoomID: "XYZ789", EndedAt: base}))

	p := NewPagination(1, 2)
	results, err := suite.repo.ListByRoom(ctx, "ABC123", p)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(3), p.Total)
	assert.Equal(suite.T(), 2, p.Pages())
	suite.Require().Len(results, 2)
	assert.Equal(suite.T(), 14, results[0].Turns, "最新在前")

	recent, err := suite.repo.Recent(ctx, 10)
	suite.Require().NoError(err)
	assert.Len(suite.T(), recent, 4)
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(0, 0)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, DefaultPageSize, p.PageSize)
	assert.Equal(t, 0, p.Offset())

	p = NewPagination(3, 1000)
	assert.Equal(t, MaxPageSize, p.PageSize)
	assert.Equal(t, 2*MaxPageSize, p.Offset())
}

func TestGameResultRepositorySuite(t *testing.T) {
	suite.Run(t, new(GameResultRepositoryTestSuite))
}
