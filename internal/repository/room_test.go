package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	apperrors "github.com/wfunc/bias-game/internal/errors"
	"github.com/wfunc/bias-game/internal/models"
	"gorm.io/gorm"
)

// RoomRepositoryTestSuite 房间文档仓储测试套件
type RoomRepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo RoomRepository
}

func (suite *RoomRepositoryTestSuite) SetupTest() {
	suite.db = SetupTestDB()
	suite.repo = NewManager(suite.db).Room()
}

func (suite *RoomRepositoryTestSuite) TearDownTest() {
	CleanupTestDB(suite.db)
}

func (suite *RoomRepositoryTestSuite) createDoc(roomID string) *models.RoomDocument {
	doc := &models.RoomDocument{
		RoomID:   roomID,
		Status:   string(models.StatusLobby),
		Version:  1,
		Document: []byte(`{"id":"` + roomID + `"}`),
	}
	suite.Require().NoError(suite.repo.Create(context.Background(), doc))
	return doc
}

// TestCreate_RejectsDuplicate 测试重复房间号
func (suite *RoomRepositoryTestSuite) TestCreate_RejectsDuplicate() {
	ctx := context.Background()
	doc := suite.createDoc("ABC123")
	assert.NotZero(suite.T(), doc.ID)

	err := suite.repo.Create(ctx, &models.RoomDocument{RoomID: "ABC123", Status: "lobby", Document: []byte(`{}`)})
	assert.True(suite.T(), apperrors.Is(err, apperrors.ErrRoomExists))

	found, err := suite.repo.FindByRoomID(ctx, "ABC123")
	suite.Require().NoError(err)
	assert.JSONEq(suite.T(), `{"id":"ABC123"}`, string(found.Document))
}

// TestFindByRoomID_NotFound 测试查找不存在的房间
func (suite *RoomRepositoryTestSuite) TestFindByRoomID_NotFound() {
	_, err := suite.repo.FindByRoomID(context.Background(), "NOPE00")
	assert.True(suite.T(), apperrors.Is(err, apperrors.ErrDocumentNotFound))
}

// TestCompareAndSwap 测试乐观锁
func (suite *RoomRepositoryTestSuite) TestCompareAndSwap() {
	ctx := context.Background()
	suite.createDoc("ABC123")

	v, err := suite.repo.CompareAndSwap(ctx, "ABC123", 1, "playing", []byte(`{"v":2}`))
	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(2), v)

	_, err = suite.repo.CompareAndSwap(ctx, "ABC123", 1, "playing", []byte(`{"v":3}`))
	assert.True(suite.T(), apperrors.Is(err, apperrors.ErrVersionConflict))

	_, err = suite.repo.CompareAndSwap(ctx, "ZZZ999", 1, "playing", []byte(`{}`))
	assert.True(suite.T(), apperrors.Is(err, apperrors.ErrDocumentNotFound))

	found, err := suite.repo.FindByRoomID(ctx, "ABC123")
	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(2), found.Version)
	assert.Equal(suite.T(), "playing", found.Status)
	assert.JSONEq(suite.T(), `{"v":2}`, string(found.Document))
}

// TestDeleteAndExists 测试删除
func (suite *RoomRepositoryTestSuite) TestDeleteAndExists() {
	ctx := context.Background()
	suite.createDoc("ABC123")

	ok, err := suite.repo.Exists(ctx, "ABC123")
	suite.Require().NoError(err)
	assert.True(suite.T(), ok)

	suite.Require().NoError(suite.repo.Delete(ctx, "ABC123"))
	suite.Require().NoError(suite.repo.Delete(ctx, "ABC123"))

	ok, err = suite.repo.Exists(ctx, "ABC123")
	suite.Require().NoError(err)
	assert.False(suite.T(), ok)
}

// TestListIdle 测试空闲房间查询
func (suite *RoomRepositoryTestSuite) TestListIdle() {
	ctx := context.Background()
	suite.createDoc("OLD001")
	suite.createDoc("NEW001")

	old := time.Now().Add(-2 * time.Hour)
	suite.Require().NoError(suite.db.Model(&models.RoomDocument{}).
		Where("room_id = ?", "OLD001").UpdateColumn("updated_at", old).Error)

	ids, err := suite.repo.ListIdle(ctx, time.Now().Add(-time.Hour), 10)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), []string{"OLD001"}, ids)

	count, err := suite.repo.Count(ctx)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(2), count)
}

func TestRoomRepositorySuite(t *testing.T) {
	suite.Run(t, new(RoomRepositoryTestSuite))
}
