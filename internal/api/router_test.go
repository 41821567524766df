package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/bias-game/internal/catalog"
	"github.com/wfunc/bias-game/internal/config"
	apperrors "github.com/wfunc/bias-game/internal/errors"
	"github.com/wfunc/bias-game/internal/models"
	"github.com/wfunc/bias-game/internal/repository"
	"github.com/wfunc/bias-game/internal/service"
	"github.com/wfunc/bias-game/internal/session"
	"github.com/wfunc/bias-game/internal/store"
	ws "github.com/wfunc/bias-game/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func writeCatalog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cards := make([]map[string]string, 40)
	for i := range cards {
		cards[i] = map[string]string{"id": fmt.Sprintf("d-%d", i+1), "text": fmt.Sprintf("dilemma %d", i+1)}
	}
	meta := map[string]any{"categories": []map[string]any{{"id": "default", "name": "Default", "count": 40}}}
	for name, v := range map[string]any{"metadata.json": meta, "default.json": cards} {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
	return dir
}

// RouterTestSuite 路由集成测试
type RouterTestSuite struct {
	suite.Suite
	db     *gorm.DB
	store  *store.RoomStore
	router *Router
	hub    *ws.Hub
	cancel context.CancelFunc
}

func (s *RouterTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	s.db = repository.SetupTestDB()
	s.store = store.NewMemoryStore(zap.NewNop())

	cfg := config.Default()
	cfg.Server.PublicURL = "https://bias.example/"
	cfg.Security.CORS.AllowOrigins = []string{"*"}
	cfg.Security.RateLimit.Enabled = false

	tokens := session.NewTokenManager(config.SessionConfig{Secret: "test-secret", TTL: time.Hour})
	services := service.NewServices(service.Dependencies{
		Store:   s.store,
		Library: catalog.NewLibrary(writeCatalog(s.T()), "", []string{"default"}, zap.NewNop()),
		Results: repository.NewGameResultRepository(s.db),
		Tokens:  tokens,
	}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.hub = ws.NewHub(services.Room, s.store, ws.DefaultOptions(), zap.NewNop())
	go s.hub.Run(ctx)

	s.router = NewRouter(Dependencies{
		Config:   cfg,
		Services: services,
		Hub:      s.hub,
		Tokens:   tokens,
		DB:       s.db,
	}, zap.NewNop())
}

func (s *RouterTestSuite) TearDownTest() {
	s.cancel()
	repository.CleanupTestDB(s.db)
}

func (s *RouterTestSuite) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.GetEngine().ServeHTTP(w, req)
	return w
}

func (s *RouterTestSuite) decode(w *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func (s *RouterTestSuite) errorCode(w *httptest.ResponseRecorder) apperrors.ErrorCode {
	var resp apperrors.ErrorResponse
	s.decode(w, &resp)
	s.Require().NotNil(resp.Error)
	return resp.Error.Code
}

func (s *RouterTestSuite) createRoom(name string) *service.JoinResponse {
	w := s.do(http.MethodPost, "/api/v1/rooms", "", map[string]any{"name": name})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var resp service.JoinResponse
	s.decode(w, &resp)
	return &resp
}

func (s *RouterTestSuite) joinRoom(code, name string) *service.JoinResponse {
	w := s.do(http.MethodPost, "/api/v1/rooms/"+code+"/join", "", JoinRequest{Name: name})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var resp service.JoinResponse
	s.decode(w, &resp)
	return &resp
}

func (s *RouterTestSuite) TestHealth() {
	w := s.do(http.MethodGet, "/health", "", nil)
	s.Equal(http.StatusOK, w.Code)
	var resp map[string]any
	s.decode(w, &resp)
	s.Equal("healthy", resp["status"])
}

func (s *RouterTestSuite) TestNoRoute() {
	w := s.do(http.MethodGet, "/api/v1/slot/spin", "", nil)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *RouterTestSuite) TestCategories() {
	w := s.do(http.MethodGet, "/api/v1/catalog/categories", "", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var meta catalog.Metadata
	s.decode(w, &meta)
	s.Require().Len(meta.Categories, 1)
	s.Equal("default", meta.Categories[0].ID)
}

func (s *RouterTestSuite) TestCreateAndJoin() {
	host := s.createRoom("Alice")
	s.NotEmpty(host.Token)
	s.True(host.View.IsHost)
	code := host.Room.ID

	s.Run("缺少名字", func() {
		w := s.do(http.MethodPost, "/api/v1/rooms", "", map[string]any{})
		s.Equal(http.StatusBadRequest, w.Code)
		s.Equal(apperrors.ErrInvalidParam, s.errorCode(w))
	})

	s.Run("房间号不区分大小写", func() {
		guest := s.joinRoom(strings.ToLower(code), "Bob")
		s.False(guest.MidGame)
		s.Len(guest.Room.Players, 2)
	})

	s.Run("房间不存在", func() {
		w := s.do(http.MethodPost, "/api/v1/rooms/ZZZZZZ/join", "", JoinRequest{Name: "Carl"})
		s.Equal(http.StatusNotFound, w.Code)
	})

	s.Run("获取房间", func() {
		w := s.do(http.MethodGet, "/api/v1/rooms/"+code, host.Token, nil)
		s.Require().Equal(http.StatusOK, w.Code)
		var state service.RoomState
		s.decode(w, &state)
		s.Equal(host.PlayerID, state.View.PlayerID)
	})

	s.Run("令牌与房间不符", func() {
		other := s.createRoom("Zed")
		w := s.do(http.MethodGet, "/api/v1/rooms/"+code, other.Token, nil)
		s.Equal(http.StatusForbidden, w.Code)
	})

	s.Run("恢复会话", func() {
		w := s.do(http.MethodPost, "/api/v1/session/resume", host.Token, nil)
		s.Require().Equal(http.StatusOK, w.Code)
		var state service.RoomState
		s.decode(w, &state)
		s.Equal(code, state.Room.ID)
	})
}

func (s *RouterTestSuite) TestLobbyAndTurn() {
	host := s.createRoom("Alice")
	code := host.Room.ID
	guest := s.joinRoom(code, "Bob")
	base := "/api/v1/rooms/" + code

	w := s.do(http.MethodPost, base+"/start", host.Token, nil)
	s.Equal(http.StatusConflict, w.Code, "未准备不能开始")

	w = s.do(http.MethodPost, base+"/ready", host.Token, map[string]any{})
	s.Equal(http.StatusBadRequest, w.Code, "缺少 ready 字段")

	for _, token := range []string{host.Token, guest.Token} {
		w = s.do(http.MethodPost, base+"/ready", token, map[string]bool{"ready": true})
		s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	}

	w = s.do(http.MethodPost, base+"/max-points", host.Token, MaxPointsRequest{MaxPoints: 3})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, base+"/start", guest.Token, nil)
	s.Equal(http.StatusConflict, w.Code, "非房主")

	w = s.do(http.MethodPost, base+"/start", host.Token, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var state service.RoomState
	s.decode(w, &state)
	s.Equal(models.StatusPlaying, state.Room.Config.Status)
	s.Equal(3, state.Room.Config.MaxPoints)

	active, target := host, guest
	if state.Room.CurrentTurn.ActivePlayerID != host.PlayerID {
		active, target = guest, host
	}

	w = s.do(http.MethodGet, base, active.Token, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.decode(w, &state)
	s.Require().True(state.View.CanGuess)
	card := state.View.MyCards[0]

	w = s.do(http.MethodPost, base+"/turn/guess", active.Token, service.GuessRequest{
		DilemmaID: card, TargetID: target.PlayerID, Guess: models.AnswerNo,
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, base+"/turn/answer", target.Token, AnswerRequest{Answer: models.AnswerSi})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var action service.ActionResponse
	s.decode(w, &action)
	s.False(action.Result.PointAwarded)
	s.Equal(models.TurnShowingResult, action.Room.CurrentTurn.Status)

	w = s.do(http.MethodPost, base+"/turn/next", target.Token, nil)
	s.Equal(http.StatusConflict, w.Code, "只有当前玩家能进入下一回合")

	w = s.do(http.MethodPost, base+"/turn/next", active.Token, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.decode(w, &action)
	s.Equal(target.PlayerID, action.Room.CurrentTurn.ActivePlayerID)
}

func (s *RouterTestSuite) TestDocumentAndResults() {
	host := s.createRoom("Alice")
	base := "/api/v1/rooms/" + host.Room.ID

	w := s.do(http.MethodGet, base+"/doc/config/status", host.Token, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.JSONEq(`"lobby"`, w.Body.String())

	w = s.do(http.MethodGet, base+"/doc/players/"+host.PlayerID+"/name", host.Token, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.JSONEq(`"Alice"`, w.Body.String())

	w = s.do(http.MethodGet, base+"/results", "", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var results ResultsResponse
	s.decode(w, &results)
	s.Empty(results.Results)
	s.Equal(int64(0), results.Total)
}

func (s *RouterTestSuite) TestLeave() {
	host := s.createRoom("Alice")
	w := s.do(http.MethodPost, "/api/v1/rooms/"+host.Room.ID+"/leave", host.Token, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	exists, err := s.store.Exists(context.Background(), store.RoomPath(host.Room.ID))
	s.Require().NoError(err)
	s.False(exists, "最后一名玩家离开后删除房间")
}

func (s *RouterTestSuite) TestQRCode() {
	w := s.do(http.MethodGet, "/api/v1/rooms/abc123/qr?size=128", "", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal("image/png", w.Header().Get("Content-Type"))
	s.True(bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))

	w = s.do(http.MethodGet, "/api/v1/rooms/abc123/qr?size=99999", "", nil)
	s.Equal(http.StatusBadRequest, w.Code)

	s.Equal("https://bias.example/?room=ABC123", s.router.qrHandler.JoinURL("ABC123"))
}

func (s *RouterTestSuite) TestWebSocket() {
	host := s.createRoom("Alice")
	server := httptest.NewServer(s.router.GetEngine())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	s.Require().Error(err)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+host.Token, nil)
	s.Require().NoError(err)
	defer conn.Close()

	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(3 * time.Second)))
	for {
		var msg ws.Message
		s.Require().NoError(conn.ReadJSON(&msg))
		if msg.Type == ws.MessageTypeRoomUpdate {
			s.Equal(host.Room.ID, msg.RoomID)
			break
		}
	}
	s.Eventually(func() bool { return s.hub.GetOnlineCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}

func TestOpenAPIMissingFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	registerOpenAPIRoutes(engine)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/openapi", nil))
	assert.Equal(t, http.StatusNotFound, w.Code, "测试目录下没有 docs/api/openapi.yaml")

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/docs/redoc", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/openapi")
}
