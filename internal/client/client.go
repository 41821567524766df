package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	apperrors "github.com/wfunc/bias-game/internal/errors"
	"github.com/wfunc/bias-game/internal/game"
	"github.com/wfunc/bias-game/internal/service"
	"github.com/wfunc/bias-game/internal/session"
	ws "github.com/wfunc/bias-game/internal/websocket"
)

// Client 命令行客户端，身份保存在 IdentityStore 中
type Client struct {
	BaseURL    string
	WSPath     string
	HTTPClient *http.Client
	identities session.IdentityStore
}

// New 创建客户端
func New(baseURL string, identities session.IdentityStore) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		WSPath:  "/ws",
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		identities: identities,
	}
}

// Create 创建房间并保存身份
func (c *Client) Create(ctx context.Context, req *service.CreateRoomRequest) (*service.JoinResponse, error) {
	var resp service.JoinResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/rooms", "", req, &resp); err != nil {
		return nil, err
	}
	return &resp, c.remember(&resp)
}

// Join 加入房间并保存身份
func (c *Client) Join(ctx context.Context, code, name string) (*service.JoinResponse, error) {
	var resp service.JoinResponse
	path := "/api/v1/rooms/" + url.PathEscape(code) + "/join"
	if err := c.do(ctx, http.MethodPost, path, "", map[string]string{"name": name}, &resp); err != nil {
		return nil, err
	}
	return &resp, c.remember(&resp)
}

// Resume 用保存的身份恢复会话。房间不存在、玩家已离开或令牌失效时清除身份。
func (c *Client) Resume(ctx context.Context) (*service.RoomState, error) {
	stored, err := c.identity()
	if err != nil {
		return nil, err
	}

	var state service.RoomState
	err = c.do(ctx, http.MethodPost, "/api/v1/session/resume", stored.Token, nil, &state)
	if err != nil {
		if sessionGone(err) {
			_ = c.identities.Clear()
		}
		return nil, err
	}
	return &state, nil
}

// Leave 离开房间并清除身份
func (c *Client) Leave(ctx context.Context) error {
	stored, err := c.identity()
	if err != nil {
		return err
	}
	path := "/api/v1/rooms/" + url.PathEscape(stored.RoomID) + "/leave"
	err = c.do(ctx, http.MethodPost, path, stored.Token, nil, nil)
	if err != nil && !sessionGone(err) {
		return err
	}
	return c.identities.Clear()
}

// Watch 订阅房间推送，直到 ctx 取消或连接断开。收到 room_deleted 或 removed 时清除身份。
func (c *Client) Watch(ctx context.Context, fn func(*ws.Message)) error {
	stored, err := c.identity()
	if err != nil {
		return err
	}

	wsURL := "ws" + strings.TrimPrefix(c.BaseURL, "http") + c.WSPath + "?token=" + url.QueryEscape(stored.Token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var msg ws.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fn(&msg)
		switch msg.Type {
		case ws.MessageTypeRoomDeleted, ws.MessageTypeRemoved:
			return c.identities.Clear()
		}
	}
}

func (c *Client) identity() (*session.StoredIdentity, error) {
	stored, err := c.identities.Get()
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, apperrors.New(apperrors.ErrSessionInvalid, "本地没有保存的身份")
	}
	return stored, nil
}

func (c *Client) remember(resp *service.JoinResponse) error {
	id := game.Identity{PlayerID: resp.PlayerID}
	if resp.RoomState != nil && resp.Room != nil {
		id.RoomID = resp.Room.ID
		if p, ok := resp.Room.Players[resp.PlayerID]; ok {
			id.PlayerName = p.Name
		}
	}
	if id.Empty() {
		return apperrors.New(apperrors.ErrInternal, "服务器响应缺少身份信息")
	}
	return c.identities.Set(session.StoredIdentity{Identity: id, Token: resp.Token})
}

// Identity 返回本地保存的身份，没有时为 nil
func (c *Client) Identity() (*session.StoredIdentity, error) {
	return c.identities.Get()
}

// do 发送 JSON 请求。非 2xx 响应解析为 AppError。
func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("JSON编码失败: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var errResp apperrors.ErrorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != nil {
			return errResp.Error
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

// sessionGone 本地身份已无法恢复
func sessionGone(err error) bool {
	switch apperrors.GetCode(err) {
	case apperrors.ErrSessionInvalid, apperrors.ErrRoomNotFound,
		apperrors.ErrTokenExpired, apperrors.ErrTokenInvalid:
		return true
	}
	return false
}
