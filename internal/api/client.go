package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	coreerrors "byedpi-core/internal/core/errors"
	"byedpi-core/internal/core/events"
	"byedpi-core/internal/service"
)

// Client 控制 API 客户端，供 CLI 驱动正在运行的守护进程
type Client struct {
	base string
	http *http.Client
}

// NewClient 创建客户端，addr 形如 127.0.0.1:9091 或 http://127.0.0.1:9091
func NewClient(addr string) *Client {
	base := strings.TrimSuffix(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base: base + BasePath,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// Start 请求启动服务
func (c *Client) Start(ctx context.Context) (service.Snapshot, error) {
	return c.snapshot(ctx, http.MethodPost, "/start")
}

// Stop 请求停止服务
func (c *Client) Stop(ctx context.Context) (service.Snapshot, error) {
	return c.snapshot(ctx, http.MethodPost, "/stop")
}

// Status 查询当前状态
func (c *Client) Status(ctx context.Context) (service.Snapshot, error) {
	return c.snapshot(ctx, http.MethodGet, "/status")
}

// Health 查询健康状态
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Metrics 查询服务端进程的指标快照
func (c *Client) Metrics(ctx context.Context) (map[string]float64, error) {
	out := map[string]float64{}
	if err := c.do(ctx, http.MethodGet, "/metrics", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Watch 订阅状态事件流，直到 ctx 取消或连接断开
// 首条消息为当前快照，之后每次状态变化调用一次 onEvent
func (c *Client) Watch(ctx context.Context, onSnapshot func(service.Snapshot), onEvent func(*events.StatusEvent)) error {
	wsURL, err := url.Parse(c.base + "/events")
	if err != nil {
		return err
	}
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return fmt.Errorf("connect event stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		_ = conn.Close()
	})
	defer stop()

	for {
		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		switch msg.Type {
		case MessageSnapshot:
			var snap service.Snapshot
			if err := json.Unmarshal(msg.Data, &snap); err != nil {
				return err
			}
			if onSnapshot != nil {
				onSnapshot(snap)
			}
		case MessageStatus:
			var e events.StatusEvent
			if err := json.Unmarshal(msg.Data, &e); err != nil {
				return err
			}
			if onEvent != nil {
				onEvent(&e)
			}
		}
	}
}

func (c *Client) snapshot(ctx context.Context, method, path string) (service.Snapshot, error) {
	var snap service.Snapshot
	err := c.do(ctx, method, path, &snap)
	return snap, err
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeNetworkError, "control API unreachable")
	}
	defer resp.Body.Close()

	var body struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
		Code    string          `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode %s response (HTTP %d): %w", path, resp.StatusCode, err)
	}
	if !body.Success {
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
		if body.Code != "" {
			return coreerrors.New(coreerrors.ErrorCode(body.Code), body.Error)
		}
		return errors.New(body.Error)
	}
	if out == nil || len(body.Data) == 0 {
		return nil
	}
	return json.Unmarshal(body.Data, out)
}
