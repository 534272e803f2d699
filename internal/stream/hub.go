// Package stream はジョブ状態の変化を WebSocket で購読者に配信します。
package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yourusername/paper-lingo/internal/jobs"
)

const (
	sendBuffer = 16
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Update はクライアントへ送るメッセージです。
type Update struct {
	Type string       `json:"type"`
	Job  jobs.JobView `json:"job"`
}

type client struct {
	conn  *websocket.Conn
	jobID string
	send  chan []byte
}

// Hub は接続中のクライアントを管理し、ジョブ更新をブロードキャストします。
// jobs.Notifier を実装します。
type Hub struct {
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub は Hub を作成します。
func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Publish はジョブの最新状態を購読者へ送ります。送信が詰まっているクライアントは切断します。
func (h *Hub) Publish(view jobs.JobView) {
	payload, err := json.Marshal(Update{Type: "job_update", Job: view})
	if err != nil {
		h.logf("failed to marshal job update: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.jobID != "" && c.jobID != view.JobID {
			continue
		}
		select {
		case c.send <- payload:
		default:
			h.logf("dropping slow websocket client (job=%q)", c.jobID)
			h.removeLocked(c)
		}
	}
}

// ServeWS は接続を WebSocket にアップグレードし、切断まで配信を続けます。
// jobID が空の場合は全ジョブの更新を受け取ります。initial は接続直後に送る状態です。
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, jobID string, initial []jobs.JobView) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logf("failed to upgrade to websocket: %v", err)
		return
	}

	c := &client{conn: conn, jobID: jobID, send: make(chan []byte, sendBuffer+len(initial))}
	for _, view := range initial {
		payload, err := json.Marshal(Update{Type: "job_snapshot", Job: view})
		if err != nil {
			continue
		}
		c.send <- payload
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logf("websocket client connected (job=%q). total clients: %d", jobID, count)

	go h.writePump(c)
	h.readPump(c)
}

// Len は接続中のクライアント数を返します。
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close は全クライアントを切断し、以降の接続を拒否します。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// readPump はクライアントからの切断と pong を検知します。受信メッセージは読み捨てます。
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.removeLocked(c)
		h.logf("websocket client disconnected. remaining clients: %d", len(h.clients))
	}
}

func (h *Hub) removeLocked(c *client) {
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) logf(format string, args ...any) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
