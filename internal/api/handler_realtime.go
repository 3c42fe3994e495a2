package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"emergency-portal-backend/internal/model"
	"emergency-portal-backend/internal/realtime"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 70 * time.Second
	wsPingPeriod = 30 * time.Second
)

// Frame types sent to dashboard clients.
const (
	FrameMembers = "members"
	FrameNotice  = "notice"
	FrameState   = "state"
	FrameError   = "error"
)

type wsFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	orgID     string
	closeOnce sync.Once
}

func (c *wsClient) trySend(payload []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *wsClient) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// push queues a frame; a client that cannot keep up is disconnected.
func (c *wsClient) push(frameType string, data any) {
	payload, err := json.Marshal(wsFrame{Type: frameType, Data: data})
	if err != nil {
		slog.Error("failed to encode realtime frame", "type", frameType, "error", err)
		return
	}
	if !c.trySend(payload) {
		slog.Debug("ws client too slow; closing", "organization_id", c.orgID)
		_ = c.conn.Close()
	}
}

// OrganizationRealtime streams the member list and membership notices of
// one organization over a websocket. Each connection owns its own mirror.
func (h *Handler) OrganizationRealtime(c *gin.Context) {
	orgID := c.Param("id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "organization_id", orgID, "error", err)
		return
	}

	client := &wsClient{
		conn:  conn,
		send:  make(chan []byte, h.sendBuffer),
		orgID: orgID,
	}
	slog.Debug("ws connected", "organization_id", orgID, "ip", c.ClientIP())

	mirror := realtime.NewMemberMirror(h.broker, h.members.List, realtime.MirrorCallbacks{
		OnMembers: func(members []model.OrganizationMember) { client.push(FrameMembers, members) },
		OnNotice:  func(n realtime.Notice) { client.push(FrameNotice, n) },
		OnState:   func(s realtime.State) { client.push(FrameState, gin.H{"state": s}) },
	})

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go h.writePump(client)

	if err := mirror.Open(ctx, orgID); err != nil {
		slog.Warn("ws failed to open member mirror", "organization_id", orgID, "error", err)
		client.push(FrameError, gin.H{"error": "failed to subscribe to organization"})
		client.closeSend()
		return
	}

	h.readPump(client)

	cancel()
	mirror.Close()
	client.closeSend()
	slog.Debug("ws disconnected", "organization_id", orgID)
}

// readPump drains client messages until the connection fails. Clients only
// send keepalives; their content is ignored.
func (h *Handler) readPump(client *wsClient) {
	defer func() {
		_ = client.conn.Close()
	}()

	client.conn.SetReadLimit(4096)
	_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			slog.Debug("ws read error", "organization_id", client.orgID, "error", err)
			return
		}
		_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	}
}

func (h *Handler) writePump(client *wsClient) {
	defer func() {
		_ = client.conn.Close()
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
