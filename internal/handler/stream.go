package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/fundquorum/treasury/internal/model"
	"github.com/fundquorum/treasury/internal/service"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 54 * time.Second
)

// StreamMessage is one frame on the snapshot stream
type StreamMessage struct {
	Type     string          `json:"type"`
	Snapshot *model.Snapshot `json:"snapshot,omitempty"`
}

// StreamHandler pushes authoritative snapshots to websocket clients
type StreamHandler struct {
	service  service.TreasuryServiceInterface
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewStreamHandler creates a new stream handler. An empty origins list
// accepts any origin.
func NewStreamHandler(
	svc service.TreasuryServiceInterface,
	origins []string,
	logger *zap.Logger,
) *StreamHandler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &StreamHandler{
		service: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin] || allowed["*"]
			},
		},
		logger: logger,
	}
}

// ServeHTTP handles GET /v1/stream. The optional fund_id query parameter
// limits the stream to one fund.
func (s *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fundID := r.URL.Query().Get("fund_id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	s.logger.Info("Stream client connected",
		zap.String("client_id", clientID),
		zap.String("fund_id", fundID))

	ctx, cancel := context.WithCancel(context.Background())
	snapshots := s.service.Subscribe(ctx)

	go s.readPump(conn, cancel, clientID)
	s.writePump(ctx, conn, snapshots, fundID)

	cancel()
	s.logger.Info("Stream client disconnected", zap.String("client_id", clientID))
}

// readPump only watches for the close frame and pongs
func (s *StreamHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc, clientID string) {
	defer cancel()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("WebSocket error",
					zap.String("client_id", clientID),
					zap.Error(err))
			}
			return
		}
	}
}

func (s *StreamHandler) writePump(ctx context.Context, conn *websocket.Conn, snapshots <-chan *model.Snapshot, fundID string) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case snapshot, ok := <-snapshots:
			if !ok {
				return
			}
			if !matchesFund(snapshot, fundID) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(StreamMessage{Type: "snapshot", Snapshot: snapshot}); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func matchesFund(snapshot *model.Snapshot, fundID string) bool {
	if fundID == "" {
		return true
	}
	switch {
	case snapshot.Fund != nil:
		return snapshot.Fund.ID == fundID
	case snapshot.Request != nil:
		return snapshot.Request.FundID == fundID
	case snapshot.Contribution != nil:
		return snapshot.Contribution.FundID == fundID
	}
	return false
}
