package server

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"formula/internal/connections"
	"formula/internal/dispatch"
	"formula/internal/game"
	"formula/internal/matchmaking"
	"formula/internal/metrics"
	"formula/internal/models"
	"formula/internal/repositories"
	"formula/internal/socket"
)

// Server accepts websocket connections and routes validated frames to the
// matchmaking queue, the game session, or the disconnect handler.
type Server struct {
	registry *connections.Registry
	disp     *dispatch.Dispatcher
	queue    *matchmaking.Queue
	session  *game.Session
	recorder repositories.Recorder
	log      *zap.Logger

	upgrader websocket.Upgrader
}

func New(registry *connections.Registry, disp *dispatch.Dispatcher, queue *matchmaking.Queue, session *game.Session, recorder repositories.Recorder, log *zap.Logger) *Server {
	return &Server{
		registry: registry,
		disp:     disp,
		queue:    queue,
		session:  session,
		recorder: recorder,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// WsHandler upgrades the request and pumps frames until the peer goes away.
func (s *Server) WsHandler(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade error", zap.Error(err))
		return
	}

	conn := socket.New(ws)
	s.log.Info("client connected", zap.String("remote", ws.RemoteAddr().String()))

	for {
		msgType, raw, err := ws.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.HandleFrame(context.Background(), conn, raw)
	}

	s.HandleDisconnect(context.Background(), conn)
}

// HandleFrame validates one inbound frame and dispatches it. A malformed or
// unknown frame is logged and dropped; the connection stays open.
func (s *Server) HandleFrame(ctx context.Context, conn *socket.Conn, raw []byte) {
	msg, err := models.ParseInbound(raw)
	if err != nil {
		s.log.Warn("dropping invalid frame", zap.Error(err))
		return
	}

	// Liveness traffic never rebinds the connection.
	switch m := msg.(type) {
	case models.Pong:
		s.registry.Touch(conn)
		return
	case models.Ping:
		s.disp.Send(conn, models.EventPong, map[string]any{"timestamp": m.Timestamp})
		return
	}

	if userID := inboundUserID(msg); userID != "" {
		rebound := s.registry.Socket(userID) != conn
		s.registry.Register(conn, userID)
		metrics.LiveConnections.Set(float64(s.registry.Len()))
		if rebound {
			s.disp.Send(conn, models.EventConnectionStatus, map[string]any{"status": "connected"})
		}
	}

	switch m := msg.(type) {
	case models.JoinMatchmaking:
		_ = s.queue.Enqueue(ctx, conn, m.UserID)
	case models.Singleplayer:
		s.session.StartSingleplayer(ctx, conn, m.UserID)
	case models.CreateRoom:
		s.session.CreateRoom(ctx, conn, m.UserID)
	case models.JoinRoom:
		s.session.JoinRoom(ctx, conn, m.UserID, m.RoomID)
	case models.SubmitAnswer:
		userID := m.UserID
		if userID == "" {
			userID, _ = s.registry.UserID(conn)
		}
		if userID == "" {
			s.disp.Send(conn, models.EventError, map[string]any{"message": "Unknown user"})
			return
		}
		s.session.SubmitAnswer(ctx, userID, m)
	case models.Reconnect:
		s.session.Reconnect(ctx, conn, m.UserID)
	case models.RegisterUser:
		if _, err := s.recorder.UpsertUser(m.FID, m.DisplayName, m.ProfilePictureURL, m.Username); err != nil {
			s.log.Error("failed to upsert user", zap.String("fid", m.FID), zap.Error(err))
		}
	}
}

// HandleDisconnect orchestrates queue removal, room forfeiture, and registry
// cleanup for a closed connection.
func (s *Server) HandleDisconnect(ctx context.Context, conn *socket.Conn) {
	_ = conn.Close()

	userID, known := s.registry.UserID(conn)
	s.registry.Unregister(conn)
	metrics.LiveConnections.Set(float64(s.registry.Len()))
	if !known {
		return
	}

	s.log.Info("client disconnected", zap.String("userId", userID))
	s.queue.Remove(ctx, userID)
	s.session.Forfeit(ctx, userID)
}

// inboundUserID extracts the identity a message binds the connection to.
func inboundUserID(msg models.Inbound) string {
	switch m := msg.(type) {
	case models.JoinMatchmaking:
		return m.UserID
	case models.Singleplayer:
		return m.UserID
	case models.CreateRoom:
		return m.UserID
	case models.JoinRoom:
		return m.UserID
	case models.SubmitAnswer:
		return m.UserID
	case models.Reconnect:
		return m.UserID
	default:
		return ""
	}
}
