package proxy

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/snapstash/snapstash/pkg/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SessionResolver reports the state of a user's capture session.
type SessionResolver interface {
	SessionInfo(userID string) models.SessionInfo
}

// Server proxies debug WebSocket connections to the live browser's CDP
// endpoint so the session can be inspected with devtools while it runs.
type Server struct {
	sessions SessionResolver
	log      zerolog.Logger
}

func NewServer(sessions SessionResolver, log zerolog.Logger) *Server {
	return &Server{
		sessions: sessions,
		log:      log,
	}
}

func (s *Server) HandleDebugConnection(w http.ResponseWriter, r *http.Request, userID string) {
	if userID == "" {
		http.Error(w, "missing user identity", http.StatusBadRequest)
		return
	}

	info := s.sessions.SessionInfo(userID)
	if info.ConnectURL == "" {
		http.Error(w, "no live browser for this session", http.StatusNotFound)
		return
	}

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to upgrade debug connection")
		return
	}
	defer clientConn.Close()

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	browserConn, _, err := websocket.DefaultDialer.DialContext(ctx, info.ConnectURL, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("userId", userID).Msg("failed to dial browser devtools")
		clientConn.WriteMessage(websocket.TextMessage, []byte("error connecting to browser"))
		return
	}
	defer browserConn.Close()

	s.log.Info().Str("userId", userID).Msg("debug connection established")

	errChan := make(chan error, 2)
	go func() {
		errChan <- s.proxyMessages(clientConn, browserConn)
	}()
	go func() {
		errChan <- s.proxyMessages(browserConn, clientConn)
	}()

	if err := <-errChan; err != nil && err != io.EOF {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
			s.log.Warn().Err(err).Str("userId", userID).Msg("debug proxy error")
		}
	}

	s.log.Info().Str("userId", userID).Msg("debug connection closed")
}

func (s *Server) proxyMessages(src, dst *websocket.Conn) error {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			return err
		}
		if err := dst.WriteMessage(messageType, message); err != nil {
			return err
		}
	}
}
