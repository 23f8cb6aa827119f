package realtime

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"genstudio/internal/events"
	"genstudio/internal/middleware"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// HandlerOptions configures the websocket endpoint.
type HandlerOptions struct {
	JWTSecret      string
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// Handler upgrades authenticated requests to websocket connections joined to
// the caller's user topic.
type Handler struct {
	hub      *Hub
	secret   string
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler builds the websocket endpoint for hub.
func NewHandler(hub *Hub, opts HandlerOptions) *Handler {
	allowed := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, origin := range opts.AllowedOrigins {
		allowed[origin] = struct{}{}
	}
	_, allowAll := allowed["*"]
	return &Handler{
		hub:    hub,
		secret: opts.JWTSecret,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowAll {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.Authenticate(h.secret, r)
	if err != nil {
		middleware.WriteError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Debug().Err(err).Msg("realtime: upgrade failed")
		return
	}

	client := h.hub.Register(uuid.NewString(), events.UserTopic(claims.Sub))
	logger := h.logger.With().Str("client_id", client.id).Str("user_id", claims.Sub).Logger()
	logger.Debug().Msg("realtime: client connected")

	go h.writePump(conn, client, logger)
	h.readPump(conn, client)
	logger.Debug().Msg("realtime: client disconnected")
}

// readPump drains client frames so control messages are processed, and
// unregisters the client when the connection ends.
func (h *Handler) readPump(conn *websocket.Conn, client *Client) {
	defer func() {
		h.hub.Unregister(client)
		_ = conn.Close()
	}()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, client *Client, logger zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case frame, ok := <-client.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Debug().Err(err).Msg("realtime: write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
