package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/roomcast/transcript-relay/internal/api/middleware"
	"github.com/roomcast/transcript-relay/internal/registry"
)

// WSHandler upgrades viewer connections and hands them to the hub.
type WSHandler struct {
	hub       *registry.Hub
	jwtSecret string
	upgrader  websocket.Upgrader
	log       *logrus.Logger
}

func NewWSHandler(hub *registry.Hub, jwtSecret string, log *logrus.Logger) *WSHandler {
	return &WSHandler{
		hub:       hub,
		jwtSecret: jwtSecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Subscribe handles GET /ws/sessions/:slug?token=. Token validation happens
// after the upgrade so the client receives a proper close frame (4001)
// instead of a failed handshake.
func (h *WSHandler) Subscribe(c *gin.Context) {
	slug := c.Param("slug")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := registry.NewClient(slug, "", conn)

	claims, err := middleware.ParseChannelToken(h.jwtSecret, c.Query("token"))
	if err != nil || claims.SessionSlug != slug {
		h.log.WithFields(logrus.Fields{"session": slug}).Warn("subscriber rejected: bad channel token")
		client.CloseWithCode(registry.CloseCodeUnauthorized, "unauthorized")
		return
	}
	client.UserID = claims.Identity

	conn.SetPongHandler(func(string) error {
		client.MarkPong()
		return nil
	})

	if err := client.Send(registry.NewConnectedFrame(slug)); err != nil {
		client.CloseWithCode(websocket.CloseNormalClosure, "")
		return
	}

	h.hub.Register(slug, client)
	defer h.hub.Unregister(slug, client)

	// Subscribers never send application messages; the read loop exists to
	// surface pongs and detect the peer going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
