package notify

import (
	"log"
	"net/http"
	"slices"
	"time"

	"emporium/apperr"
	"emporium/middleware"
	"emporium/models"
	"emporium/utils"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type TokenParser interface {
	Parse(token string) (*middleware.Claims, error)
}

// NewUpgrader accepts connections from the listed origins. An empty list
// allows any origin.
func NewUpgrader(origins ...string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(origins) == 0 || origin == "" || slices.Contains(origins, origin)
		},
	}
}

// WebSocketHandler serves GET /ws/orders?token=<jwt>. Browsers cannot set
// an Authorization header on the upgrade request, so the token travels in
// the query string.
func WebSocketHandler(hub *Hub, tokens TokenParser, upgrader *websocket.Upgrader) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		claims, err := tokens.Parse(r.URL.Query().Get("token"))
		if err != nil {
			utils.RespondWithError(w, apperr.Wrap(apperr.KindUnauthorized, "Invalid token", err))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade:", err)
			return
		}

		rooms := []string{claims.UserID}
		if claims.Role == models.RoleAdmin {
			rooms = append(rooms, AdminRoom)
		}
		client := &Client{
			Send:   make(chan []byte, 256),
			Rooms:  rooms,
			UserID: claims.UserID,
		}

		hub.Register(client)
		go writePump(conn, client)
		go readPump(conn, client, hub)
	}
}

func writePump(conn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// readPump only drains control frames; the stream is server to client.
func readPump(conn *websocket.Conn, c *Client, hub *Hub) {
	defer func() {
		hub.Unregister(c)
		conn.Close()
	}()

	conn.SetReadLimit(512)
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
