package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hackgods/medoswift-realtime/internal/auth"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxFrame   = 4096
)

// inbound is what clients send: {"action":"join","topics":["order:<id>"]}.
type inbound struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// ServeWS upgrades an authenticated request to a websocket and lets the
// client manage its topic membership. Memberships live only as long as the
// connection; a reconnecting client must join again and resync through the
// snapshot endpoints.
func ServeWS(hub *Hub, allowedOrigins []string, buffer int) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := auth.FromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("websocket upgrade failed user=%s err=%v", actor.ID, err)
			return
		}

		client := NewClient(actor.ID, actor.IsAdmin(), buffer)
		client.Conn = conn
		hub.Register(client)
		log.Printf("websocket connected id=%s user=%s", client.ID, actor.ID)

		go writePump(client)
		go readPump(client, hub)
	}
}

func writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func readPump(c *Client, hub *Hub) {
	defer func() {
		hub.Drop(c)
		c.Conn.Close()
		log.Printf("websocket disconnected id=%s user=%s", c.ID, c.UserID)
	}()

	c.Conn.SetReadLimit(maxFrame)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}

		var in inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			log.Printf("invalid websocket payload id=%s err=%v", c.ID, err)
			continue
		}
		handleInbound(hub, c, in)
	}
}

func handleInbound(hub *Hub, c *Client, in inbound) {
	switch in.Action {
	case "join":
		allowed := make([]string, 0, len(in.Topics))
		for _, t := range in.Topics {
			if CanJoin(c.UserID, c.Admin, t) {
				allowed = append(allowed, t)
			} else {
				log.Printf("join rejected id=%s user=%s topic=%s", c.ID, c.UserID, t)
			}
		}
		hub.Join(c, allowed...)
	case "leave":
		hub.Leave(c, in.Topics...)
	default:
		log.Printf("unknown websocket action id=%s action=%q", c.ID, in.Action)
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
