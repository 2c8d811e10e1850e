package fanout

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/greybox/hackcore/infrastructure/logging"
)

// writeWait bounds how long a single frame write may take before the
// connection is considered broken.
const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request to a websocket connection, subscribes
// user to the hub, and runs the read and write pumps until the connection
// drops. Call from the api package's /events handler after authenticating
// the caller.
func ServeWS(hub *Hub, log *logging.Logger, w http.ResponseWriter, r *http.Request, user string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error(r.Context(), "websocket upgrade failed", err, nil)
		return
	}

	sub, unsubscribe := hub.Subscribe(user)
	defer unsubscribe()

	conn.SetReadDeadline(time.Now().Add(DropAfter))
	conn.SetPongHandler(func(string) error {
		hub.Touch(sub.ID())
		conn.SetReadDeadline(time.Now().Add(DropAfter))
		return nil
	})

	done := make(chan struct{})
	go readPump(conn, hub, sub, done)
	writePump(conn, sub, done)
}

// readPump discards client frames except pings/pongs/close, which the
// gorilla library already routes to the handlers set above; its only job
// is to detect the connection closing and unblock writePump.
func readPump(conn *websocket.Conn, hub *Hub, sub *Subscription, done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		hub.Touch(sub.ID())
	}
}

func writePump(conn *websocket.Conn, sub *Subscription, done chan struct{}) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case <-done:
			return
		case <-sub.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			frame := struct {
				Type string      `json:"type"`
				Data interface{} `json:"data"`
			}{Type: string(ev.Kind), Data: ev}
			payload, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
