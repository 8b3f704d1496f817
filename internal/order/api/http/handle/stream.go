package handle

import (
	"net/http"
	"time"

	"restaurant-ops/internal/fanout"
	"restaurant-ops/internal/xpkg/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// closeLagging tells a dropped consumer to re-fetch state before resubscribing.
const closeLagging = 4000

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type StreamHandler struct {
	hub   *fanout.Hub
	mylog logger.Logger
}

func NewStreamHandler(hub *fanout.Hub, mylog logger.Logger) *StreamHandler {
	return &StreamHandler{hub: hub, mylog: mylog}
}

// Subscribe upgrades to a websocket and streams the store's events until either side goes away.
func (sh *StreamHandler) Subscribe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		storeID := mux.Vars(r)["storeId"]
		mylog := sh.mylog.Action("stream").With("store_id", storeID, "remote", r.RemoteAddr)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			mylog.Error("Websocket upgrade failed", err)
			return
		}
		defer conn.Close()

		sub := sh.hub.Subscribe(storeID)
		defer sub.Close()
		mylog.Info("Consumer subscribed")

		gone := make(chan struct{})
		go readPump(conn, gone)

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-gone:
				mylog.Info("Consumer disconnected")
				return
			case <-r.Context().Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					mylog.Warn("Consumer dropped for lagging")
					msg := websocket.FormatCloseMessage(closeLagging, "lagging, re-fetch state and resubscribe")
					_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(ev); err != nil {
					mylog.Warn("Write failed, closing stream", "error", err.Error())
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
}

// readPump discards client frames and notices when the peer goes away.
func readPump(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
