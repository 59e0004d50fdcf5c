package websocket

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/meshmeet/meshmeet/pkg/logger"
)

const (
	maxMessageSize = 10 * 1024
	pingTime       = pongTime * 9 / 10
	pongTime       = 60 * time.Second
	writeWait      = 10 * time.Second
)

type (
	// WS is a duplex message-oriented connection over a websocket.
	// Reads and writes are serialized with the reader/writer pumps.
	WS struct {
		conn     deadlinedConn
		send     chan []byte
		once     sync.Once
		done     chan struct{}
		server   bool
		pingPong bool
		log      *logger.Logger

		OnMessage MessageHandler
	}
	MessageHandler func(message []byte, err error)
	Upgrader       struct {
		websocket.Upgrader
	}
)

var DefaultUpgrader = Upgrader{websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	WriteBufferPool: &sync.Pool{},
}}

// NewUpgrader creates an upgrader that accepts only the given origin,
// or any origin when it is *.
func NewUpgrader(origin string) *Upgrader {
	u := Upgrader{websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		WriteBufferPool: &sync.Pool{},
	}}
	if origin == "*" {
		u.CheckOrigin = func(r *http.Request) bool { return true }
	} else if origin != "" {
		u.CheckOrigin = func(r *http.Request) bool { return r.Header.Get("Origin") == origin }
	}
	return &u
}

func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return u.Upgrader.Upgrade(w, r, nil)
}

// NewServerWithConn wraps an already upgraded server-side connection.
func NewServerWithConn(conn *websocket.Conn, log *logger.Logger) (*WS, error) {
	return newSocket(conn, true, log), nil
}

func NewClient(address url.URL, log *logger.Logger) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.Dial(address.String(), nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, false, log), nil
}

func newSocket(conn *websocket.Conn, server bool, log *logger.Logger) *WS {
	return &WS{
		conn:     deadlinedConn{sock: conn, wt: writeWait},
		send:     make(chan []byte, 32),
		done:     make(chan struct{}, 1),
		server:   server,
		pingPong: server,
		log:      log,
		OnMessage: func(message []byte, err error) {
			log.Warn().Msg("unhandled websocket message")
		},
	}
}

func (ws *WS) IsServer() bool                      { return ws.server }
func (ws *WS) SetMessageHandler(fn MessageHandler) { ws.OnMessage = fn }

// Listen starts the reader/writer pumps and returns a channel
// signaled when the connection is fully drained and closed.
func (ws *WS) Listen() chan struct{} {
	var pumps sync.WaitGroup
	pumps.Add(2)
	go ws.writer(&pumps)
	go ws.reader(&pumps)
	go func() {
		pumps.Wait()
		_ = ws.conn.close()
		ws.done <- struct{}{}
	}()
	return ws.done
}

// reader pumps messages from the websocket connection to the OnMessage callback.
func (ws *WS) reader(wg *sync.WaitGroup) {
	defer func() {
		ws.shut()
		wg.Done()
	}()
	ws.conn.setup(func(conn *websocket.Conn) {
		conn.SetReadLimit(maxMessageSize)
		if ws.pingPong {
			_ = conn.SetReadDeadline(time.Now().Add(pongTime))
			conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongTime)) })
		}
	})
	for {
		message, err := ws.conn.read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.log.Debug().Err(err).Msg("read fail")
			}
			break
		}
		ws.OnMessage(message, nil)
	}
}

// writer pumps messages from the send channel to the websocket connection.
func (ws *WS) writer(wg *sync.WaitGroup) {
	defer wg.Done()
	var ping <-chan time.Time
	if ws.pingPong {
		ticker := time.NewTicker(pingTime)
		defer ticker.Stop()
		ping = ticker.C
	}
	for {
		select {
		case message, ok := <-ws.send:
			if !ok {
				_ = ws.conn.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.conn.write(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ping:
			if err := ws.conn.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ws *WS) Write(data []byte) {
	defer func() { recover() }() // send on closed channel during shutdown
	ws.send <- data
}

// Close initiates the connection shutdown; Listen's channel signals completion.
func (ws *WS) Close() {
	_ = ws.conn.write(websocket.CloseMessage, []byte{})
	ws.shut()
}

func (ws *WS) shut() { ws.once.Do(func() { close(ws.send) }) }
