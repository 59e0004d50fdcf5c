package com

import (
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/meshmeet/meshmeet/pkg/api"
	"github.com/meshmeet/meshmeet/pkg/logger"
	"github.com/meshmeet/meshmeet/pkg/network/websocket"
)

type (
	// Connector makes new wire clients out of incoming or outgoing
	// websocket connections.
	Connector struct {
		wu *websocket.Upgrader
	}
	// Client is a message-oriented duplex wire with optional
	// request/response correlation by packet id.
	Client struct {
		conn     *websocket.WS
		queue    map[Uid]*call
		onPacket func(packet api.In)
		mu       sync.Mutex
	}
	call struct {
		done     chan struct{}
		err      error
		response api.In
	}
	Option = func(c *Connector)
)

var (
	errConnClosed = errors.New("connection closed")
	errTimeout    = errors.New("timeout")
)

const callTimeout = 5 * time.Second

func WithOrigin(origin string) Option {
	return func(c *Connector) { c.wu = websocket.NewUpgrader(origin) }
}

func NewConnector(opts ...Option) *Connector {
	c := &Connector{}
	for _, opt := range opts {
		opt(c)
	}
	if c.wu == nil {
		c.wu = &websocket.DefaultUpgrader
	}
	return c
}

func (co *Connector) NewServer(w http.ResponseWriter, r *http.Request, log *logger.Logger) (*Client, error) {
	ws, err := co.wu.Upgrade(w, r)
	if err != nil {
		return nil, err
	}
	return connect(websocket.NewServerWithConn(ws, log))
}

func (co *Connector) NewClient(address url.URL, log *logger.Logger) (*Client, error) {
	return connect(websocket.NewClient(address, log))
}

func connect(conn *websocket.WS, err error) (*Client, error) {
	if err != nil {
		return nil, err
	}
	client := &Client{conn: conn, queue: make(map[Uid]*call, 1)}
	client.conn.SetMessageHandler(client.handleMessage)
	return client, nil
}

func (c *Client) OnPacket(fn func(packet api.In)) { c.mu.Lock(); c.onPacket = fn; c.mu.Unlock() }

func (c *Client) Listen() chan struct{} { return c.conn.Listen() }

func (c *Client) Close() {
	c.conn.Close()
	c.drain(errConnClosed)
}

// Call makes a blocking request and waits for the response
// correlated by the packet id or a timeout.
func (c *Client) Call(type_ api.PT, payload any) ([]byte, error) {
	id := NewUid()
	r, err := json.Marshal(&api.Out{Id: id.String(), T: type_, Payload: payload})
	if err != nil {
		return nil, err
	}
	task := &call{done: make(chan struct{})}
	c.mu.Lock()
	c.queue[id] = task
	c.mu.Unlock()
	c.conn.Write(r)
	select {
	case <-task.done:
	case <-time.After(callTimeout):
		c.pop(id)
		task.err = errTimeout
	}
	return task.response.Payload, task.err
}

// Notify just sends a message and goes further.
func (c *Client) Notify(type_ api.PT, payload any) error {
	return c.SendPacket(&api.Out{T: type_, Payload: payload})
}

// Route replies to the given packet with the same id,
// so the caller side can unblock its pending call.
func (c *Client) Route(p api.In, payload any) error {
	return c.SendPacket(&api.Out{Id: p.Id, T: p.T, Payload: payload})
}

func (c *Client) SendPacket(packet *api.Out) error {
	r, err := json.Marshal(packet)
	if err != nil {
		return err
	}
	c.conn.Write(r)
	return nil
}

func (c *Client) handleMessage(message []byte, err error) {
	if err != nil {
		return
	}
	var res api.In
	if err = json.Unmarshal(message, &res); err != nil {
		return
	}
	// a non-empty id means someone may wait for this response
	if res.Id != "" {
		if task := c.pop(UidFrom(res.Id)); task != nil {
			task.response = res
			close(task.done)
			return
		}
	}
	c.mu.Lock()
	fn := c.onPacket
	c.mu.Unlock()
	if fn != nil {
		fn(res)
	}
}

// pop extracts and removes a task from the queue by its id.
func (c *Client) pop(id Uid) *call {
	c.mu.Lock()
	task := c.queue[id]
	delete(c.queue, id)
	c.mu.Unlock()
	return task
}

// drain cancels all what's left in the task queue.
func (c *Client) drain(err error) {
	c.mu.Lock()
	for id, task := range c.queue {
		if task.err == nil {
			task.err = err
		}
		close(task.done)
		delete(c.queue, id)
	}
	c.mu.Unlock()
}
