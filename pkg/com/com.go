package com

import (
	"github.com/meshmeet/meshmeet/pkg/api"
	"github.com/meshmeet/meshmeet/pkg/logger"
)

// SocketClient is a tagged wire client with its own logger
// which shows x -> y message directions.
type SocketClient struct {
	id   Uid
	wire *Client
	log  *logger.Logger
}

func New(wire *Client, tag string, id Uid, log *logger.Logger) SocketClient {
	if id.IsNil() {
		id = NewUid()
	}
	dirLog := log.Extend(log.With().Str("cid", id.Short()).Str("tag", tag))
	dirLog.Debug().Msg("Connect")
	return SocketClient{id: id, wire: wire, log: dirLog}
}

func (c *SocketClient) OnPacket(fn func(in api.In) error) {
	c.wire.OnPacket(func(p api.In) {
		c.log.Debug().Msgf("← %v", p.T)
		if err := fn(p); err != nil {
			c.log.Error().Err(err).Msgf("packet %v fail", p.T)
		}
	})
}

// Call makes a blocking call.
func (c *SocketClient) Call(t api.PT, data any) ([]byte, error) {
	c.log.Debug().Msgf("→ᵇ %v", t)
	return c.wire.Call(t, data)
}

// Notify just sends a message and goes further.
func (c *SocketClient) Notify(t api.PT, data any) {
	c.log.Debug().Msgf("→ %v", t)
	_ = c.wire.Notify(t, data)
}

// Route replies to the packet with the same correlation id.
func (c *SocketClient) Route(in api.In, payload any) {
	c.log.Debug().Msgf("→ %v", in.T)
	_ = c.wire.Route(in, payload)
}

func (c *SocketClient) Disconnect() {
	c.wire.Close()
	c.log.Debug().Msg("Close")
}

func (c *SocketClient) Id() Uid               { return c.id }
func (c *SocketClient) Log() *logger.Logger   { return c.log }
func (c *SocketClient) Listen() chan struct{} { return c.wire.Listen() }
func (c *SocketClient) String() string        { return c.id.String() }
