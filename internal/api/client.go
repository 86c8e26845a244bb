// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package api

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/pkbsync/internal/eventbus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 256
)

var clientIDCounter atomic.Uint64

// Client is one websocket subscriber of the event stream. The stream is
// one way: anything the peer sends is read only to notice close frames
// and pongs.
type Client struct {
	id    uint64
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	kinds map[eventbus.Kind]struct{}
}

func newClient(hub *Hub, conn *websocket.Conn, kinds map[eventbus.Kind]struct{}) *Client {
	return &Client{
		id:    clientIDCounter.Add(1),
		hub:   hub,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		kinds: kinds,
	}
}

// wants reports whether the client subscribed to kind. No filter means everything.
func (c *Client) wants(kind eventbus.Kind) bool {
	if len(c.kinds) == 0 {
		return true
	}
	_, ok := c.kinds[kind]
	return ok
}

func (c *Client) start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug().Err(err).Uint64("client", c.id).Msg("unexpected websocket close")
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// Hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
