package common

import (
	"context"
	"sync"

	"bidibridge/log"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"gopkg.in/guregu/null.v3"
)

// ClientConn is one connected BiDi client. Incoming commands are parsed,
// dispatched to the bridge's processors and answered; subscribed events
// are pushed through a dedicated writer goroutine so that delivery to the
// client is FIFO and never blocks the rest of the bridge.
type ClientConn struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *log.Logger
	bridge *Bridge
	conn   *websocket.Conn

	writeCh   chan any
	done      chan struct{}
	closeOnce sync.Once
}

var _ Subscriber = &ClientConn{}

// NewClientConn starts serving a freshly upgraded client WebSocket.
func NewClientConn(ctx context.Context, bridge *Bridge, conn *websocket.Conn, logger *log.Logger) *ClientConn {
	cctx, cancel := context.WithCancel(ctx)
	c := &ClientConn{
		id:      newID("client"),
		ctx:     cctx,
		cancel:  cancel,
		logger:  logger,
		bridge:  bridge,
		conn:    conn,
		writeCh: make(chan any, 64),
		done:    make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	return c
}

// ID implements Subscriber.
func (c *ClientConn) ID() string { return c.id }

// Done returns a channel closed when the client is gone.
func (c *ClientConn) Done() <-chan struct{} { return c.done }

// NotifyEvent implements Subscriber. It enqueues the event for the writer
// goroutine; events for a closed client are dropped.
func (c *ClientConn) NotifyEvent(method string, params any, chref ChannelRef) {
	msg := newEventMessage(method, params, chref)
	select {
	case c.writeCh <- msg:
	case <-c.done:
	}
}

func (c *ClientConn) enqueue(msg any) {
	select {
	case c.writeCh <- msg:
	case <-c.done:
	}
}

func (c *ClientConn) close() {
	c.closeOnce.Do(func() {
		c.logger.Debugf("ClientConn:close", "client:%s", c.id)
		c.bridge.subs.UnsubscribeAll(c)
		c.cancel()
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *ClientConn) readLoop() {
	defer c.close()
	for {
		_, buf, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.logger.Tracef("bidi:recv", "client:%s <- %s", c.id, buf)

		cmd, id, err := parseCommand(buf)
		if err != nil {
			c.enqueue(newErrorResponse(id, channelRefFromRaw(buf), err))
			continue
		}
		chref, err := cmd.channelRef()
		if err != nil {
			c.enqueue(newErrorResponse(null.IntFrom(cmd.ID), ChannelRef{}, err))
			continue
		}

		// Commands run concurrently; responses are ordered by completion.
		go c.handle(cmd, chref)
	}
}

func (c *ClientConn) handle(cmd *Command, chref ChannelRef) {
	handler, ok := c.bridge.commands[cmd.Method]
	if !ok {
		err := bidiError(ErrorCodeUnknownCommand, "unknown command %q", cmd.Method)
		c.enqueue(newErrorResponse(null.IntFrom(cmd.ID), chref, err))
		return
	}
	result, err := handler(c.ctx, c, cmd)
	if err != nil {
		c.logger.Debugf("ClientConn:handle", "client:%s method:%q err:%v", c.id, cmd.Method, err)
		c.enqueue(newErrorResponse(null.IntFrom(cmd.ID), chref, err))
		return
	}
	c.enqueue(newCommandResponse(cmd, chref, result))
}

func (c *ClientConn) writeLoop() {
	for {
		select {
		case msg := <-c.writeCh:
			if err := c.conn.WriteJSON(msg); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// channelRefFromRaw best-effort extracts a channel from bytes that failed
// command parsing, so even the error response echoes the channel.
func channelRefFromRaw(buf []byte) ChannelRef {
	if !gjson.ValidBytes(buf) {
		return ChannelRef{}
	}
	goog := gjson.GetBytes(buf, "goog:channel")
	legacy := gjson.GetBytes(buf, "channel")
	switch {
	case goog.Type == gjson.String && goog.Str != "" && legacy.Str == "":
		return ChannelRef{Kind: channelGoog, Value: goog.Str}
	case legacy.Type == gjson.String && legacy.Str != "" && goog.Str == "":
		return ChannelRef{Kind: channelLegacy, Value: legacy.Str}
	}
	return ChannelRef{}
}
