// Package session implements the authoritative server session and the
// participant client session on one single-writer event loop.
//
// Every input (connection events, decoded packets, ticks, and calls from
// the surrounding application) is queued on one inbox and handled by one
// goroutine, so handlers mutate lobby and world state without locks.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cory-johannsen/gridchase/internal/network"
	"github.com/cory-johannsen/gridchase/internal/protocol/packet"
	"github.com/cory-johannsen/gridchase/internal/protocol/trigger"
)

const inboxSize = 1024

// errLoopDone ends the loop without reporting an error.
var errLoopDone = errors.New("session loop done")

// roleHandler supplies the role-specific reactions of a core.
type roleHandler interface {
	connected(id int, addr string)
	// disconnected reports whether the session should stop.
	disconnected(id int, cause error) bool
	tick()
	// settle runs after every event.
	settle()
}

// core is the role-parameterized session engine shared by Server and
// Client. It implements network.Sink.
type core struct {
	role     Role
	logger   *zap.Logger
	triggers *trigger.Registry
	conns    *network.Manager
	notes    *notifier
	handler  roleHandler
	ticks    *tickSource
	workers  []func(ctx context.Context) error

	inbox    chan event
	stopped  chan struct{}
	stopOnce sync.Once
}

func newCore(role Role, opts network.Options, logger *zap.Logger) *core {
	c := &core{
		role:     role,
		logger:   logger.With(zap.Stringer("role", role)),
		triggers: trigger.New(),
		notes:    newNotifier(logger),
		inbox:    make(chan event, inboxSize),
		stopped:  make(chan struct{}),
	}
	c.conns = network.NewManager(opts, c, c.logger)
	return c
}

// on binds a handler to a packet name.
func (c *core) on(name string, h trigger.Handler) error {
	if err := c.triggers.Register(name, h); err != nil {
		return fmt.Errorf("registering %s trigger: %w", c.role, err)
	}
	return nil
}

func (c *core) push(ev event) {
	select {
	case c.inbox <- ev:
	case <-c.stopped:
	}
}

// Connected implements network.Sink.
func (c *core) Connected(id int, addr string) { c.push(connectedEvent{id: id, addr: addr}) }

// Received implements network.Sink.
func (c *core) Received(id int, p *packet.Packet) { c.push(packetEvent{id: id, p: p}) }

// Malformed implements network.Sink.
func (c *core) Malformed(id int, err error) { c.push(malformedEvent{id: id, err: err}) }

// Disconnected implements network.Sink.
func (c *core) Disconnected(id int, cause error) {
	c.push(disconnectedEvent{id: id, cause: cause})
}

// call runs fn on the loop and returns its error.
func (c *core) call(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case c.inbox <- callEvent{fn: fn, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrSessionClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrSessionClosed
	}
}

// run drives the loop, the tick source, and any workers until ctx ends or
// the role handler asks to stop.
//
// Postcondition: All connections are closed when run returns.
func (c *core) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.loop(gctx) })
	if c.ticks != nil {
		g.Go(func() error {
			return c.ticks.Run(gctx, func() { c.push(tickEvent{}) })
		})
	}
	for _, w := range c.workers {
		w := w
		g.Go(func() error { return w(gctx) })
	}
	err := g.Wait()
	if errors.Is(err, errLoopDone) {
		return nil
	}
	return err
}

func (c *core) loop(ctx context.Context) error {
	defer func() {
		c.stopOnce.Do(func() { close(c.stopped) })
		c.conns.Shutdown()
		c.logger.Info("session loop stopped")
	}()
	c.logger.Info("session loop started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.inbox:
			if stop := c.handle(ev); stop {
				return errLoopDone
			}
		}
	}
}

func (c *core) handle(ev event) bool {
	stop := false
	switch e := ev.(type) {
	case connectedEvent:
		c.handler.connected(e.id, e.addr)
	case packetEvent:
		if err := c.triggers.Dispatch(e.id, e.p); err != nil {
			c.reject(e.id, e.p.Name(), err)
		}
	case malformedEvent:
		c.logger.Warn("dropping malformed frame",
			zap.Int("conn_id", e.id),
			zap.Error(e.err),
		)
		c.notes.publish(ProtocolError{ConnID: e.id, Err: e.err})
	case disconnectedEvent:
		c.logger.Info("connection closed",
			zap.Int("conn_id", e.id),
			zap.NamedError("cause", e.cause),
		)
		stop = c.handler.disconnected(e.id, e.cause)
		c.notes.publish(Disconnected{ConnID: e.id, Cause: e.cause})
	case tickEvent:
		c.handler.tick()
	case callEvent:
		e.reply <- e.fn()
	}
	c.handler.settle()
	return stop
}

// reject surfaces a protocol error and closes the offending connection.
func (c *core) reject(id int, name string, err error) {
	c.logger.Warn("protocol error, closing connection",
		zap.Int("conn_id", id),
		zap.String("packet", name),
		zap.Error(err),
	)
	c.notes.publish(ProtocolError{ConnID: id, Packet: name, Err: err, Fatal: true})
	_ = c.conns.Close(id, err)
}
