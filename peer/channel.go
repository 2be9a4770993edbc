package peer

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/smenaria2/tnd3/model"
)

const loopbackDelay = 50 * time.Millisecond

// QueueStore persists not-yet-delivered application messages across tab
// reloads. Append order is the delivery order on the next flush.
type QueueStore interface {
	AppendQueued(model.Envelope) error
	LoadQueue() ([]model.Envelope, error)
	ClearQueue() error
}

// Sender delivers application messages to the remote peer. The manager
// routes its outbound traffic through one: the durable channel normally,
// the loopback echo in sandbox mode.
type Sender interface {
	Send(model.Envelope) error
}

// channel is the single ordered reliable pipe for application messages.
// While no transport is bound, sends go to the queue store; on bind it
// announces identity, flushes the queue once, then passes traffic
// through directly.
type channel struct {
	logger zerolog.Logger

	mu       sync.Mutex
	tx       func([]byte) error
	open     bool
	queue    QueueStore
	identity model.PlayerInfo
	handler  func(model.Envelope)
}

func newChannel(queue QueueStore, identity model.PlayerInfo, handler func(model.Envelope), logger *zerolog.Logger) *channel {
	return &channel{
		logger:   logger.With().Str("component", "channel").Logger(),
		queue:    queue,
		identity: identity,
		handler:  handler,
	}
}

// Send transmits immediately when open, otherwise enqueues durably.
func (c *channel) Send(env model.Envelope) error {
	c.mu.Lock()
	open, tx := c.open, c.tx
	c.mu.Unlock()

	if !open {
		if err := c.queue.AppendQueued(env); err != nil {
			c.logger.Error().Err(err).Msg("failed to enqueue message")
			return err
		}
		c.logger.Debug().Str("type", string(env.Type)).Msg("channel closed, message queued")
		return nil
	}

	b, err := json.Marshal(&env)
	if err != nil {
		return err
	}
	return tx(b)
}

// bind attaches an open transport. The identity handshake always goes
// out before any queued traffic, so the remote learns who we are first.
// The queue is flushed at most once per open event; a failed flush
// leaves delivery to the next open.
func (c *channel) bind(tx func([]byte) error) {
	c.mu.Lock()
	c.tx = tx
	c.open = true
	c.mu.Unlock()

	info, err := model.NewEnvelope(model.MsgPlayerInfo, model.PlayerInfo{
		Name: c.identity.Name,
		Role: c.identity.Role,
	})
	if err == nil {
		if err = c.Send(info); err != nil {
			c.logger.Error().Err(err).Msg("identity handshake failed")
		}
	}

	c.flush()
}

func (c *channel) flush() {
	queued, err := c.queue.LoadQueue()
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to load queued messages")
		return
	}
	if len(queued) == 0 {
		return
	}

	for _, env := range queued {
		if err = c.Send(env); err != nil {
			c.logger.Error().Err(err).Msg("failed to flush queued message")
			return
		}
	}
	if err = c.queue.ClearQueue(); err != nil {
		c.logger.Error().Err(err).Msg("failed to clear queue")
		return
	}
	c.logger.Debug().Int("count", len(queued)).Msg("queued messages flushed")
}

func (c *channel) setClosed() {
	c.mu.Lock()
	c.open = false
	c.tx = nil
	c.mu.Unlock()
}

func (c *channel) isOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// handleRaw decodes an inbound frame and hands it to the app handler.
func (c *channel) handleRaw(b []byte) {
	var env model.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		c.logger.Error().Err(err).Msg("failed to unmarshall incoming message")
		return
	}
	c.handler(env)
}

// loopback echoes every send back to the local handler after a small
// delay, simulating a two-party session with a single local actor.
type loopback struct {
	handler func(model.Envelope)
}

func newLoopback(handler func(model.Envelope)) *loopback {
	return &loopback{handler: handler}
}

func (l *loopback) Send(env model.Envelope) error {
	time.AfterFunc(loopbackDelay, func() {
		l.handler(env)
	})
	return nil
}
