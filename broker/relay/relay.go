package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/smenaria2/tnd3/model"
)

const (
	defaultFwdTimeout = time.Second
)

// Relay forwards dst-addressed signaling announcements between
// registered peers. It never inspects payloads.
type Relay struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	wires  map[string]model.Wire
}

func New(logger *zerolog.Logger) *Relay {
	return &Relay{
		logger: logger.With().Str("component", "relay").Logger(),
		mx:     &sync.RWMutex{},
		wires:  make(map[string]model.Wire),
	}
}

func (rl *Relay) Disconnect(peerID string) error {
	rl.mx.Lock()
	defer func() {
		rl.mx.Unlock()
		rl.logger.Debug().
			Str("peerID", peerID).
			Msg("peer disconnected")
	}()

	delete(rl.wires, peerID)
	return nil
}

func (rl *Relay) Connect(ctx context.Context, peerID string, wire model.Wire) error {
	rl.mx.Lock()
	defer func() {
		rl.mx.Unlock()
		rl.logger.Debug().
			Str("peerID", peerID).
			Msg("peer connected")
		go rl.forwardAnnouncements(ctx, peerID, wire.RX)
	}()

	rl.wires[peerID] = wire
	return nil
}

func (rl *Relay) forwardAnnouncements(ctx context.Context, peerID string, rx <-chan model.Announcement) {
fwdLoop:
	for {
		select {
		case <-ctx.Done():
			break fwdLoop
		case ann := <-rx:
			switch {
			case ann.SRC == "":
				rl.logger.Error().
					Str("peerID", peerID).
					Msg("announcement with empty src")
			case ann.DST == "":
				rl.logger.Error().
					Str("peerID", peerID).
					Str("src", ann.SRC).
					Msg("announcement with empty dst")
			default:
				if !rl.forward(ctx, ann) {
					rl.logger.Debug().
						Str("peerID", peerID).
						Str("src", ann.SRC).
						Str("dst", ann.DST).
						Msg("incoming announce was dropped, dst not reachable")
					rl.notifyUnavailable(ctx, ann)
				}
			}
		}
	}
}

// notifyUnavailable answers the sender with peer-unavailable so clients
// can run their redial loop without waiting on a timeout.
func (rl *Relay) notifyUnavailable(ctx context.Context, ann model.Announcement) {
	payload, err := json.Marshal(struct {
		Peer string `json:"peer"`
	}{Peer: ann.DST})
	if err != nil {
		return
	}
	reply := model.Announcement{
		DST:     ann.SRC,
		Type:    model.AnnouncementTypePeerUnavailable,
		Payload: payload,
	}
	rl.forward(ctx, reply)
}

func (rl *Relay) forward(ctx context.Context, ann model.Announcement) bool {
	logger := rl.logger.With().
		Str("type", ann.Type).
		Str("src", ann.SRC).
		Str("dst", ann.DST).Logger()

	rl.mx.RLock()
	wire, ok := rl.wires[ann.DST]
	rl.mx.RUnlock()

	if !ok {
		logger.Debug().Msg("cannot forward, dst not found")
		return false
	}

	sent, _ := send(ctx, ann, wire.TX, &logger)
	return sent
}

func send(ctx context.Context, ann model.Announcement, tx chan<- model.Announcement, logger *zerolog.Logger) (bool, bool) {
	var sent, canceled bool
	tCh := time.NewTimer(defaultFwdTimeout)
	select {
	case <-ctx.Done():
		canceled = true
	case <-tCh.C:
		logger.Error().Msg("dead endpoint")
	case tx <- ann:
		logger.Debug().Msg("announce is forwarded")
		sent = true
	}
	tCh.Stop()
	return sent, canceled
}
