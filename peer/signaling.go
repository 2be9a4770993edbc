package peer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/smenaria2/tnd3/model"
)

const (
	defaultDialTimeout   = 5 * time.Second
	defaultWriteDeadline = 5 * time.Second
)

var (
	ErrSignalingClosed = errors.New("signaling connection is closed")
)

// signalingClient holds one websocket registration with the broker and
// pumps inbound announcements. Events is closed when the socket drops,
// which is the manager's cue to reconnect.
type signalingClient struct {
	logger zerolog.Logger

	url    string
	peerID string

	conn    *websocket.Conn
	writeMx sync.Mutex

	events chan model.Announcement

	closeOnce sync.Once
}

func dialSignaling(ctx context.Context, brokerURL, peerID string, logger *zerolog.Logger) (*signalingClient, error) {
	sc := &signalingClient{
		logger: logger.With().Str("component", "signaling-client").Logger(),
		url:    brokerURL + "/signal/peer/" + peerID,
		peerID: peerID,
		events: make(chan model.Announcement),
	}

	dialer := websocket.Dialer{HandshakeTimeout: defaultDialTimeout}
	conn, _, err := dialer.DialContext(ctx, sc.url, nil)
	if err != nil {
		return nil, err
	}
	sc.conn = conn

	go sc.receive()
	return sc, nil
}

func (sc *signalingClient) receive() {
	defer close(sc.events)
	for {
		_, msg, err := sc.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway) {
				sc.logger.Warn().Err(err).Msg("signaling connection closed")
			} else {
				sc.logger.Debug().Err(err).Msg("signaling receive ended")
			}
			return
		}

		var ann model.Announcement
		if err = json.Unmarshal(msg, &ann); err != nil {
			sc.logger.Error().Err(err).Msg("failed to unmarshall incoming announcement")
			continue
		}
		sc.events <- ann
	}
}

func (sc *signalingClient) send(ann model.Announcement) error {
	ann.SRC = sc.peerID

	b, err := json.Marshal(&ann)
	if err != nil {
		return err
	}

	sc.writeMx.Lock()
	defer sc.writeMx.Unlock()

	if sc.conn == nil {
		return ErrSignalingClosed
	}
	if err = sc.conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
		return err
	}
	return sc.conn.WriteMessage(websocket.TextMessage, b)
}

// close is safe to call multiple times.
func (sc *signalingClient) close() {
	sc.closeOnce.Do(func() {
		sc.writeMx.Lock()
		defer sc.writeMx.Unlock()
		if sc.conn != nil {
			_ = sc.conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline))
			_ = sc.conn.WriteMessage(websocket.CloseMessage, []byte{})
			_ = sc.conn.Close()
		}
	})
}
