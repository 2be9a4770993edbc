package peer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/smenaria2/tnd3/model"
)

// Status is the signaling-layer lifecycle state.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusInitializing Status = "initializing"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// ConnectionStatus tracks the logical data channel, independent of the
// signaling layer. The signaling layer can be connected while no data
// channel exists yet.
type ConnectionStatus string

const (
	ConnConnected    ConnectionStatus = "connected"
	ConnDisconnected ConnectionStatus = "disconnected"
	ConnReconnecting ConnectionStatus = "reconnecting"
)

const (
	maxIDTakenRetries       = 5
	idTakenRetryDelay       = 2 * time.Second
	hostRedialInterval      = 3 * time.Second
	channelRedialDelay      = 2 * time.Second
	signalingReconnectDelay = time.Second
	fullRestartDelay        = 2 * time.Second

	dataChannelLabel = "game"
)

var (
	// ErrSessionUnavailable is terminal: the host rendezvous id stayed
	// contended through the whole retry budget. Requires manual retry.
	ErrSessionUnavailable = errors.New("game session active in another tab or id stuck")

	ErrManagerClosed = errors.New("peer manager is closed")
)

type Config struct {
	Role       model.Role
	GameCode   string
	PlayerName string

	// BrokerURL is the signaling broker base, e.g. ws://localhost:8888.
	BrokerURL  string
	ICEServers []webrtc.ICEServer

	Queue  QueueStore
	Logger *zerolog.Logger

	// Handler receives every inbound application message.
	Handler func(model.Envelope)

	// OnStatus observes lifecycle changes. Never called with a held lock.
	OnStatus func(Status, ConnectionStatus, string)

	// OnRemoteTrack receives media tracks from the call subsystem's
	// peer connection.
	OnRemoteTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)

	// Loopback bypasses the network entirely; sends echo back to
	// Handler after a fixed delay. For solo exploration.
	Loopback bool
}

// Manager owns the signaling registration and the logical two-party
// session built over it. All inbound signaling flows through a single
// dispatch function; reconnect behavior hangs off named timers so a
// manual retry can cancel any pending backoff.
type Manager struct {
	cfg    Config
	logger zerolog.Logger

	mu         sync.Mutex
	ctx        context.Context
	status     Status
	connStatus ConnectionStatus
	errMsg     string
	closed     bool

	peerID   string
	hostID   string
	remoteID string

	sc *signalingClient
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	channel *channel
	out     Sender
	media   *mediaLink

	idTakenRetries int
	timers         map[string]*time.Timer
}

func NewManager(cfg Config) *Manager {
	m := &Manager{
		cfg:        cfg,
		logger:     cfg.Logger.With().Str("component", "peer-manager").Str("role", string(cfg.Role)).Logger(),
		status:     StatusIdle,
		connStatus: ConnDisconnected,
		hostID:     model.HostPeerID(cfg.GameCode),
		timers:     make(map[string]*time.Timer),
	}
	m.channel = newChannel(cfg.Queue, model.PlayerInfo{Name: cfg.PlayerName, Role: cfg.Role}, cfg.Handler, cfg.Logger)
	m.out = m.channel
	if cfg.Loopback {
		m.out = newLoopback(cfg.Handler)
	}
	return m
}

// Connect runs session establishment from identity resolution. For the
// host it registers the deterministic rendezvous id and waits for an
// inbound channel; the guest registers a disposable id and dials the
// host as soon as the broker acknowledges it.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.ctx = ctx
	m.mu.Unlock()

	if m.cfg.Loopback {
		m.setStatus(StatusConnected, ConnConnected, "")
		return nil
	}

	return m.initSession(ctx)
}

func (m *Manager) initSession(ctx context.Context) error {
	m.setStatus(StatusInitializing, ConnReconnecting, "")

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.sc != nil {
		m.sc.close()
		m.sc = nil
	}
	// Guest ids are disposable: every attempt mints a fresh one.
	if m.cfg.Role == model.RoleHost {
		m.peerID = m.hostID
	} else {
		m.peerID = model.GuestPeerID(m.cfg.GameCode)
	}
	peerID := m.peerID
	m.mu.Unlock()

	m.logger.Info().Str("peerID", peerID).Msg("registering with broker")

	sc, err := dialSignaling(ctx, m.cfg.BrokerURL, peerID, &m.logger)
	if err != nil {
		m.logger.Warn().Err(err).Msg("broker dial failed, scheduling restart")
		m.setStatus(StatusInitializing, ConnReconnecting, "")
		m.schedule("restart", fullRestartDelay, func() { _ = m.initSession(ctx) })
		return nil
	}

	m.mu.Lock()
	m.sc = sc
	m.mu.Unlock()

	go m.eventLoop(sc)
	return nil
}

// eventLoop pumps broker announcements into dispatch until the socket
// drops. A closed events channel means the signaling layer went away.
func (m *Manager) eventLoop(sc *signalingClient) {
	for ann := range sc.events {
		m.dispatch(ann)
	}

	m.mu.Lock()
	stale := m.sc != sc || m.closed
	m.mu.Unlock()
	if !stale {
		m.handleSignalingDown()
	}
}

// dispatch is the single entry point for every signaling event.
func (m *Manager) dispatch(ann model.Announcement) {
	m.logger.Debug().Str("type", ann.Type).Str("src", ann.SRC).Msg("signaling event")

	switch ann.Type {
	case model.AnnouncementTypeOpen:
		m.mu.Lock()
		m.idTakenRetries = 0
		m.mu.Unlock()
		m.setStatus(StatusConnected, m.connectionStatus(), "")
		if m.cfg.Role == model.RoleGuest {
			m.dialHost()
		}

	case model.AnnouncementTypeIDTaken:
		m.handleIDTaken()

	case model.AnnouncementTypePeerUnavailable:
		if m.cfg.Role == model.RoleGuest {
			m.logger.Info().Msg("host unavailable, will retry connecting")
			m.setStatus(m.signalingStatus(), ConnReconnecting, "")
			m.schedule("redial", hostRedialInterval, m.dialHost)
		}

	case model.AnnouncementTypeOffer:
		m.handleOffer(ann)

	case model.AnnouncementTypeAnswer:
		m.handleAnswer(ann)

	case model.AnnouncementTypeCandidate:
		m.handleCandidate(ann)

	case model.AnnouncementTypeMediaOffer, model.AnnouncementTypeMediaAnswer, model.AnnouncementTypeMediaCandidate:
		m.dispatchMedia(ann)

	case model.AnnouncementTypeLeft:
		m.mu.Lock()
		known := m.remoteID != "" && m.remoteID == ann.SRC
		m.mu.Unlock()
		if known {
			m.logger.Info().Str("src", ann.SRC).Msg("remote peer left")
			m.handleChannelDown()
		}

	default:
		m.logger.Debug().Str("type", ann.Type).Msg("ignoring unknown announcement")
	}
}

// handleIDTaken covers the host collision path: an already-registered
// rendezvous id is assumed to be a zombie from a previous tab, so we
// drop the signaling object and retry registration on a fixed delay,
// bounded by the retry budget.
func (m *Manager) handleIDTaken() {
	m.mu.Lock()
	ctx := m.ctx
	if m.cfg.Role == model.RoleGuest {
		// Random-suffix collision, practically impossible; mint a new id.
		m.mu.Unlock()
		m.schedule("restart", 0, func() { _ = m.initSession(ctx) })
		return
	}

	m.idTakenRetries++
	retries := m.idTakenRetries
	if m.sc != nil {
		m.sc.close()
		m.sc = nil
	}
	m.mu.Unlock()

	if retries <= maxIDTakenRetries {
		m.logger.Info().
			Int("attempt", retries).
			Int("budget", maxIDTakenRetries).
			Msg("host id unavailable, retrying registration")
		m.setStatus(StatusInitializing, ConnReconnecting, "")
		m.schedule("restart", idTakenRetryDelay, func() { _ = m.initSession(ctx) })
		return
	}

	m.logger.Error().Msg("host id retry budget exhausted")
	m.setStatus(StatusError, ConnDisconnected, ErrSessionUnavailable.Error())
}

// handleSignalingDown reacts to a dropped broker socket: in-place
// reconnect when possible, full restart otherwise.
func (m *Manager) handleSignalingDown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	m.sc = nil
	m.mu.Unlock()

	m.logger.Warn().Msg("disconnected from signaling broker")
	m.setStatus(m.signalingStatus(), ConnReconnecting, "")

	delay := fullRestartDelay
	if m.cfg.Role == model.RoleHost {
		// The host must hold the rendezvous id, reclaim it quickly.
		delay = signalingReconnectDelay
	}
	m.schedule("restart", delay, func() { _ = m.initSession(ctx) })
}

// dialHost starts (or restarts) data channel negotiation toward the
// deterministic host id. No-op while a channel is already open.
func (m *Manager) dialHost() {
	m.mu.Lock()
	if m.closed || m.sc == nil || m.channel.isOpen() {
		m.mu.Unlock()
		return
	}
	sc := m.sc
	hostID := m.hostID
	m.mu.Unlock()

	m.logger.Info().Str("hostID", hostID).Msg("dialing host")

	pc, err := m.newPeerConnection(hostID)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to create peer connection")
		return
	}

	ordered := true
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to create data channel")
		_ = pc.Close()
		return
	}
	m.bindDataChannel(dc, hostID)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to create offer")
		_ = pc.Close()
		return
	}
	if err = pc.SetLocalDescription(offer); err != nil {
		m.logger.Error().Err(err).Msg("failed to set local description")
		_ = pc.Close()
		return
	}

	m.mu.Lock()
	if m.pc != nil {
		_ = m.pc.Close()
	}
	m.pc = pc
	m.remoteID = hostID
	m.mu.Unlock()

	if err = sc.send(model.Announcement{
		DST:     hostID,
		Type:    model.AnnouncementTypeOffer,
		Payload: marshalSignal(model.Signal{SDP: offer.SDP, SDPType: offer.Type.String()}),
	}); err != nil {
		m.logger.Error().Err(err).Msg("failed to send offer")
	}
}

// handleOffer is the host side of negotiation. The game is strictly
// two-party: a concurrent offer from a different remote id while a
// channel is open is refused without touching the existing session.
func (m *Manager) handleOffer(ann model.Announcement) {
	if m.cfg.Role != model.RoleHost {
		return
	}

	m.mu.Lock()
	if m.channel.isOpen() && m.remoteID != "" && m.remoteID != ann.SRC {
		m.mu.Unlock()
		m.logger.Warn().Str("src", ann.SRC).Msg("refusing second inbound connection")
		return
	}
	sc := m.sc
	m.mu.Unlock()
	if sc == nil {
		return
	}

	var sig model.Signal
	if err := json.Unmarshal(ann.Payload, &sig); err != nil {
		m.logger.Error().Err(err).Msg("malformed offer payload")
		return
	}

	pc, err := m.newPeerConnection(ann.SRC)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to create peer connection")
		return
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		m.bindDataChannel(dc, ann.SRC)
	})

	if err = pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(sig.SDPType),
		SDP:  sig.SDP,
	}); err != nil {
		m.logger.Error().Err(err).Msg("failed to set remote description")
		_ = pc.Close()
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to create answer")
		_ = pc.Close()
		return
	}
	if err = pc.SetLocalDescription(answer); err != nil {
		m.logger.Error().Err(err).Msg("failed to set local description")
		_ = pc.Close()
		return
	}

	m.mu.Lock()
	if m.pc != nil {
		_ = m.pc.Close()
	}
	m.pc = pc
	m.remoteID = ann.SRC
	m.mu.Unlock()

	if err = sc.send(model.Announcement{
		DST:     ann.SRC,
		Type:    model.AnnouncementTypeAnswer,
		Payload: marshalSignal(model.Signal{SDP: answer.SDP, SDPType: answer.Type.String()}),
	}); err != nil {
		m.logger.Error().Err(err).Msg("failed to send answer")
	}
}

func (m *Manager) handleAnswer(ann model.Announcement) {
	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()
	if pc == nil {
		return
	}

	var sig model.Signal
	if err := json.Unmarshal(ann.Payload, &sig); err != nil {
		m.logger.Error().Err(err).Msg("malformed answer payload")
		return
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(sig.SDPType),
		SDP:  sig.SDP,
	}); err != nil {
		m.logger.Error().Err(err).Msg("failed to set remote description")
	}
}

func (m *Manager) handleCandidate(ann model.Announcement) {
	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()
	if pc == nil {
		return
	}

	var sig model.Signal
	if err := json.Unmarshal(ann.Payload, &sig); err != nil {
		m.logger.Error().Err(err).Msg("malformed candidate payload")
		return
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(sig.Candidate, &init); err != nil {
		m.logger.Error().Err(err).Msg("malformed ice candidate")
		return
	}
	if err := pc.AddICECandidate(init); err != nil {
		m.logger.Error().Err(err).Msg("failed to add ice candidate")
	}
}

func (m *Manager) newPeerConnection(remoteID string) (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: m.cfg.ICEServers})
	if err != nil {
		return nil, err
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		b, mErr := json.Marshal(c.ToJSON())
		if mErr != nil {
			return
		}
		m.mu.Lock()
		sc := m.sc
		m.mu.Unlock()
		if sc == nil {
			return
		}
		if sErr := sc.send(model.Announcement{
			DST:     remoteID,
			Type:    model.AnnouncementTypeCandidate,
			Payload: marshalSignal(model.Signal{Candidate: b}),
		}); sErr != nil {
			m.logger.Error().Err(sErr).Msg("failed to send ice candidate")
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.logger.Debug().Str("state", state.String()).Msg("peer connection state")
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			m.handleChannelDown()
		default:
		}
	})

	return pc, nil
}

func (m *Manager) bindDataChannel(dc *webrtc.DataChannel, remoteID string) {
	m.mu.Lock()
	m.dc = dc
	m.remoteID = remoteID
	m.mu.Unlock()

	dc.OnOpen(func() {
		m.logger.Info().Str("remoteID", remoteID).Msg("data channel established")
		m.mu.Lock()
		m.idTakenRetries = 0
		m.mu.Unlock()
		m.channel.bind(dc.Send)
		m.setStatus(m.signalingStatus(), ConnConnected, "")
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		m.channel.handleRaw(msg.Data)
	})

	dc.OnClose(func() {
		m.logger.Info().Msg("data channel closed")
		m.handleChannelDown()
	})
}

// handleChannelDown tears the broken data channel down and, on the
// guest side, schedules a redial toward the host.
func (m *Manager) handleChannelDown() {
	m.channel.setClosed()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.pc != nil {
		_ = m.pc.Close()
		m.pc = nil
	}
	m.dc = nil
	m.remoteID = ""
	m.mu.Unlock()

	m.setStatus(m.signalingStatus(), ConnDisconnected, "")

	if m.cfg.Role == model.RoleGuest {
		m.schedule("redial", channelRedialDelay, m.dialHost)
	}
}

// Send delivers an application message, queueing it when the channel is
// not open. In loopback mode the message echoes back locally instead.
func (m *Manager) Send(env model.Envelope) error {
	return m.out.Send(env)
}

// Retry fully resets error state and re-runs session establishment.
// Cancels any in-flight reconnect backoff.
func (m *Manager) Retry() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	m.idTakenRetries = 0
	m.errMsg = ""
	m.mu.Unlock()

	m.cancelTimers()
	m.teardownLink()
	_ = m.initSession(ctx)
}

// Close releases the signaling object and the channel. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sc, remoteID := m.sc, m.remoteID
	m.mu.Unlock()

	// Tell the remote side we are gone so it tears down immediately
	// instead of waiting for ICE failure detection.
	if sc != nil && remoteID != "" {
		_ = sc.send(model.Announcement{DST: remoteID, Type: model.AnnouncementTypeLeft})
	}

	m.cancelTimers()
	m.teardownLink()
	if m.cfg.Queue != nil {
		_ = m.cfg.Queue.ClearQueue()
	}
	m.setStatus(StatusIdle, ConnDisconnected, "")
}

func (m *Manager) teardownLink() {
	m.channel.setClosed()
	m.closeMedia()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dc != nil {
		_ = m.dc.Close()
		m.dc = nil
	}
	if m.pc != nil {
		_ = m.pc.Close()
		m.pc = nil
	}
	if m.sc != nil {
		m.sc.close()
		m.sc = nil
	}
	m.remoteID = ""
}

// Status returns the signaling-layer state and optional error message.
func (m *Manager) Status() (Status, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.errMsg
}

// ConnectionStatus returns the logical data channel state.
func (m *Manager) ConnectionStatus() ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connStatus
}

func (m *Manager) signalingStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) connectionStatus() ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connStatus
}

func (m *Manager) setStatus(st Status, cs ConnectionStatus, msg string) {
	m.mu.Lock()
	changed := m.status != st || m.connStatus != cs || m.errMsg != msg
	m.status, m.connStatus, m.errMsg = st, cs, msg
	cb := m.cfg.OnStatus
	m.mu.Unlock()

	if changed && cb != nil {
		cb(st, cs, msg)
	}
}

// schedule arms a named timer, replacing any pending one with the same
// name. Callbacks never fire after Close or cancelTimers.
func (m *Manager) schedule(name string, d time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if t, ok := m.timers[name]; ok {
		t.Stop()
	}
	m.timers[name] = time.AfterFunc(d, func() {
		m.mu.Lock()
		closed := m.closed
		delete(m.timers, name)
		m.mu.Unlock()
		if !closed {
			fn()
		}
	})
}

func (m *Manager) cancelTimers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, t := range m.timers {
		t.Stop()
		delete(m.timers, name)
	}
}

func marshalSignal(sig model.Signal) json.RawMessage {
	b, err := json.Marshal(&sig)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
