package call

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/smenaria2/tnd3/model"
)

// Status is the call state on one side. The caller walks
// idle → offering → connected, the callee idle → ringing → connected;
// any state drops to idle on hangup or error.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusOffering  Status = "offering"
	StatusRinging   Status = "ringing"
	StatusConnected Status = "connected"
)

var (
	ErrBusy    = errors.New("a call is already in progress")
	ErrNoCall  = errors.New("no call to act on")
	ErrNoMedia = errors.New("no media transport")
)

type (
	// MediaTransport is the peer manager's media connection surface.
	MediaTransport interface {
		DialMedia(tracks []webrtc.TrackLocal) error
		AnswerMedia(tracks []webrtc.TrackLocal) error
		CloseMedia()
	}

	// CaptureSource is a local camera/microphone handle. Close stops
	// all capture tracks; it must run before the machine returns to
	// idle so device handles are never leaked.
	CaptureSource interface {
		Tracks() []webrtc.TrackLocal
		Close() error
	}

	Sender interface {
		Send(model.Envelope) error
	}

	Config struct {
		Sender Sender
		Media  MediaTransport
		Logger *zerolog.Logger

		OnStatus func(Status)
	}

	// Machine drives one audio/video call, signaled over the message
	// channel and carried by a media connection independent of it.
	Machine struct {
		mu      sync.Mutex
		cfg     Config
		logger  zerolog.Logger
		status  Status
		capture CaptureSource
	}
)

func NewMachine(cfg Config) *Machine {
	return &Machine{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "call").Logger(),
		status: StatusIdle,
	}
}

func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Start places an outbound call with an acquired capture source.
func (m *Machine) Start(capture CaptureSource) error {
	if m.cfg.Media == nil {
		return ErrNoMedia
	}
	m.mu.Lock()
	if m.status != StatusIdle {
		m.mu.Unlock()
		return ErrBusy
	}
	m.status = StatusOffering
	m.capture = capture
	m.mu.Unlock()
	m.notify(StatusOffering)

	if err := m.cfg.Media.DialMedia(capture.Tracks()); err != nil {
		m.logger.Error().Err(err).Msg("media dial failed")
		m.End(false)
		return err
	}

	env, err := model.NewEnvelope(model.MsgCallOffer, nil)
	if err != nil {
		return err
	}
	return m.cfg.Sender.Send(env)
}

// Accept answers a ringing call with an acquired capture source.
func (m *Machine) Accept(capture CaptureSource) error {
	if m.cfg.Media == nil {
		return ErrNoMedia
	}
	m.mu.Lock()
	if m.status != StatusRinging {
		m.mu.Unlock()
		return ErrNoCall
	}
	m.status = StatusConnected
	m.capture = capture
	m.mu.Unlock()
	m.notify(StatusConnected)

	env, err := model.NewEnvelope(model.MsgCallAccept, nil)
	if err != nil {
		return err
	}
	if err = m.cfg.Sender.Send(env); err != nil {
		return err
	}

	if err = m.cfg.Media.AnswerMedia(capture.Tracks()); err != nil {
		m.logger.Error().Err(err).Msg("media answer failed")
		m.End(false)
		return err
	}
	return nil
}

// Reject declines a ringing call.
func (m *Machine) Reject() error {
	m.mu.Lock()
	if m.status != StatusRinging {
		m.mu.Unlock()
		return ErrNoCall
	}
	m.mu.Unlock()

	env, err := model.NewEnvelope(model.MsgCallReject, nil)
	if err == nil {
		if sErr := m.cfg.Sender.Send(env); sErr != nil {
			m.logger.Error().Err(sErr).Msg("failed to send call reject")
		}
	}
	m.End(false)
	return nil
}

// End hangs up from any state. Local capture is released before the
// media connection closes and the state resets to idle.
func (m *Machine) End(notify bool) {
	m.mu.Lock()
	if m.status == StatusIdle {
		m.mu.Unlock()
		return
	}
	capture := m.capture
	m.capture = nil
	m.mu.Unlock()

	if notify {
		if env, err := model.NewEnvelope(model.MsgCallEnd, nil); err == nil {
			if sErr := m.cfg.Sender.Send(env); sErr != nil {
				m.logger.Error().Err(sErr).Msg("failed to send call end")
			}
		}
	}

	if capture != nil {
		if err := capture.Close(); err != nil {
			m.logger.Error().Err(err).Msg("failed to release capture")
		}
	}
	if m.cfg.Media != nil {
		m.cfg.Media.CloseMedia()
	}

	m.mu.Lock()
	m.status = StatusIdle
	m.mu.Unlock()
	m.notify(StatusIdle)
}

// HandleSignal applies a CALL_* message from the remote peer.
func (m *Machine) HandleSignal(t model.MessageType) {
	switch t {
	case model.MsgCallOffer:
		m.mu.Lock()
		if m.status != StatusIdle {
			// Already in a call; the offer is stale or crossed.
			m.mu.Unlock()
			return
		}
		m.status = StatusRinging
		m.mu.Unlock()
		m.notify(StatusRinging)

	case model.MsgCallAccept:
		m.mu.Lock()
		if m.status != StatusOffering {
			m.mu.Unlock()
			return
		}
		m.status = StatusConnected
		m.mu.Unlock()
		m.notify(StatusConnected)

	case model.MsgCallReject, model.MsgCallEnd:
		m.End(false)
	}
}

func (m *Machine) notify(st Status) {
	if m.cfg.OnStatus != nil {
		m.cfg.OnStatus(st)
	}
}
