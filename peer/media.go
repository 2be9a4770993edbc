package peer

import (
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v4"
	"github.com/smenaria2/tnd3/model"
)

var (
	ErrNoRemotePeer   = errors.New("no remote peer to call")
	ErrNoPendingOffer = errors.New("no pending media offer to answer")
)

// mediaLink is the secondary audio/video connection. It rides the same
// broker relay for SDP/ICE but is otherwise independent of the data
// channel: tearing one down never touches the other.
type mediaLink struct {
	pc           *webrtc.PeerConnection
	remoteID     string
	pendingOffer *model.Signal
	pendingFrom  string
}

// DialMedia opens a media connection toward the current remote peer and
// offers the given local tracks. The call subsystem drives this after
// the CALL_OFFER/CALL_ACCEPT exchange on the message channel.
func (m *Manager) DialMedia(tracks []webrtc.TrackLocal) error {
	m.mu.Lock()
	remoteID := m.remoteID
	sc := m.sc
	m.mu.Unlock()
	if remoteID == "" || sc == nil {
		return ErrNoRemotePeer
	}

	pc, err := m.newMediaPeerConnection(remoteID)
	if err != nil {
		return err
	}
	for _, track := range tracks {
		if _, err = pc.AddTrack(track); err != nil {
			_ = pc.Close()
			return err
		}
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return err
	}
	if err = pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return err
	}

	m.mu.Lock()
	if m.media != nil && m.media.pc != nil {
		_ = m.media.pc.Close()
	}
	m.media = &mediaLink{pc: pc, remoteID: remoteID}
	m.mu.Unlock()

	return sc.send(model.Announcement{
		DST:     remoteID,
		Type:    model.AnnouncementTypeMediaOffer,
		Payload: marshalSignal(model.Signal{SDP: offer.SDP, SDPType: offer.Type.String()}),
	})
}

// AnswerMedia accepts a pending inbound media offer with local tracks.
func (m *Manager) AnswerMedia(tracks []webrtc.TrackLocal) error {
	m.mu.Lock()
	sc := m.sc
	var (
		offer *model.Signal
		from  string
	)
	if m.media != nil {
		offer, from = m.media.pendingOffer, m.media.pendingFrom
	}
	m.mu.Unlock()
	if offer == nil || sc == nil {
		return ErrNoPendingOffer
	}

	pc, err := m.newMediaPeerConnection(from)
	if err != nil {
		return err
	}
	for _, track := range tracks {
		if _, err = pc.AddTrack(track); err != nil {
			_ = pc.Close()
			return err
		}
	}

	if err = pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(offer.SDPType),
		SDP:  offer.SDP,
	}); err != nil {
		_ = pc.Close()
		return err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return err
	}
	if err = pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return err
	}

	m.mu.Lock()
	m.media = &mediaLink{pc: pc, remoteID: from}
	m.mu.Unlock()

	return sc.send(model.Announcement{
		DST:     from,
		Type:    model.AnnouncementTypeMediaAnswer,
		Payload: marshalSignal(model.Signal{SDP: answer.SDP, SDPType: answer.Type.String()}),
	})
}

// CloseMedia tears down the media connection only.
func (m *Manager) CloseMedia() {
	m.closeMedia()
}

func (m *Manager) closeMedia() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.media != nil && m.media.pc != nil {
		_ = m.media.pc.Close()
	}
	m.media = nil
}

func (m *Manager) newMediaPeerConnection(remoteID string) (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: m.cfg.ICEServers})
	if err != nil {
		return nil, err
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if m.cfg.OnRemoteTrack != nil {
			m.cfg.OnRemoteTrack(track, receiver)
		}
	})

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
			Type:    model.AnnouncementTypeMediaCandidate,
			Payload: marshalSignal(model.Signal{Candidate: b}),
		}); sErr != nil {
			m.logger.Error().Err(sErr).Msg("failed to send media ice candidate")
		}
	})

	return pc, nil
}

// dispatchMedia routes media-* announcements into the media link. An
// inbound offer is parked until the call subsystem answers or rejects.
func (m *Manager) dispatchMedia(ann model.Announcement) {
	var sig model.Signal
	if err := json.Unmarshal(ann.Payload, &sig); err != nil {
		m.logger.Error().Err(err).Msg("malformed media signal payload")
		return
	}

	switch ann.Type {
	case model.AnnouncementTypeMediaOffer:
		m.mu.Lock()
		m.media = &mediaLink{pendingOffer: &sig, pendingFrom: ann.SRC}
		m.mu.Unlock()

	case model.AnnouncementTypeMediaAnswer:
		m.mu.Lock()
		var pc *webrtc.PeerConnection
		if m.media != nil {
			pc = m.media.pc
		}
		m.mu.Unlock()
		if pc == nil {
			return
		}
		if err := pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.NewSDPType(sig.SDPType),
			SDP:  sig.SDP,
		}); err != nil {
			m.logger.Error().Err(err).Msg("failed to set media remote description")
		}

	case model.AnnouncementTypeMediaCandidate:
		m.mu.Lock()
		var pc *webrtc.PeerConnection
		if m.media != nil {
			pc = m.media.pc
		}
		m.mu.Unlock()
		if pc == nil {
			return
		}
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal(sig.Candidate, &init); err != nil {
			m.logger.Error().Err(err).Msg("malformed media ice candidate")
			return
		}
		if err := pc.AddICECandidate(init); err != nil {
			m.logger.Error().Err(err).Msg("failed to add media ice candidate")
		}
	}
}
