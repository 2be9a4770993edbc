package model

import "encoding/json"

// Signaling announcement types exchanged with the broker.
const (
	AnnouncementTypeOpen            = "open"
	AnnouncementTypeIDTaken         = "id-taken"
	AnnouncementTypePeerUnavailable = "peer-unavailable"
	AnnouncementTypeOffer           = "offer"
	AnnouncementTypeAnswer          = "answer"
	AnnouncementTypeCandidate       = "candidate"
	AnnouncementTypeMediaOffer      = "media-offer"
	AnnouncementTypeMediaAnswer     = "media-answer"
	AnnouncementTypeMediaCandidate  = "media-candidate"
	AnnouncementTypeLeft            = "left"
)

// Announcement is the broker-relayed signaling message. For inbound
// messages the broker re-assigns SRC based on the websocket session.
type Announcement struct {
	DST     string          `json:"dst"`
	SRC     string          `json:"src"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Signal is the SDP/ICE payload carried by offer/answer/candidate
// announcements. SDP and candidate JSON come straight from the webrtc
// layer; the broker never inspects them.
type Signal struct {
	SDP       string          `json:"sdp,omitempty"`
	SDPType   string          `json:"sdpType,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Wire is a pair of channels connecting one signaling session to the relay.
type Wire struct {
	RX chan Announcement
	TX chan Announcement
}

func NewWire() Wire {
	return Wire{
		RX: make(chan Announcement),
		TX: make(chan Announcement),
	}
}
