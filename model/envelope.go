package model

import "encoding/json"

// MessageType tags the application messages carried by the data channel.
type MessageType string

const (
	MsgGameStateSync     MessageType = "GAME_STATE_SYNC"
	MsgPlayerInfo        MessageType = "PLAYER_INFO"
	MsgChatMessage       MessageType = "CHAT_MESSAGE"
	MsgPingEmoji         MessageType = "PING_EMOJI"
	MsgCallOffer         MessageType = "CALL_OFFER"
	MsgCallAccept        MessageType = "CALL_ACCEPT"
	MsgCallReject        MessageType = "CALL_REJECT"
	MsgCallEnd           MessageType = "CALL_END"
	MsgIntensityRequest  MessageType = "INTENSITY_REQUEST"
	MsgIntensityResponse MessageType = "INTENSITY_RESPONSE"
	MsgRejectTurn        MessageType = "REJECT_TURN"
)

// Envelope is the wire format for application messages.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
// A nil payload produces an empty-object payload, matching the
// {} placeholders the call tags carry.
func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: t, Payload: json.RawMessage(`{}`)}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Payload: b}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// PlayerInfo announces local identity right after a channel opens.
type PlayerInfo struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// PingEmoji is a transient, non-persisted visual ping.
type PingEmoji struct {
	Emoji string `json:"emoji"`
}

// IntensityRequest asks the host to change the intensity level.
type IntensityRequest struct {
	Level IntensityLevel `json:"level"`
}

// IntensityResponse carries the host-side verdict back to the requester.
type IntensityResponse struct {
	Accepted bool           `json:"accepted"`
	Level    IntensityLevel `json:"level,omitempty"`
}
