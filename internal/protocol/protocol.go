// Package protocol models the JSON message surface exchanged with browser
// clients over the signaling WebSocket.
//
// It intentionally has no transport or registry dependencies; both the
// signaling session loop and the relay produce/consume these types.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

type MessageType string

// Client -> coordinator message types.
const (
	TypeSignIn                MessageType = "signIn"
	TypeCallRequest           MessageType = "callRequest"
	TypeCallAccept            MessageType = "callAccept"
	TypeCallDecline           MessageType = "callDecline"
	TypeCallBusy              MessageType = "callBusy"
	TypeSessionOffer          MessageType = "sessionOffer"
	TypeSessionAnswer         MessageType = "sessionAnswer"
	TypeConnectivityCandidate MessageType = "connectivityCandidate"
	TypeLeave                 MessageType = "leave"
	TypeStatusUpdate          MessageType = "statusUpdate"
	TypeHeartbeatReply        MessageType = "heartbeatReply"
)

// Coordinator -> client message types. The call-lifecycle and session types
// above are also forwarded verbatim to the recipient's channel.
const (
	TypeHeartbeat         MessageType = "heartbeat"
	TypeSignInResult      MessageType = "signInResult"
	TypePresenceList      MessageType = "presenceList"
	TypeRecipientNotFound MessageType = "recipientNotFound"
	TypePartnerLeft       MessageType = "partnerLeft"
	TypeStatusChanged     MessageType = "statusChanged"
	TypeError             MessageType = "error"
)

// Status change kinds carried by statusChanged messages.
const (
	StatusKindVideo       = "video"
	StatusKindAudio       = "audio"
	StatusKindScreenShare = "screenShare"
)

// MediaStatus is a user's self-reported media state. New users start with
// video and audio enabled and screen sharing off.
type MediaStatus struct {
	Video         bool `json:"video"`
	Audio         bool `json:"audio"`
	ScreenSharing bool `json:"screenSharing"`
}

func DefaultMediaStatus() MediaStatus {
	return MediaStatus{Video: true, Audio: true}
}

// StatusPatch is the partial update carried by a statusUpdate message. Nil
// fields leave the stored value unchanged.
type StatusPatch struct {
	Video         *bool
	Audio         *bool
	ScreenSharing *bool
}

// Apply merges the patch into s and returns the merged status.
func (p StatusPatch) Apply(s MediaStatus) MediaStatus {
	if p.Video != nil {
		s.Video = *p.Video
	}
	if p.Audio != nil {
		s.Audio = *p.Audio
	}
	if p.ScreenSharing != nil {
		s.ScreenSharing = *p.ScreenSharing
	}
	return s
}

// Message is the single wire envelope. Exactly which fields are meaningful
// depends on Type; Validate enforces the per-type shape for inbound messages.
type Message struct {
	Type MessageType `json:"type"`

	// Name identifies a user: the sign-in name, the declining/busy user on
	// call-lifecycle notices, the absent recipient on recipientNotFound, and
	// the departed partner on partnerLeft.
	Name string `json:"name,omitempty"`

	// From/To address call-lifecycle and session messages.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// Payload carries session descriptions and connectivity candidates. The
	// coordinator never interprets it.
	Payload json.RawMessage `json:"payload,omitempty"`

	// CallerMediaStatus is attached to forwarded callRequest messages.
	CallerMediaStatus *MediaStatus `json:"callerMediaStatus,omitempty"`

	// statusUpdate fields; absent fields leave stored status unchanged.
	Video         *bool `json:"video,omitempty"`
	Audio         *bool `json:"audio,omitempty"`
	ScreenSharing *bool `json:"screenSharing,omitempty"`

	// statusChanged fields.
	Kind  string `json:"kind,omitempty"`
	Value *bool  `json:"value,omitempty"`

	// signInResult fields.
	Success *bool  `json:"success,omitempty"`
	Message string `json:"message,omitempty"`

	// heartbeat fields.
	ICEServers []webrtc.ICEServer `json:"iceServers,omitempty"`

	// presenceList fields.
	Users []string `json:"users,omitempty"`
}

// StatusPatch extracts the partial media-status update from a statusUpdate
// message.
func (m Message) StatusPatch() StatusPatch {
	return StatusPatch{Video: m.Video, Audio: m.Audio, ScreenSharing: m.ScreenSharing}
}

// Parse decodes one inbound client message, rejecting unknown fields,
// trailing data, and messages whose shape does not match their type.
func Parse(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("unexpected trailing data")
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Validate checks an inbound message against the shape expected for its type.
// Coordinator-only message types are rejected.
func (m Message) Validate() error {
	switch m.Type {
	case TypeSignIn:
		if m.Name == "" {
			return fmt.Errorf("signIn message missing name")
		}
	case TypeCallRequest, TypeCallAccept:
		if m.From == "" || m.To == "" {
			return fmt.Errorf("%s message missing from/to", m.Type)
		}
	case TypeCallDecline, TypeCallBusy:
		if m.Name == "" {
			return fmt.Errorf("%s message missing name", m.Type)
		}
	case TypeSessionOffer, TypeSessionAnswer, TypeConnectivityCandidate:
		if len(m.Payload) == 0 {
			return fmt.Errorf("%s message missing payload", m.Type)
		}
	case TypeLeave:
		// Name is optional; the relay routes by the sender's recorded partner.
	case TypeStatusUpdate:
		if m.Video == nil && m.Audio == nil && m.ScreenSharing == nil {
			return fmt.Errorf("statusUpdate message carries no fields")
		}
	case TypeHeartbeatReply:
		// Free-form; logged only.
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

// Encode marshals an outbound message.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}
