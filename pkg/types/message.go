package types

import (
	"encoding/json"
	"fmt"
)

// Wire message types exchanged over the classroom websocket. The set is
// closed: DecodeMessage maps anything else to *UnknownMessage.
const (
	MessageTypeSeatUpdate   = "seat_update"
	MessageTypeHandRaise    = "hand_raise"
	MessageTypeUpdateRound  = "update_round"
	MessageTypeChatMessage  = "chat_message"
	MessageTypeContentShare = "content_share"
	MessageTypeUserJoined   = "user_joined"
	MessageTypeUserLeft     = "user_left"
	MessageTypeClassroomClosed = "classroom_closed"
	MessageTypeError        = "error"
)

// Update round actions carried by UpdateRound messages.
const (
	RoundActionStarted     = "started"
	RoundActionTurnStarted = "turn_started"
	RoundActionTurnEnded   = "turn_ended"
	RoundActionCompleted   = "completed"
)

// Content share kinds accepted from a student's virtual laptop.
const (
	ContentTypeScreenshot = "screenshot"
	ContentTypeDocument   = "document"
	ContentTypeLink       = "link"
	ContentTypeCode       = "code"
	ContentTypeNotes      = "notes"
)

// Payload is one variant of the classroom message envelope. Every payload
// marshals flat, with its type tag injected by EncodeMessage.
type Payload interface {
	MessageType() string
}

// SeatUpdate announces a committed seat status change. StudentID and
// StudentName are empty when the seat was vacated.
type SeatUpdate struct {
	SeatID      string     `json:"seat_id"`
	Status      SeatStatus `json:"status"`
	StudentID   string     `json:"student_id"`
	StudentName string     `json:"student_name"`
}

func (SeatUpdate) MessageType() string { return MessageTypeSeatUpdate }

// HandRaise announces a committed raise or lower of a seated student's hand.
type HandRaise struct {
	SeatID      string `json:"seat_id"`
	Raised      bool   `json:"raised"`
	StudentID   string `json:"student_id"`
	StudentName string `json:"student_name"`
}

func (HandRaise) MessageType() string { return MessageTypeHandRaise }

// UpdateRound announces update-round lifecycle events: round started, a turn
// started or ended, round completed. SeatID identifies the speaking seat for
// turn events so clients can derive seat status without a separate message.
type UpdateRound struct {
	RoundID        string          `json:"round_id"`
	Action         string          `json:"action"`
	TurnID         string          `json:"turn_id,omitempty"`
	SeatID         string          `json:"seat_id,omitempty"`
	CurrentStudent *ParticipantRef `json:"current_student,omitempty"`
	RemainingTime  int             `json:"remaining_time"`
}

func (UpdateRound) MessageType() string { return MessageTypeUpdateRound }

// ChatMessage is relayed verbatim between participants. Recipient is either
// "everyone" or a participant ID for direct delivery.
type ChatMessage struct {
	Message   string `json:"message"`
	Sender    string `json:"sender"`
	SenderID  string `json:"sender_id"`
	Recipient string `json:"recipient"`
}

func (ChatMessage) MessageType() string { return MessageTypeChatMessage }

// ContentShare relays content from a seated student's virtual laptop.
type ContentShare struct {
	SeatID      string `json:"seat_id"`
	ContentID   string `json:"content_id"`
	ContentType string `json:"content_type"`
	Link        string `json:"link,omitempty"`
	Description string `json:"description,omitempty"`
}

func (ContentShare) MessageType() string { return MessageTypeContentShare }

// UserJoined announces a non-teacher participant connecting.
type UserJoined struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

func (UserJoined) MessageType() string { return MessageTypeUserJoined }

// UserLeft announces a non-teacher participant disconnecting.
type UserLeft struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

func (UserLeft) MessageType() string { return MessageTypeUserLeft }

// ClassroomClosed announces that the session ended and the classroom state
// was destroyed.
type ClassroomClosed struct {
	Reason string `json:"reason"`
}

func (ClassroomClosed) MessageType() string { return MessageTypeClassroomClosed }

// ErrorMessage carries a server-side error to one client.
type ErrorMessage struct {
	Message string `json:"message"`
}

func (ErrorMessage) MessageType() string { return MessageTypeError }

// UnknownMessage is the explicit default arm of the envelope: a type tag the
// protocol does not know, preserved raw for logging.
type UnknownMessage struct {
	Type string
	Raw  json.RawMessage
}

func (u UnknownMessage) MessageType() string { return u.Type }

// EncodeMessage marshals a payload into the flat wire envelope
// {"type": ..., <payload fields>}.
func EncodeMessage(p Payload) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.MessageType(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.MessageType(), err)
	}
	fields["type"] = json.RawMessage(`"` + p.MessageType() + `"`)
	return json.Marshal(fields)
}

// DecodeMessage parses a wire envelope into its typed payload. Envelopes with
// an unrecognized type tag decode to *UnknownMessage rather than an error so
// callers can handle protocol growth explicitly.
func DecodeMessage(data []byte) (Payload, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode message envelope: %w", err)
	}
	if head.Type == "" {
		return nil, ErrMissingMessageType
	}

	var p Payload
	switch head.Type {
	case MessageTypeSeatUpdate:
		p = &SeatUpdate{}
	case MessageTypeHandRaise:
		p = &HandRaise{}
	case MessageTypeUpdateRound:
		p = &UpdateRound{}
	case MessageTypeChatMessage:
		p = &ChatMessage{}
	case MessageTypeContentShare:
		p = &ContentShare{}
	case MessageTypeUserJoined:
		p = &UserJoined{}
	case MessageTypeUserLeft:
		p = &UserLeft{}
	case MessageTypeClassroomClosed:
		p = &ClassroomClosed{}
	case MessageTypeError:
		p = &ErrorMessage{}
	default:
		return &UnknownMessage{Type: head.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}

	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s message: %w", head.Type, err)
	}
	return p, nil
}
