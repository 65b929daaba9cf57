package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidPayload indicates an inbound payload that cannot become a message.
var ErrInvalidPayload = errors.New("invalid payload")

// DecodeIncoming parses an inbound JSON payload. Kind is inferred from the
// image reference when omitted, and a missing ID or timestamp is filled in.
func DecodeIncoming(data []byte, now time.Time) (IncomingMessage, error) {
	var msg IncomingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return IncomingMessage{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	msg.From = strings.TrimSpace(msg.From)
	if msg.From == "" {
		return IncomingMessage{}, fmt.Errorf("%w: missing sender", ErrInvalidPayload)
	}

	switch msg.Kind {
	case "":
		msg.Kind = KindText
		if msg.ImageRef != "" {
			msg.Kind = KindPhoto
		}
	case KindText:
	case KindPhoto:
		if msg.ImageRef == "" {
			return IncomingMessage{}, fmt.Errorf("%w: photo without image_ref", ErrInvalidPayload)
		}
	default:
		return IncomingMessage{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, msg.Kind)
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	return msg, nil
}

// EncodeOutgoing renders a reply payload.
func EncodeOutgoing(msg OutgoingMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal outgoing message: %w", err)
	}
	return data, nil
}
