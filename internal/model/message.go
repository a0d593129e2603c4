package model

import (
	"encoding/json"
	"strings"
	"time"
)

// MessageKind identifies the role a tracker body plays in a thread.
type MessageKind string

const (
	KindOriginal     MessageKind = "original"
	KindUserReply    MessageKind = "user-reply"
	KindAgentReply   MessageKind = "agent-reply"
	KindInternalNote MessageKind = "internal-note"
	KindUnknown      MessageKind = "unknown"
)

// UserVisible reports whether a body of this kind may be shown to the
// external correspondents of a thread.
func (k MessageKind) UserVisible() bool {
	switch k {
	case KindInternalNote:
		return false
	case KindOriginal, KindUserReply, KindAgentReply, KindUnknown:
		return true
	default:
		return true
	}
}

// UnmarshalJSON maps unrecognised kinds to KindUnknown so older or
// hand-edited payloads still decode.
func (k *MessageKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch MessageKind(s) {
	case KindOriginal, KindUserReply, KindAgentReply, KindInternalNote:
		*k = MessageKind(s)
	default:
		*k = KindUnknown
	}
	return nil
}

// Contact is a mailbox address with an optional display name.
type Contact struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Equal compares contacts by address only.
func (c Contact) Equal(other Contact) bool {
	return strings.EqualFold(
		strings.TrimSpace(c.Address), strings.TrimSpace(other.Address),
	)
}

// DisplayName returns the name when set, otherwise the address.
func (c Contact) DisplayName() string {
	if strings.TrimSpace(c.Name) != "" {
		return c.Name
	}
	return c.Address
}

// Meta is the provenance record embedded in every tracker body written
// by this system. Field order is the wire order.
type Meta struct {
	From        []Contact   `json:"from"`
	Type        MessageKind `json:"type"`
	UID         uint32      `json:"uid,omitempty"`
	MessageID   string      `json:"messageId,omitempty"`
	ToReceivers []Contact   `json:"toReceivers,omitempty"`
	CcReceivers []Contact   `json:"ccReceivers,omitempty"`
	ReplyTo     []Contact   `json:"replyTo,omitempty"`
}

// Clone returns a deep copy of m.
func (m Meta) Clone() Meta {
	out := m
	out.From = cloneContacts(m.From)
	out.ToReceivers = cloneContacts(m.ToReceivers)
	out.CcReceivers = cloneContacts(m.CcReceivers)
	out.ReplyTo = cloneContacts(m.ReplyTo)
	return out
}

func cloneContacts(in []Contact) []Contact {
	if in == nil {
		return nil
	}
	out := make([]Contact, len(in))
	copy(out, in)
	return out
}

// Attachment is a file carried by an inbound message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// InboundMessage is a message fetched from the mailbox. It is read-only
// to the sync engine.
type InboundMessage struct {
	UID         uint32
	Subject     string
	VisibleText string
	Senders     []Contact
	ToReceivers []Contact
	CcReceivers []Contact
	ReplyTo     []Contact
	MessageID   string
	Date        time.Time
	Attachments []Attachment
}

// OutboundMessage is a rendered email ready for delivery.
type OutboundMessage struct {
	To        []string
	Cc        []string
	Subject   string
	Text      string
	InReplyTo string
}
