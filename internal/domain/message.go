package domain

import "time"

// MessageKind classifies the payload of an inbound message.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindAudio    MessageKind = "audio"
	KindDocument MessageKind = "document"
	KindLocation MessageKind = "location"
	KindContact  MessageKind = "contact"
)

// InboundMessage is the normalized message from any channel. Immutable once
// received; channels create it, the queue and handler consume it.
type InboundMessage struct {
	ID        string
	Channel   string
	ChatID    string
	SenderID  string
	Body      string
	Kind      MessageKind
	MediaURL  string // reference to downloadable media, if any
	Caption   string
	Timestamp time.Time
	IsGroup   bool
}

// OutboundReply is the handler's answer to an inbound message.
// QuickReplies are suggested tap-to-send labels; channels that cannot render
// buttons append them as a numbered list.
type OutboundReply struct {
	Channel      string
	ChatID       string
	Body         string
	QuickReplies []string
}
