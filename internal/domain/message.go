package domain

import "time"

// MessageKind classifies how an inbound message was produced.
type MessageKind string

const (
	KindText            MessageKind = "text"
	KindVoiceTranscript MessageKind = "voice_transcript"
)

// InboundMessage is a normalized message produced by a channel adapter.
// Immutable once created; consumed exactly once by the pipeline.
type InboundMessage struct {
	ID         string
	Channel    string
	ChatID     string
	SenderID   string
	Text       string
	Kind       MessageKind
	ReceivedAt time.Time
}

// OutboundMessage is a response or notification headed for a channel adapter.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	Format  string // text | markdown
}
