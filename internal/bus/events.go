package bus

import "time"

// InboundMessage is a message received from a chat channel.
type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	MessageID string
	Content   string
	Timestamp time.Time
	// FromBot is set for messages written by bots, including ourselves.
	FromBot bool
}

// File is an upload attached to an outbound message.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Button is a message component. A button with a URL is a link button;
// otherwise CustomID identifies it in interaction events.
type Button struct {
	Label    string
	Emoji    string
	URL      string
	CustomID string
}

// OutboundMessage is a message to send to a chat channel.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	// ReplyTo references the message being answered. The author is not
	// pinged.
	ReplyTo string
	Files   []File
	Buttons []Button
}
