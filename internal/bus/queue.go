package bus

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	truncateAt     = 1500
	truncateNotice = "\n\n[message truncated]"
	failureNotice  = "Sorry, I ran into a technical issue and couldn't deliver this message."
)

// OutboundHandler is a callback for outbound messages on a specific channel.
type OutboundHandler func(ctx context.Context, msg *OutboundMessage) error

// MessageBus decouples chat channels from the features that answer them.
type MessageBus struct {
	Inbound  chan *InboundMessage
	Outbound chan *OutboundMessage

	mu          sync.RWMutex
	subscribers map[string][]OutboundHandler
}

// NewMessageBus creates a new message bus with buffered channels.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		Inbound:     make(chan *InboundMessage, 64),
		Outbound:    make(chan *OutboundMessage, 64),
		subscribers: make(map[string][]OutboundHandler),
	}
}

// PublishInbound hands a received message to the consumers of Inbound.
func (b *MessageBus) PublishInbound(msg *InboundMessage) {
	b.Inbound <- msg
}

// PublishOutbound queues a message for delivery.
func (b *MessageBus) PublishOutbound(msg *OutboundMessage) {
	b.Outbound <- msg
}

// Subscribe registers a handler for outbound messages on a specific channel.
func (b *MessageBus) Subscribe(channel string, handler OutboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = append(b.subscribers[channel], handler)
}

// DispatchOutbound reads from the outbound queue and dispatches to subscribers.
// Blocks until ctx is cancelled.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.Outbound:
			b.mu.RLock()
			handlers := b.subscribers[msg.Channel]
			b.mu.RUnlock()
			if len(handlers) == 0 {
				slog.Warn("no subscriber for outbound message", "channel", msg.Channel)
			}
			for _, h := range handlers {
				if err := h(ctx, msg); err != nil {
					slog.Warn("dispatch outbound failed, attempting recovery", "channel", msg.Channel, "err", err)
					b.recoverSend(ctx, h, msg)
				}
			}
		}
	}
}

// recoverSend tries progressively simpler versions of a message that failed
// to send, ending with a short notice so the user knows something went wrong.
func (b *MessageBus) recoverSend(ctx context.Context, h OutboundHandler, original *OutboundMessage) {
	// Strategy 1: upload files as plain text. Discord rejects some file
	// extensions it cannot classify.
	if len(original.Files) > 0 {
		plain := *original
		plain.Files = make([]File, len(original.Files))
		for i, f := range original.Files {
			plain.Files[i] = File{
				Name:        strings.TrimSuffix(f.Name, path.Ext(f.Name)) + ".txt",
				ContentType: "text/plain; charset=utf-8",
				Data:        f.Data,
			}
		}
		if err := h(ctx, &plain); err == nil {
			slog.Info("recovery: sent files as plain text", "channel", original.Channel)
			return
		}
	}

	// Strategy 2: retry with truncated content and no files.
	if len(original.Content) > truncateAt {
		truncated := *original
		truncated.Files = nil
		truncated.Content = truncateUTF8(original.Content, truncateAt) + truncateNotice
		if err := h(ctx, &truncated); err == nil {
			slog.Info("recovery: sent truncated message", "channel", original.Channel)
			return
		}
	}

	// Strategy 3: send a brief error notification to the user.
	fallback := &OutboundMessage{
		Channel: original.Channel,
		ChatID:  original.ChatID,
		ReplyTo: original.ReplyTo,
		Content: failureNotice,
	}
	if err := h(ctx, fallback); err != nil {
		slog.Error("recovery: all strategies failed, unable to notify user", "channel", original.Channel, "err", err)
	}
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
