// Package resolve redeems juxtapose tokens into the two image URLs they stand
// for, serving from the cache when possible and falling back to the reply
// message on Discord.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joebot/utilbot/internal/auth"
	"github.com/joebot/utilbot/internal/cache"
	"github.com/joebot/utilbot/internal/token"
)

// Reply attachment layout: [composite preview, left original, right original].
const (
	leftAttachment  = 1
	rightAttachment = 2
)

var (
	errBadMAC       = errors.New("MAC does not match payload")
	errMissingImage = errors.New("reply has fewer than three attachments")
)

// Attachment is a file on a chat message.
type Attachment struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	ContentType string `json:"content_type"`
}

// Message is the part of a chat message a resolution needs.
type Message struct {
	AuthorID    string
	Attachments []Attachment
}

// MessageSource looks up chat messages.
type MessageSource interface {
	Message(ctx context.Context, channelID, messageID uint64) (*Message, error)
	// SelfID is the bot's own user ID.
	SelfID() string
}

// Result is a redeemed token.
type Result struct {
	Entry cache.Entry
	// Expires is the UNIX time at which the image URLs stop working.
	Expires int64
	// Cached reports whether the entry came from the cache.
	Cached bool
}

// Resolver redeems tokens. It holds no per-request state and is safe for
// concurrent use.
type Resolver struct {
	auth    *auth.Authenticator
	cache   cache.Cache
	source  MessageSource
	timeout time.Duration
}

// Config configures a Resolver.
type Config struct {
	Authenticator *auth.Authenticator
	Cache         cache.Cache
	Source        MessageSource
	// Timeout bounds the external calls of one resolution. Zero means no bound
	// beyond the caller's context.
	Timeout time.Duration
}

// New creates a Resolver.
func New(cfg Config) *Resolver {
	return &Resolver{
		auth:    cfg.Authenticator,
		cache:   cfg.Cache,
		source:  cfg.Source,
		timeout: cfg.Timeout,
	}
}

// Resolve redeems the text-encoded payload data and MAC mac. Errors are
// *Error values.
func (r *Resolver) Resolve(ctx context.Context, data, mac string) (*Result, error) {
	payload, err := token.DecodeText(data)
	if err != nil {
		return nil, fail(KindMalformed, fmt.Errorf("payload: %w", err))
	}
	macBytes, err := token.DecodeText(mac)
	if err != nil {
		return nil, fail(KindMalformed, fmt.Errorf("mac: %w", err))
	}
	if len(macBytes) != auth.MACSize {
		return nil, fail(KindMalformed, fmt.Errorf("mac is %d bytes, want %d", len(macBytes), auth.MACSize))
	}
	if !r.auth.Verify(payload, macBytes) {
		return nil, fail(KindUnauthenticated, errBadMAC)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if entry, ok := r.cache.Get(ctx, data); ok {
		expires, err := r.cache.Expiry(ctx, data)
		switch {
		case err == nil:
			return &Result{Entry: entry, Expires: expires, Cached: true}, nil
		case errors.Is(err, cache.ErrGone):
			slog.Debug("cache entry expired during lookup", "err", err)
		default:
			return nil, fail(KindInternal, err)
		}
	}

	entry, err := r.lookup(ctx, payload)
	if err != nil {
		return nil, err
	}

	expires, err := r.cache.Set(ctx, data, entry)
	if err != nil {
		return nil, fail(KindInternal, err)
	}
	return &Result{Entry: entry, Expires: expires}, nil
}

// lookup rebuilds an entry from the reply message the payload points at.
func (r *Resolver) lookup(ctx context.Context, payload []byte) (cache.Entry, error) {
	messageID, channelID, err := token.Decode(payload)
	if err != nil {
		return cache.Entry{}, fail(KindInternal, err)
	}

	msg, err := r.source.Message(ctx, channelID, messageID)
	if err != nil {
		return cache.Entry{}, fail(KindNotFound, fmt.Errorf("message %d in channel %d: %w", messageID, channelID, err))
	}

	// A valid MAC only proves we issued the token; the message it names must
	// also be ours.
	if self := r.source.SelfID(); self == "" || msg.AuthorID != self {
		slog.Warn("token points at a message the bot did not author",
			"channel_id", channelID, "message_id", messageID, "author_id", msg.AuthorID)
		return cache.Entry{}, fail(KindNotOwned, fmt.Errorf("message %d authored by %q", messageID, msg.AuthorID))
	}

	if len(msg.Attachments) <= rightAttachment {
		return cache.Entry{}, fail(KindInternal, errMissingImage)
	}
	left := msg.Attachments[leftAttachment]
	right := msg.Attachments[rightAttachment]

	return cache.Entry{
		LeftImageURL:    left.URL,
		RightImageURL:   right.URL,
		LeftImageLabel:  left.Description,
		RightImageLabel: right.Description,
	}, nil
}
