package preview

import (
	"context"
	"log/slog"
	"sync"

	"github.com/joebot/utilbot/internal/bus"
)

// DefaultMaxLinks is how many links of one message are previewed.
const DefaultMaxLinks = 3

// Service answers inbound messages that contain file links.
type Service struct {
	bus      *bus.MessageBus
	sources  map[Kind]Source
	maxLinks int
}

// NewService creates a Service. Links of a kind without a source are
// ignored.
func NewService(b *bus.MessageBus, sources map[Kind]Source, maxLinks int) *Service {
	if maxLinks <= 0 {
		maxLinks = DefaultMaxLinks
	}
	return &Service{bus: b, sources: sources, maxLinks: maxLinks}
}

// Run consumes the inbound queue until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.bus.Inbound:
			go s.Handle(ctx, msg)
		}
	}
}

// Handle previews the links in one message. Files are fetched concurrently
// and replies are published in link order.
func (s *Service) Handle(ctx context.Context, msg *bus.InboundMessage) {
	if msg.FromBot {
		return
	}
	var links []Link
	for _, l := range FindLinks(msg.Content) {
		if _, ok := s.sources[l.Kind]; ok {
			links = append(links, l)
		}
	}
	if len(links) == 0 {
		return
	}
	if len(links) > s.maxLinks {
		links = links[:s.maxLinks]
	}

	replies := make([]*bus.OutboundMessage, len(links))
	var wg sync.WaitGroup
	for i, l := range links {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := s.preview(ctx, l, msg)
			if err != nil {
				slog.Warn("file preview failed", "kind", l.Kind, "url", l.URL, "err", err)
				return
			}
			replies[i] = reply
		}()
	}
	wg.Wait()

	for _, reply := range replies {
		if reply == nil {
			continue
		}
		select {
		case s.bus.Outbound <- reply:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) preview(ctx context.Context, l Link, msg *bus.InboundMessage) (*bus.OutboundMessage, error) {
	f, err := s.sources[l.Kind].Load(ctx, l.URL)
	if err != nil {
		return nil, err
	}
	slog.Debug("file preview loaded", "url", l.URL, "bytes", len(f.Content))
	return Render(f, msg)
}
