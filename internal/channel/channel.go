// Package channel connects chat platforms to the message bus and answers
// their interactions.
package channel

import (
	"context"

	"github.com/joebot/utilbot/internal/bus"
	"github.com/joebot/utilbot/internal/resolve"
)

// Channel is the interface for chat platform integrations. Send is
// subscribed to the bus under Name.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(ctx context.Context, msg *bus.OutboundMessage) error
}

var (
	_ Channel               = (*Discord)(nil)
	_ resolve.MessageSource = (*Discord)(nil)
)
