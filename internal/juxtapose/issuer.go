package juxtapose

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/joebot/utilbot/internal/auth"
	"github.com/joebot/utilbot/internal/cache"
	"github.com/joebot/utilbot/internal/token"
)

// Issuer mints redeemable links for posted comparisons.
type Issuer struct {
	auth    *auth.Authenticator
	cache   cache.Cache
	baseURL *url.URL
}

// NewIssuer validates baseURL and returns an Issuer that signs with a and
// seeds c.
func NewIssuer(a *auth.Authenticator, c cache.Cache, baseURL string) (*Issuer, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	return &Issuer{auth: a, cache: c, baseURL: u}, nil
}

// Issue returns the link for the reply message replyID in channelID. seed
// holds the original attachment URLs and labels; it is written to the cache
// under the link's token so the first redemption skips the Discord lookup.
// A failed seed only costs that lookup, so it is logged and not returned.
func (is *Issuer) Issue(ctx context.Context, replyID, channelID uint64, vertical bool, seed cache.Entry) string {
	payload := token.Encode(replyID, channelID)
	mac := is.auth.Sum(payload)
	data := token.EncodeText(payload)

	orientation := "h"
	if vertical {
		orientation = "v"
	}

	link := *is.baseURL
	q := link.Query()
	q.Set("d", data)
	q.Set("m", token.EncodeText(mac[:]))
	q.Set("o", orientation)
	link.RawQuery = q.Encode()

	if _, err := is.cache.Set(ctx, data, seed); err != nil {
		slog.Warn("seed juxtapose cache failed", "message_id", replyID, "channel_id", channelID, "err", err)
	}
	return link.String()
}
