package resolve

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joebot/utilbot/internal/auth"
	"github.com/joebot/utilbot/internal/cache"
	"github.com/joebot/utilbot/internal/token"
)

const (
	botID     = "1100000000000000001"
	messageID = uint64(123456789012345)
	channelID = uint64(987654321098765)
)

type fakeSource struct {
	mu       sync.Mutex
	messages map[[2]uint64]*Message
	self     string
	calls    int
	err      error
}

func newFakeSource() *fakeSource {
	return &fakeSource{messages: make(map[[2]uint64]*Message), self: botID}
}

func (f *fakeSource) put(channelID, messageID uint64, msg *Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[[2]uint64{channelID, messageID}] = msg
}

func (f *fakeSource) Message(ctx context.Context, channelID, messageID uint64) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	msg, ok := f.messages[[2]uint64{channelID, messageID}]
	if !ok {
		return nil, errors.New("unknown message")
	}
	return msg, nil
}

func (f *fakeSource) SelfID() string { return f.self }

func (f *fakeSource) lookups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func imageURL(name string, ex int64) string {
	return fmt.Sprintf("https://cdn.discordapp.com/attachments/%d/%d/%s?ex=%x&is=0&hm=00", channelID, messageID, name, ex)
}

type fixture struct {
	resolver *Resolver
	source   *fakeSource
	auth     *auth.Authenticator
	expiry   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	a := auth.NewAuthenticator(auth.DeriveKey("test key material"))
	src := newFakeSource()
	expiry := time.Now().Add(time.Hour).Unix()
	src.put(channelID, messageID, &Message{
		AuthorID: botID,
		Attachments: []Attachment{
			{URL: imageURL("preview.png", expiry)},
			{URL: imageURL("left.png", expiry+60), Description: "before"},
			{URL: imageURL("right.png", expiry), Description: "after"},
		},
	})
	return &fixture{
		resolver: New(Config{Authenticator: a, Cache: cache.NewMemory(), Source: src, Timeout: time.Second}),
		source:   src,
		auth:     a,
		expiry:   expiry,
	}
}

func (f *fixture) token(messageID, channelID uint64) (string, string) {
	payload := token.Encode(messageID, channelID)
	mac := f.auth.Sum(payload)
	return token.EncodeText(payload), token.EncodeText(mac[:])
}

func TestResolveColdThenWarm(t *testing.T) {
	f := newFixture(t)
	d, m := f.token(messageID, channelID)
	ctx := context.Background()

	cold, err := f.resolver.Resolve(ctx, d, m)
	require.NoError(t, err)
	assert.False(t, cold.Cached)
	assert.Equal(t, imageURL("left.png", f.expiry+60), cold.Entry.LeftImageURL)
	assert.Equal(t, imageURL("right.png", f.expiry), cold.Entry.RightImageURL)
	assert.Equal(t, "before", cold.Entry.LeftImageLabel)
	assert.Equal(t, "after", cold.Entry.RightImageLabel)
	assert.Equal(t, f.expiry, cold.Expires)

	warm, err := f.resolver.Resolve(ctx, d, m)
	require.NoError(t, err)
	assert.True(t, warm.Cached)
	assert.Equal(t, cold.Entry, warm.Entry)
	assert.Equal(t, cold.Expires, warm.Expires)

	assert.Equal(t, 1, f.source.lookups(), "warm path must not touch the message source")
}

func TestResolveRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	d, m := f.token(messageID, channelID)
	other, _ := f.token(messageID+1, channelID)

	tests := []struct {
		name string
		d, m string
		want Kind
	}{
		{"payload not base64", "!!!", m, KindMalformed},
		{"mac not base64", d, "!!!", KindMalformed},
		{"short mac", d, token.EncodeText([]byte{1, 2, 3}), KindMalformed},
		{"empty", "", "", KindMalformed},
		{"mac for other payload", other, m, KindUnauthenticated},
		{"tampered payload", "A" + d[1:], m, KindUnauthenticated},
		{"wrong-length payload with valid mac", token.EncodeText([]byte{1, 2, 3, 4, 5, 6, 7, 8}), macFor(f.auth, []byte{1, 2, 3, 4, 5, 6, 7, 8}), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.resolver.Resolve(context.Background(), tt.d, tt.m)
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
	assert.Zero(t, f.source.lookups())
}

func macFor(a *auth.Authenticator, payload []byte) string {
	mac := a.Sum(payload)
	return token.EncodeText(mac[:])
}

func TestResolveUnknownMessage(t *testing.T) {
	f := newFixture(t)
	d, m := f.token(messageID+7, channelID)

	_, err := f.resolver.Resolve(context.Background(), d, m)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestResolveSourceFailureIsNotFound(t *testing.T) {
	f := newFixture(t)
	f.source.err = context.DeadlineExceeded
	d, m := f.token(messageID, channelID)

	_, err := f.resolver.Resolve(context.Background(), d, m)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolveForeignMessage(t *testing.T) {
	f := newFixture(t)
	f.source.put(channelID, 42, &Message{
		AuthorID: "someone else",
		Attachments: []Attachment{
			{URL: imageURL("a.png", f.expiry)},
			{URL: imageURL("b.png", f.expiry)},
			{URL: imageURL("c.png", f.expiry)},
		},
	})
	d, m := f.token(42, channelID)

	_, err := f.resolver.Resolve(context.Background(), d, m)
	assert.Equal(t, KindNotOwned, KindOf(err))
}

func TestResolveWithoutSelfIDRefuses(t *testing.T) {
	f := newFixture(t)
	f.source.self = ""
	d, m := f.token(messageID, channelID)

	_, err := f.resolver.Resolve(context.Background(), d, m)
	assert.Equal(t, KindNotOwned, KindOf(err))
}

func TestResolveMissingAttachments(t *testing.T) {
	f := newFixture(t)
	f.source.put(channelID, 43, &Message{
		AuthorID:    botID,
		Attachments: []Attachment{{URL: imageURL("preview.png", f.expiry)}},
	})
	d, m := f.token(43, channelID)

	_, err := f.resolver.Resolve(context.Background(), d, m)
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestResolveURLWithoutExpiry(t *testing.T) {
	f := newFixture(t)
	f.source.put(channelID, 44, &Message{
		AuthorID: botID,
		Attachments: []Attachment{
			{URL: "https://cdn.discordapp.com/preview.png"},
			{URL: "https://cdn.discordapp.com/left.png"},
			{URL: "https://cdn.discordapp.com/right.png"},
		},
	})
	d, m := f.token(44, channelID)

	_, err := f.resolver.Resolve(context.Background(), d, m)
	assert.Equal(t, KindInternal, KindOf(err))
	assert.ErrorIs(t, err, cache.ErrNoExpiry)
}

func TestResolveConcurrentColdRequests(t *testing.T) {
	f := newFixture(t)
	d, m := f.token(messageID, channelID)

	var wg sync.WaitGroup
	results := make([]*Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.resolver.Resolve(context.Background(), d, m)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, results[0].Entry, res.Entry)
		assert.Equal(t, results[0].Expires, res.Expires)
	}
}

// hangSource blocks every lookup until the caller gives up.
type hangSource struct{}

func (hangSource) Message(ctx context.Context, _, _ uint64) (*Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (hangSource) SelfID() string { return botID }

func TestResolveLookupIsBoundedByTimeout(t *testing.T) {
	f := newFixture(t)
	const timeout = 100 * time.Millisecond
	r := New(Config{Authenticator: f.auth, Cache: cache.NewMemory(), Source: hangSource{}, Timeout: timeout})
	d, m := f.token(messageID, channelID)

	start := time.Now()
	_, err := r.Resolve(context.Background(), d, m)
	elapsed := time.Since(start)

	assert.Equal(t, KindNotFound, KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, 10*timeout)
}

// vanishingCache reports a hit whose record is gone by the time its expiry
// is read.
type vanishingCache struct {
	cache.Cache
	entry cache.Entry
	hit   bool
}

func (v *vanishingCache) Get(ctx context.Context, key string) (cache.Entry, bool) {
	if !v.hit {
		v.hit = true
		return v.entry, true
	}
	return v.Cache.Get(ctx, key)
}

func (v *vanishingCache) Expiry(ctx context.Context, key string) (int64, error) {
	if _, ok := v.Cache.Get(ctx, key); !ok {
		return 0, fmt.Errorf("%w: %s", cache.ErrGone, key)
	}
	return v.Cache.Expiry(ctx, key)
}

func TestResolveExpiredBetweenHitAndExpiryFallsBackToLookup(t *testing.T) {
	f := newFixture(t)
	c := &vanishingCache{Cache: cache.NewMemory(), entry: cache.Entry{LeftImageURL: "stale", RightImageURL: "stale"}}
	r := New(Config{Authenticator: f.auth, Cache: c, Source: f.source, Timeout: time.Second})
	d, m := f.token(messageID, channelID)

	res, err := r.Resolve(context.Background(), d, m)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, imageURL("left.png", f.expiry+60), res.Entry.LeftImageURL)
	assert.Equal(t, f.expiry, res.Expires)
	assert.Equal(t, 1, f.source.lookups())
}

type brokenExpiryCache struct{ cache.Cache }

func (brokenExpiryCache) Get(context.Context, string) (cache.Entry, bool) {
	return cache.Entry{LeftImageURL: "l", RightImageURL: "r"}, true
}

func (brokenExpiryCache) Expiry(context.Context, string) (int64, error) {
	return 0, cache.ErrBackend
}

func TestResolveExpiryBackendFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	r := New(Config{Authenticator: f.auth, Cache: brokenExpiryCache{cache.NewMemory()}, Source: f.source})
	d, m := f.token(messageID, channelID)

	_, err := r.Resolve(context.Background(), d, m)
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Zero(t, f.source.lookups())
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindNotOwned, KindOf(fmt.Errorf("wrapped: %w", fail(KindNotOwned, nil))))
	assert.Equal(t, "resolve: not owned", fail(KindNotOwned, nil).Error())
}
