package juxtapose

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joebot/utilbot/internal/auth"
	"github.com/joebot/utilbot/internal/cache"
	"github.com/joebot/utilbot/internal/token"
)

const (
	testChannelID = uint64(987654321098765)
	testReplyID   = uint64(123456789012345)
)

type fakeResponder struct {
	deferErr error
	replyErr error

	deferred bool
	files    []File
	link     string
	failure  string
}

func (f *fakeResponder) Defer(context.Context) error {
	f.deferred = true
	return f.deferErr
}

func (f *fakeResponder) Reply(_ context.Context, files []File) (uint64, error) {
	if f.replyErr != nil {
		return 0, f.replyErr
	}
	f.files = files
	return testReplyID, nil
}

func (f *fakeResponder) AddLink(_ context.Context, label, emoji, url string) error {
	f.link = url
	return nil
}

func (f *fakeResponder) Fail(_ context.Context, message string) error {
	f.failure = message
	return nil
}

type fakeFetcher struct {
	mu     sync.Mutex
	images map[string][]byte
	sizes  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, proxyURL string, width, height int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes = append(f.sizes, fmt.Sprintf("%dx%d", width, height))
	data, ok := f.images[proxyURL]
	if !ok {
		return nil, errors.New("404")
	}
	return data, nil
}

func cdnURL(name string, ex int64) string {
	return fmt.Sprintf("https://cdn.discordapp.com/ephemeral-attachments/1/2/%s?ex=%x&is=0&hm=00", name, ex)
}

type commandFixture struct {
	cmd     *Command
	fetcher *fakeFetcher
	cache   *cache.Memory
	auth    *auth.Authenticator
	req     Request
	expiry  int64
}

func newCommandFixture(t *testing.T) *commandFixture {
	t.Helper()
	a := auth.NewAuthenticator(auth.DeriveKey("test key material"))
	c := cache.NewMemory()
	issuer, err := NewIssuer(a, c, "https://juxtapose.example/view")
	require.NoError(t, err)

	fetcher := &fakeFetcher{images: map[string][]byte{
		"https://media.discordapp.net/left.png":  pngBytes(t, solid(64, 48, red)),
		"https://media.discordapp.net/right.png": pngBytes(t, solid(64, 48, blue)),
	}}
	expiry := time.Now().Add(24 * time.Hour).Unix()

	return &commandFixture{
		cmd:     NewCommand(issuer, fetcher),
		fetcher: fetcher,
		cache:   c,
		auth:    a,
		expiry:  expiry,
		req: Request{
			ChannelID: testChannelID,
			Left: Attachment{
				URL: cdnURL("left.png", expiry), ProxyURL: "https://media.discordapp.net/left.png",
				Filename: "left.png", ContentType: "image/png", Size: 1024, Width: 640, Height: 480,
			},
			Right: Attachment{
				URL: cdnURL("right.png", expiry+60), ProxyURL: "https://media.discordapp.net/right.png",
				Filename: "right.png", ContentType: "image/png", Size: 2048, Width: 800, Height: 400,
			},
			LeftLabel: "before",
		},
	}
}

func TestCommandRun(t *testing.T) {
	f := newCommandFixture(t)
	resp := &fakeResponder{}

	require.NoError(t, f.cmd.Run(context.Background(), resp, f.req))
	assert.True(t, resp.deferred)
	assert.Empty(t, resp.failure)
	assert.Equal(t, []string{"640x400", "640x400"}, f.fetcher.sizes)

	require.Len(t, resp.files, 3)
	assert.Equal(t, "preview.png", resp.files[0].Name)
	assert.Equal(t, "left.png", resp.files[1].Name)
	assert.Equal(t, "before", resp.files[1].Description)
	assert.Equal(t, "right.png", resp.files[2].Name)
	assert.Empty(t, resp.files[2].Description)

	preview, err := Decode(resp.files[0].Data, "image/png")
	require.NoError(t, err)
	assert.Equal(t, 640, preview.Bounds().Dx())
	assert.Equal(t, 400, preview.Bounds().Dy())

	// The link carries the reply's token and redeems from the seeded cache.
	link, err := url.Parse(resp.link)
	require.NoError(t, err)
	assert.Equal(t, "juxtapose.example", link.Host)
	assert.Equal(t, "h", link.Query().Get("o"))

	d := link.Query().Get("d")
	payload, err := token.DecodeText(d)
	require.NoError(t, err)
	msgID, chID, err := token.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, testReplyID, msgID)
	assert.Equal(t, testChannelID, chID)

	mac, err := token.DecodeText(link.Query().Get("m"))
	require.NoError(t, err)
	assert.True(t, f.auth.Verify(payload, mac))

	entry, ok := f.cache.Get(context.Background(), d)
	require.True(t, ok)
	assert.Equal(t, cache.Entry{
		LeftImageURL:   f.req.Left.URL,
		RightImageURL:  f.req.Right.URL,
		LeftImageLabel: "before",
	}, entry)
	expiry, err := f.cache.Expiry(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, f.expiry, expiry)
}

func TestCommandRunVerticalLink(t *testing.T) {
	f := newCommandFixture(t)
	f.req.Vertical = true
	resp := &fakeResponder{}

	require.NoError(t, f.cmd.Run(context.Background(), resp, f.req))
	link, err := url.Parse(resp.link)
	require.NoError(t, err)
	assert.Equal(t, "v", link.Query().Get("o"))
}

func TestCommandRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Request)
		want   string
	}{
		{"oversized", func(r *Request) { r.Right.Size = MaxImageBytes + 1 }, "The images must not be bigger than 16 MB."},
		{"left without dimensions", func(r *Request) { r.Left.Width = 0 }, "The left (top) attachment is not a supported image."},
		{"right not an image", func(r *Request) { r.Right.ContentType = "application/pdf" }, "The right (bottom) attachment is not a supported image."},
		{"long label", func(r *Request) { r.RightLabel = string(make([]rune, MaxLabelLength+1)) }, "Labels must not be longer than 100 characters."},
		{"download fails", func(r *Request) { r.Left.ProxyURL = "https://media.discordapp.net/gone.png" }, "Failed to fetch image from CDN."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCommandFixture(t)
			tt.modify(&f.req)
			resp := &fakeResponder{}

			err := f.cmd.Run(context.Background(), resp, f.req)
			require.Error(t, err)
			assert.Equal(t, tt.want, resp.failure)
			assert.Empty(t, resp.files)
			assert.Empty(t, resp.link)
		})
	}
}

func TestCommandUploadFailure(t *testing.T) {
	f := newCommandFixture(t)
	resp := &fakeResponder{replyErr: errors.New("413 Payload Too Large")}

	err := f.cmd.Run(context.Background(), resp, f.req)
	require.Error(t, err)
	assert.Equal(t, "Failed to upload images to Discord. Perhaps they are too large?", resp.failure)
	assert.Empty(t, resp.link)
}

func TestCommandDeferFailureStops(t *testing.T) {
	f := newCommandFixture(t)
	resp := &fakeResponder{deferErr: errors.New("unknown interaction")}

	require.Error(t, f.cmd.Run(context.Background(), resp, f.req))
	assert.Empty(t, f.fetcher.sizes)
	assert.Empty(t, resp.failure)
}

func TestIssueSeedFailureStillReturnsLink(t *testing.T) {
	a := auth.NewAuthenticator(auth.DeriveKey("k"))
	issuer, err := NewIssuer(a, cache.NewMemory(), "https://juxtapose.example/")
	require.NoError(t, err)

	link := issuer.Issue(context.Background(), 1, 2, false, cache.Entry{LeftImageURL: "no-expiry", RightImageURL: "no-expiry"})
	assert.Contains(t, link, "https://juxtapose.example/?")
	assert.Contains(t, link, "o=h")
}

func TestNewIssuerRejectsRelativeURL(t *testing.T) {
	_, err := NewIssuer(auth.NewAuthenticator(auth.DeriveKey("k")), cache.NewMemory(), "/relative")
	assert.Error(t, err)
}

func TestRequestFromInteraction(t *testing.T) {
	data := discordgo.ApplicationCommandInteractionData{
		Name: CommandName,
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{Name: "left_image", Type: discordgo.ApplicationCommandOptionAttachment, Value: "11"},
			{Name: "right_image", Type: discordgo.ApplicationCommandOptionAttachment, Value: "22"},
			{Name: "right_label", Type: discordgo.ApplicationCommandOptionString, Value: "after"},
			{Name: "vertical", Type: discordgo.ApplicationCommandOptionBoolean, Value: true},
		},
		Resolved: &discordgo.ApplicationCommandInteractionDataResolved{
			Attachments: map[string]*discordgo.MessageAttachment{
				"11": {ID: "11", URL: "https://cdn/l.png", ProxyURL: "https://media/l.png", Filename: "l.png", ContentType: "image/png", Width: 10, Height: 20, Size: 300},
				"22": {ID: "22", URL: "https://cdn/r.webp", Filename: "r.webp", ContentType: "image/webp", Width: 30, Height: 40},
			},
		},
	}

	req, err := RequestFromInteraction("987654321098765", data)
	require.NoError(t, err)
	assert.Equal(t, testChannelID, req.ChannelID)
	assert.Equal(t, Attachment{URL: "https://cdn/l.png", ProxyURL: "https://media/l.png", Filename: "l.png", ContentType: "image/png", Size: 300, Width: 10, Height: 20}, req.Left)
	assert.Equal(t, "r.webp", req.Right.Filename)
	assert.Empty(t, req.LeftLabel)
	assert.Equal(t, "after", req.RightLabel)
	assert.True(t, req.Vertical)

	data.Resolved.Attachments = nil
	_, err = RequestFromInteraction("987654321098765", data)
	assert.Error(t, err)

	_, err = RequestFromInteraction("not-a-snowflake", data)
	assert.Error(t, err)
}

func TestDefinition(t *testing.T) {
	def := Definition()
	assert.Equal(t, CommandName, def.Name)
	require.Len(t, def.Options, 5)
	assert.True(t, def.Options[0].Required)
	assert.True(t, def.Options[1].Required)
	assert.Equal(t, MaxLabelLength, def.Options[2].MaxLength)
	assert.Equal(t, discordgo.ApplicationCommandOptionBoolean, def.Options[4].Type)
}

func TestFetcherResizesAndLimits(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		switch r.URL.Path {
		case "/ok.png":
			w.Write([]byte("image-bytes"))
		case "/big.png":
			w.Write(make([]byte, 64))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	fetcher := NewFetcher(5 * time.Second)
	data, err := fetcher.Fetch(context.Background(), srv.URL+"/ok.png?ex=1", 640, 400)
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(data))
	assert.Equal(t, "640", gotQuery.Get("width"))
	assert.Equal(t, "400", gotQuery.Get("height"))
	assert.Equal(t, "1", gotQuery.Get("ex"))

	_, err = fetcher.Fetch(context.Background(), srv.URL+"/missing.png", 1, 1)
	assert.Error(t, err)

	fetcher.maxBytes = 32
	_, err = fetcher.Fetch(context.Background(), srv.URL+"/big.png", 1, 1)
	assert.Error(t, err)
}
