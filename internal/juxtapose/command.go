// Package juxtapose implements the /juxtapose slash command: it composes a
// side-by-side preview of two uploaded images, posts it together with the
// originals and links to a viewer that redeems a signed token.
package juxtapose

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"github.com/joebot/utilbot/internal/cache"
)

const (
	CommandName    = "juxtapose"
	MaxLabelLength = 100

	previewFileName = "preview.png"
	linkLabel       = "Open"
	linkEmoji       = "🔗"
)

// Definition is the slash command registered with Discord.
func Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        CommandName,
		Description: "Create a juxtapose by uploading two images.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionAttachment,
				Name:        "left_image",
				Description: "The image on the left side (or top).",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionAttachment,
				Name:        "right_image",
				Description: "The image on the right side (or bottom).",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "left_label",
				Description: "The label on the left side (or top).",
				MaxLength:   MaxLabelLength,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "right_label",
				Description: "The label on the right side (or bottom).",
				MaxLength:   MaxLabelLength,
			},
			{
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Name:        "vertical",
				Description: "Whether or not the juxtapose should be vertical instead of horizontal. Defaults to false.",
			},
		},
	}
}

// Attachment describes an uploaded image.
type Attachment struct {
	URL         string
	ProxyURL    string
	Filename    string
	ContentType string
	Size        int
	Width       int
	Height      int
}

// Request is one invocation of the command.
type Request struct {
	ChannelID  uint64
	Left       Attachment
	Right      Attachment
	LeftLabel  string
	RightLabel string
	Vertical   bool
}

// RequestFromInteraction extracts a Request from slash command data.
func RequestFromInteraction(channelID string, data discordgo.ApplicationCommandInteractionData) (Request, error) {
	var req Request
	id, err := strconv.ParseUint(channelID, 10, 64)
	if err != nil {
		return req, fmt.Errorf("channel id %q: %w", channelID, err)
	}
	req.ChannelID = id

	if req.Left, err = resolvedAttachment(data, "left_image"); err != nil {
		return req, err
	}
	if req.Right, err = resolvedAttachment(data, "right_image"); err != nil {
		return req, err
	}
	if opt := data.GetOption("left_label"); opt != nil {
		req.LeftLabel = opt.StringValue()
	}
	if opt := data.GetOption("right_label"); opt != nil {
		req.RightLabel = opt.StringValue()
	}
	if opt := data.GetOption("vertical"); opt != nil {
		req.Vertical = opt.BoolValue()
	}
	return req, nil
}

func resolvedAttachment(data discordgo.ApplicationCommandInteractionData, name string) (Attachment, error) {
	opt := data.GetOption(name)
	if opt == nil {
		return Attachment{}, fmt.Errorf("missing option %s", name)
	}
	id, _ := opt.Value.(string)
	if data.Resolved == nil || data.Resolved.Attachments[id] == nil {
		return Attachment{}, fmt.Errorf("option %s: attachment %q not resolved", name, id)
	}
	a := data.Resolved.Attachments[id]
	return Attachment{
		URL:         a.URL,
		ProxyURL:    a.ProxyURL,
		Filename:    a.Filename,
		ContentType: a.ContentType,
		Size:        a.Size,
		Width:       a.Width,
		Height:      a.Height,
	}, nil
}

// File is an upload for the reply.
type File struct {
	Name        string
	ContentType string
	Description string
	Data        []byte
}

// Responder answers one interaction.
type Responder interface {
	// Defer acknowledges the interaction so the work below may take longer
	// than Discord's initial response window.
	Defer(ctx context.Context) error
	// Reply replaces the deferred response with files and returns the ID of
	// the resulting message.
	Reply(ctx context.Context, files []File) (uint64, error)
	// AddLink attaches a link button to the reply.
	AddLink(ctx context.Context, label, emoji, url string) error
	// Fail replaces the deferred response with an error message.
	Fail(ctx context.Context, message string) error
}

// userError is shown to the invoking user verbatim.
type userError string

func (e userError) Error() string { return string(e) }

// ImageFetcher downloads resized attachment images.
type ImageFetcher interface {
	Fetch(ctx context.Context, proxyURL string, width, height int) ([]byte, error)
}

// Command runs /juxtapose.
type Command struct {
	issuer  *Issuer
	fetcher ImageFetcher
}

// NewCommand creates the command handler.
func NewCommand(issuer *Issuer, fetcher ImageFetcher) *Command {
	return &Command{issuer: issuer, fetcher: fetcher}
}

// Run handles one invocation. Failures the user can act on are reported in
// the response; the returned error is for logging.
func (c *Command) Run(ctx context.Context, resp Responder, req Request) error {
	if err := resp.Defer(ctx); err != nil {
		return fmt.Errorf("defer interaction: %w", err)
	}

	err := c.run(ctx, resp, req)
	if err == nil {
		return nil
	}

	message := "Something went wrong while creating the juxtapose."
	var ue userError
	if errors.As(err, &ue) {
		message = ue.Error()
	}
	if ferr := resp.Fail(ctx, message); ferr != nil {
		slog.Warn("report juxtapose failure", "err", ferr)
	}
	return err
}

type loadedImage struct {
	img  image.Image
	data []byte
}

func (c *Command) run(ctx context.Context, resp Responder, req Request) error {
	if err := validate(req); err != nil {
		return err
	}

	width, height := PreviewSize(req.Left.Width, req.Left.Height, req.Right.Width, req.Right.Height)
	if width == 0 || height == 0 {
		return userError("The images are too small to compare.")
	}

	var left, right loadedImage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		left, err = c.load(gctx, req.Left, width, height)
		return err
	})
	g.Go(func() (err error) {
		right, err = c.load(gctx, req.Right, width, height)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	preview := Compose(left.img, right.img, width, height, Layout{
		Vertical:   req.Vertical,
		LeftLabel:  req.LeftLabel,
		RightLabel: req.RightLabel,
	})
	encoded, err := EncodePNG(preview)
	if err != nil {
		return err
	}

	replyID, err := resp.Reply(ctx, []File{
		{Name: previewFileName, ContentType: "image/png", Data: encoded},
		{Name: req.Left.Filename, ContentType: req.Left.ContentType, Description: req.LeftLabel, Data: left.data},
		{Name: req.Right.Filename, ContentType: req.Right.ContentType, Description: req.RightLabel, Data: right.data},
	})
	if err != nil {
		return fmt.Errorf("%w (%v)", userError("Failed to upload images to Discord. Perhaps they are too large?"), err)
	}

	link := c.issuer.Issue(ctx, replyID, req.ChannelID, req.Vertical, cache.Entry{
		LeftImageURL:    req.Left.URL,
		RightImageURL:   req.Right.URL,
		LeftImageLabel:  req.LeftLabel,
		RightImageLabel: req.RightLabel,
	})

	if err := resp.AddLink(ctx, linkLabel, linkEmoji, link); err != nil {
		return fmt.Errorf("%w (%v)", userError("Failed to add button containing the juxtapose URL."), err)
	}
	slog.Info("juxtapose created", "channel_id", req.ChannelID, "message_id", replyID, "size", fmt.Sprintf("%dx%d", width, height))
	return nil
}

func validate(req Request) error {
	if req.Left.Size > MaxImageBytes || req.Right.Size > MaxImageBytes {
		return userError("The images must not be bigger than 16 MB.")
	}
	if req.Left.Width <= 0 || req.Left.Height <= 0 || !Supported(req.Left.ContentType) {
		return userError("The left (top) attachment is not a supported image.")
	}
	if req.Right.Width <= 0 || req.Right.Height <= 0 || !Supported(req.Right.ContentType) {
		return userError("The right (bottom) attachment is not a supported image.")
	}
	if utf8.RuneCountInString(req.LeftLabel) > MaxLabelLength || utf8.RuneCountInString(req.RightLabel) > MaxLabelLength {
		return userError(fmt.Sprintf("Labels must not be longer than %d characters.", MaxLabelLength))
	}
	return nil
}

func (c *Command) load(ctx context.Context, a Attachment, width, height int) (loadedImage, error) {
	source := a.ProxyURL
	if source == "" {
		source = a.URL
	}
	data, err := c.fetcher.Fetch(ctx, source, width, height)
	if err != nil {
		return loadedImage{}, fmt.Errorf("%w (%v)", userError("Failed to fetch image from CDN."), err)
	}
	img, err := Decode(data, a.ContentType)
	if err != nil {
		return loadedImage{}, fmt.Errorf("%w (%v)", userError("Failed to decode image: "+err.Error()), err)
	}
	return loadedImage{img: img, data: data}, nil
}
