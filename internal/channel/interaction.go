package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/joebot/utilbot/internal/juxtapose"
)

// interactionResponder answers one application command through its
// interaction token.
type interactionResponder struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction
}

var _ juxtapose.Responder = (*interactionResponder)(nil)

func (r *interactionResponder) Defer(ctx context.Context) error {
	resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredChannelMessageWithSource}
	return r.session.InteractionRespond(r.interaction, resp, discordgo.WithContext(ctx))
}

// replyAttachment carries the per-file metadata of a multipart upload.
// discordgo's attachment type has no description field, so the payload is
// built here.
type replyAttachment struct {
	ID          int    `json:"id"`
	Filename    string `json:"filename"`
	Description string `json:"description,omitempty"`
}

type replyPayload struct {
	Content     string            `json:"content"`
	Attachments []replyAttachment `json:"attachments"`
}

func (r *interactionResponder) Reply(ctx context.Context, files []juxtapose.File) (uint64, error) {
	payload := replyPayload{Attachments: make([]replyAttachment, len(files))}
	uploads := make([]*discordgo.File, len(files))
	for i, f := range files {
		payload.Attachments[i] = replyAttachment{ID: i, Filename: f.Name, Description: f.Description}
		uploads[i] = &discordgo.File{Name: f.Name, ContentType: f.ContentType, Reader: bytes.NewReader(f.Data)}
	}

	contentType, body, err := discordgo.MultipartBodyWithJSON(payload, uploads)
	if err != nil {
		return 0, fmt.Errorf("encode reply: %w", err)
	}

	uri := discordgo.EndpointWebhookMessage(r.interaction.AppID, r.interaction.Token, "@original")
	raw, err := r.session.RequestRaw(http.MethodPatch, uri, contentType, body, uri, 0, discordgo.WithContext(ctx))
	if err != nil {
		return 0, err
	}

	var msg struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return 0, fmt.Errorf("decode reply: %w", err)
	}
	if msg.ID == "" {
		return 0, errors.New("reply has no message id")
	}
	id, err := strconv.ParseUint(msg.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("reply message id %q: %w", msg.ID, err)
	}
	return id, nil
}

func (r *interactionResponder) AddLink(ctx context.Context, label, emoji, url string) error {
	components := []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{
				Label: label,
				Style: discordgo.LinkButton,
				Emoji: &discordgo.ComponentEmoji{Name: emoji},
				URL:   url,
			},
		}},
	}
	_, err := r.session.InteractionResponseEdit(r.interaction, &discordgo.WebhookEdit{Components: &components}, discordgo.WithContext(ctx))
	return err
}

func (r *interactionResponder) Fail(ctx context.Context, message string) error {
	_, err := r.session.InteractionResponseEdit(r.interaction, &discordgo.WebhookEdit{Content: &message}, discordgo.WithContext(ctx))
	return err
}
