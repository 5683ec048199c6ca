package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/joebot/utilbot/internal/resolve"
)

// Message fetches a channel message for token resolution. The raw
// response is decoded here because discordgo drops attachment
// descriptions.
func (d *Discord) Message(ctx context.Context, channelID, messageID uint64) (*resolve.Message, error) {
	cid := strconv.FormatUint(channelID, 10)
	mid := strconv.FormatUint(messageID, 10)
	uri := discordgo.EndpointChannelMessage(cid, mid)
	body, err := d.session.RequestWithBucketID(http.MethodGet, uri, nil, discordgo.EndpointChannelMessage(cid, ""), discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get message %s/%s: %w", cid, mid, err)
	}
	return parseMessage(body)
}

func parseMessage(body []byte) (*resolve.Message, error) {
	var raw struct {
		Author struct {
			ID string `json:"id"`
		} `json:"author"`
		Attachments []resolve.Attachment `json:"attachments"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &resolve.Message{AuthorID: raw.Author.ID, Attachments: raw.Attachments}, nil
}
