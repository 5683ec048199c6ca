package preview

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/joebot/utilbot/internal/bus"
)

const (
	// Excerpts longer than this, or with more lines than maxInlineLines, are
	// sent as a file instead of a code block.
	maxInlineLength = 1900
	maxInlineLines  = 6

	deletePrefix = "deleteFilePreview:"
)

var errEmptySelection = errors.New("no lines selected")

// languageAliases maps extensions the highlighter does not know.
var languageAliases = map[string]string{
	"vsh":  "glsl",
	"fsh":  "glsl",
	"gsh":  "glsl",
	"csh":  "glsl",
	"vert": "glsl",
	"frag": "glsl",
	"inc":  "glsl",
}

func language(ext string) string {
	if alias, ok := languageAliases[ext]; ok {
		return alias
	}
	return ext
}

// Excerpt renders lines first..last of content with right-aligned line
// numbers. Lines past the end of the file are dropped.
func Excerpt(content string, first, last int) (string, int, error) {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	// A trailing newline does not start another line.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	if first < 1 || first > len(lines) || last < first {
		return "", 0, errEmptySelection
	}
	selected := lines[first-1 : min(last, len(lines))]

	width := len(strconv.Itoa(first + len(selected) - 1))
	var b strings.Builder
	for i, line := range selected {
		fmt.Fprintf(&b, "%*d | %s\n", width, first+i, line)
	}
	return b.String(), len(selected), nil
}

// DeleteCustomID is the custom ID of the delete button on previews of
// messages by authorID.
func DeleteCustomID(authorID string) string {
	return deletePrefix + authorID
}

// ParseDeleteCustomID returns the author encoded in a delete button's custom
// ID.
func ParseDeleteCustomID(customID string) (string, bool) {
	authorID, ok := strings.CutPrefix(customID, deletePrefix)
	return authorID, ok && authorID != ""
}

// Render builds the reply previewing f for the message msg.
func Render(f *File, msg *bus.InboundMessage) (*bus.OutboundMessage, error) {
	u, err := url.Parse(f.Link)
	if err != nil {
		return nil, fmt.Errorf("parse link: %w", err)
	}
	first, last, err := LineRange(u.Fragment)
	if err != nil {
		return nil, err
	}
	excerpt, lines, err := Excerpt(f.Content, first, last)
	if err != nil {
		return nil, err
	}

	out := &bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		ReplyTo: msg.MessageID,
		Buttons: []bus.Button{
			{Label: "Open", Emoji: "🔗", URL: f.Link},
			{Emoji: "🗑", CustomID: DeleteCustomID(msg.SenderID)},
		},
	}

	lang := language(f.Extension())
	if len(excerpt)+len(f.Header) > maxInlineLength || lines > maxInlineLines {
		ext := lang
		if ext == "" {
			ext = "txt"
		}
		out.Content = f.Header
		out.Files = []bus.File{{Name: "preview." + ext, Data: []byte(excerpt)}}
		return out, nil
	}

	// Keep the excerpt from closing the code block early.
	safe := strings.ReplaceAll(excerpt, "```", "`\u200b``")
	out.Content = f.Header + "```" + lang + "\n" + safe + "```"
	return out, nil
}
