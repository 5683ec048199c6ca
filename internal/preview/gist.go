package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxDescriptionLength = 128

var (
	gistFileRe = regexp.MustCompile(`file-([^L]+)`)

	errNoGistFile = errors.New("gist link does not name a file")
)

// Gist loads files from gist.github.com links.
type Gist struct {
	fetcher
}

// NewGist creates a Gist source.
func NewGist(client *http.Client, maxBytes int64) *Gist {
	return &Gist{fetcher: fetcher{client: client, maxBytes: maxBytes}}
}

type gistMetadata struct {
	Description string   `json:"description"`
	Owner       string   `json:"owner"`
	Files       []string `json:"files"`
}

// normalizeFileName keeps lowercase letters and digits. Gist anchors mangle
// file names, so both sides are compared in this form.
func normalizeFileName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-3]) + "..."
}

func (g *Gist) Load(ctx context.Context, link string) (*File, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("parse link: %w", err)
	}
	m := gistFileRe.FindStringSubmatch(u.Fragment)
	if m == nil {
		return nil, errNoGistFile
	}
	wanted := normalizeFileName(m[1])

	base := *u
	base.Fragment = ""
	base.RawQuery = ""

	metaURL := base
	metaURL.Path = strings.TrimSuffix(base.Path, "/") + ".json"
	meta, err := g.metadata(ctx, metaURL.String())
	if err != nil {
		return nil, err
	}

	var name string
	for _, f := range meta.Files {
		if normalizeFileName(f) == wanted {
			name = f
			break
		}
	}
	if name == "" {
		return nil, fmt.Errorf("gist has no file matching %q", m[1])
	}

	rawURL := base.JoinPath("raw", name)
	content, err := g.text(ctx, rawURL.String())
	if err != nil {
		return nil, err
	}

	var header strings.Builder
	fmt.Fprintf(&header, "**%s**\n%s\n", escape(meta.Owner), escape(name))
	if meta.Description != "" {
		fmt.Fprintf(&header, "> %s\n", escape(truncate(meta.Description, maxDescriptionLength)))
	}
	return &File{
		Link:    link,
		Header:  header.String(),
		Name:    name,
		Content: content,
	}, nil
}

func (g *Gist) metadata(ctx context.Context, metaURL string) (*gistMetadata, error) {
	data, err := g.body(ctx, metaURL)
	if err != nil {
		return nil, err
	}

	var meta gistMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode gist metadata: %w", err)
	}
	return &meta, nil
}
