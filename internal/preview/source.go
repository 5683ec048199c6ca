package preview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
)

// DefaultMaxFileBytes bounds the raw file download.
const DefaultMaxFileBytes = 4 * 1024 * 1024

const userAgent = "utilbot (file preview)"

var ErrTooLarge = errors.New("file is too large")

// File is a source file ready to be excerpted.
type File struct {
	// Link is the URL the user posted.
	Link string
	// Header is the Markdown shown above the excerpt.
	Header string
	// Name is the file name, used for the language hint.
	Name    string
	Content string
}

// Extension returns the file's extension without the dot, or "".
func (f *File) Extension() string {
	return strings.TrimPrefix(path.Ext(f.Name), ".")
}

// Source loads the file a link points at.
type Source interface {
	Load(ctx context.Context, link string) (*File, error)
}

// fetcher is the HTTP plumbing shared by the sources.
type fetcher struct {
	client   *http.Client
	maxBytes int64
}

func (f *fetcher) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: HTTP %d", url, resp.StatusCode)
	}
	return resp, nil
}

// body downloads url, failing with ErrTooLarge past maxBytes.
func (f *fetcher) body(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, f.maxBytes)
	}
	return data, nil
}

func (f *fetcher) text(ctx context.Context, url string) (string, error) {
	data, err := f.body(ctx, url)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"~", `\~`,
	"`", "\\`",
	"|", `\|`,
	">", `\>`,
)

// escape neutralizes Markdown in user-controlled header text.
func escape(s string) string {
	return markdownEscaper.Replace(s)
}
