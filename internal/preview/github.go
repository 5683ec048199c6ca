package preview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
)

const DefaultRawBaseURL = "https://raw.githubusercontent.com"

var errNotRepoFile = errors.New("not a GitHub repository file URL")

// GitHub loads files from github.com blob and blame links.
type GitHub struct {
	fetcher
	rawBase *url.URL
}

// NewGitHub creates a source that downloads raw files from rawBaseURL.
func NewGitHub(client *http.Client, rawBaseURL string, maxBytes int64) (*GitHub, error) {
	u, err := url.Parse(rawBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse raw base url: %w", err)
	}
	return &GitHub{fetcher: fetcher{client: client, maxBytes: maxBytes}, rawBase: u}, nil
}

type repoFile struct {
	owner, repo, ref, path string
}

func parseRepoFile(u *url.URL) (repoFile, error) {
	segs := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	if len(segs) < 5 || (segs[2] != "blob" && segs[2] != "blame") {
		return repoFile{}, errNotRepoFile
	}
	return repoFile{
		owner: segs[0],
		repo:  segs[1],
		ref:   segs[3],
		path:  strings.Join(segs[4:], "/"),
	}, nil
}

// shortRef abbreviates full commit hashes the way GitHub shows them.
func shortRef(ref string) string {
	if len(ref) != 40 {
		return ref
	}
	for _, c := range ref {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return ref
		}
	}
	return ref[:7]
}

func (g *GitHub) Load(ctx context.Context, link string) (*File, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("parse link: %w", err)
	}
	rf, err := parseRepoFile(u)
	if err != nil {
		return nil, err
	}

	raw := *g.rawBase
	raw.Path = path.Join("/", g.rawBase.Path, rf.owner, rf.repo, rf.ref, rf.path)
	raw.RawPath = ""

	content, err := g.text(ctx, raw.String())
	if err != nil {
		return nil, err
	}

	header := fmt.Sprintf("**%s**/**%s** (on %s)\n%s\n",
		escape(rf.owner), escape(rf.repo), escape(shortRef(rf.ref)), escape(rf.path))
	return &File{
		Link:    link,
		Header:  header,
		Name:    path.Base(rf.path),
		Content: content,
	}, nil
}
