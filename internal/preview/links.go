// Package preview posts excerpts of source files linked in chat: GitHub
// repository files and Gists with line anchors.
package preview

import (
	"errors"
	"regexp"
	"slices"
	"strconv"
)

// Kind identifies the site a link points at.
type Kind int

const (
	KindGitHubFile Kind = iota
	KindGist
)

func (k Kind) String() string {
	if k == KindGist {
		return "gist"
	}
	return "github"
}

var (
	githubFileRe = regexp.MustCompile(`https://github\.com(?:/[^/\s]+){2}/(?:blob|blame)(?:/[^/\s]+)+#[^/\s]+`)
	gistRe       = regexp.MustCompile(`https://gist\.github\.com(?:/[^/\s]+){2}#file\-[^\s]+`)
	lineAnchorRe = regexp.MustCompile(`L(\d+)`)
)

var ErrNoLines = errors.New("link has no line anchor")

// Link is a previewable URL found in a message.
type Link struct {
	URL  string
	Kind Kind
	// Pos is the byte offset of the URL in the message.
	Pos int
}

// FindLinks returns the previewable links in content in order of appearance.
func FindLinks(content string) []Link {
	var links []Link
	for _, loc := range githubFileRe.FindAllStringIndex(content, -1) {
		links = append(links, Link{URL: content[loc[0]:loc[1]], Kind: KindGitHubFile, Pos: loc[0]})
	}
	for _, loc := range gistRe.FindAllStringIndex(content, -1) {
		links = append(links, Link{URL: content[loc[0]:loc[1]], Kind: KindGist, Pos: loc[0]})
	}
	slices.SortFunc(links, func(a, b Link) int { return a.Pos - b.Pos })
	return links
}

// LineRange returns the first and last line referenced by the L<n> anchors
// in fragment. Lines are 1-based.
func LineRange(fragment string) (first, last int, err error) {
	for _, m := range lineAnchorRe.FindAllStringSubmatch(fragment, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			continue
		}
		if first == 0 || n < first {
			first = n
		}
		if n > last {
			last = n
		}
	}
	if first == 0 {
		return 0, 0, ErrNoLines
	}
	return first, last, nil
}
