// Package cache stores resolved juxtapose image URLs keyed by token payload.
//
// An entry lives exactly as long as the CDN links it holds: its expiry is the
// earliest "ex" timestamp embedded in either image URL.
package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// Record field names.
const (
	fieldLeftImage  = "left_image"
	fieldRightImage = "right_image"
	fieldLeftLabel  = "left_label"
	fieldRightLabel = "right_label"
)

// expiryParam is the CDN query parameter holding a hexadecimal UNIX timestamp.
const expiryParam = "ex"

var (
	ErrNoExpiry  = errors.New("cache: URL has no expiry parameter")
	ErrBadExpiry = errors.New("cache: expiry parameter is not hexadecimal")
	ErrBackend   = errors.New("cache: backend failure")
	// ErrGone reports a record that expired between a hit and its expiry read.
	ErrGone = errors.New("cache: record is gone")
)

// Entry is a resolved juxtapose. Empty labels are absent.
type Entry struct {
	LeftImageURL    string `json:"left_image_url"`
	RightImageURL   string `json:"right_image_url"`
	LeftImageLabel  string `json:"left_image_label,omitempty"`
	RightImageLabel string `json:"right_image_label,omitempty"`
}

// Cache is implemented by every backend.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool)
	Expiry(ctx context.Context, key string) (int64, error)
	Set(ctx context.Context, key string, e Entry) (int64, error)
}

// Expiry returns the UNIX time at which the first of the entry's image URLs
// stops being valid.
func (e Entry) Expiry() (int64, error) {
	left, err := URLExpiry(e.LeftImageURL)
	if err != nil {
		return 0, fmt.Errorf("left image: %w", err)
	}
	right, err := URLExpiry(e.RightImageURL)
	if err != nil {
		return 0, fmt.Errorf("right image: %w", err)
	}
	return min(left, right), nil
}

// URLExpiry extracts the hexadecimal "ex" query parameter of a CDN URL.
func URLExpiry(rawURL string) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoExpiry, err)
	}
	hexTS := u.Query().Get(expiryParam)
	if hexTS == "" {
		return 0, ErrNoExpiry
	}
	ts, err := strconv.ParseInt(hexTS, 16, 64)
	if err != nil || ts < 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadExpiry, hexTS)
	}
	return ts, nil
}

func (e Entry) fields() map[string]any {
	fields := map[string]any{
		fieldLeftImage:  e.LeftImageURL,
		fieldRightImage: e.RightImageURL,
	}
	if e.LeftImageLabel != "" {
		fields[fieldLeftLabel] = e.LeftImageLabel
	}
	if e.RightImageLabel != "" {
		fields[fieldRightLabel] = e.RightImageLabel
	}
	return fields
}

func entryFromFields(fields map[string]string) (Entry, bool) {
	left, okLeft := fields[fieldLeftImage]
	right, okRight := fields[fieldRightImage]
	if !okLeft || !okRight {
		return Entry{}, false
	}
	return Entry{
		LeftImageURL:    left,
		RightImageURL:   right,
		LeftImageLabel:  fields[fieldLeftLabel],
		RightImageLabel: fields[fieldRightLabel],
	}, true
}
