// Package token encodes the identifiers of a juxtapose reply into the compact
// payload carried by redeemable links.
//
// The wire format is two little-endian uint64 values, message ID then channel
// ID. There is no version byte; changing the layout requires rotating the MAC
// key context so that old links stop verifying.
package token

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// IDSize is the width of one encoded identifier.
	IDSize = 8
	// PayloadSize is the length of an encoded payload.
	PayloadSize = 2 * IDSize
)

var (
	ErrMalformed   = errors.New("token: malformed encoding")
	ErrWrongLength = errors.New("token: payload length is not a valid identifier sequence")
	ErrTooShort    = errors.New("token: payload is missing identifiers")
)

// Strict decoding rejects non-zero trailing bits. DecodeText also requires the
// input to re-encode to itself, since the decoder skips CR and LF, so every
// payload has exactly one accepted text form and cache keys cannot alias.
var textEncoding = base64.RawURLEncoding.Strict()

// Encode packs a message ID and a channel ID into a payload.
func Encode(messageID, channelID uint64) []byte {
	payload := make([]byte, PayloadSize)
	binary.LittleEndian.PutUint64(payload[:IDSize], messageID)
	binary.LittleEndian.PutUint64(payload[IDSize:], channelID)
	return payload
}

// Decode unpacks a payload produced by Encode.
func Decode(payload []byte) (messageID, channelID uint64, err error) {
	if len(payload)%IDSize != 0 {
		return 0, 0, fmt.Errorf("%w: %d bytes", ErrWrongLength, len(payload))
	}
	if len(payload) < PayloadSize {
		return 0, 0, fmt.Errorf("%w: got %d of 2", ErrTooShort, len(payload)/IDSize)
	}
	if len(payload) > PayloadSize {
		return 0, 0, fmt.Errorf("%w: %d bytes", ErrWrongLength, len(payload))
	}
	messageID = binary.LittleEndian.Uint64(payload[:IDSize])
	channelID = binary.LittleEndian.Uint64(payload[IDSize:])
	return messageID, channelID, nil
}

// EncodeText returns the URL-safe, unpadded base64 form of b.
func EncodeText(b []byte) string {
	return textEncoding.EncodeToString(b)
}

// DecodeText is the inverse of EncodeText. Only the exact output of
// EncodeText is accepted.
func DecodeText(s string) ([]byte, error) {
	b, err := textEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if EncodeText(b) != s {
		return nil, fmt.Errorf("%w: non-canonical text", ErrMalformed)
	}
	return b, nil
}
