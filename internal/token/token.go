// Package token encodes and decodes the opaque tokens handed out in
// share links and verification prompts.
//
// A token is a two character discriminator (kind letter and format
// version) followed by the unpadded base64url encoding of a fixed size
// binary payload. The whole token is 40 characters and only uses
// [A-Za-z0-9_-], so it fits a Telegram /start parameter as is.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Kind discriminates what a token refers to.
type Kind byte

const (
	// KindLink marks a protected destination link token.
	KindLink Kind = 'L'
	// KindVerify marks a one-shot verification token.
	KindVerify Kind = 'V'
)

const (
	version = '1'

	nonceLen   = 12
	payloadLen = 8 + 8 + nonceLen
	prefixLen  = 2

	// Len is the length of every encoded token.
	Len = prefixLen + (payloadLen*8+5)/6
)

// ErrInvalidFormat is returned for any input that is not a well formed token.
var ErrInvalidFormat = errors.New("token: invalid format")

var b64 = base64.RawURLEncoding.Strict()

// Payload is the information carried by a token.
type Payload struct {
	CreatedAt int64
	ExpiresAt int64
	Nonce     [nonceLen]byte
}

// NewPayload builds a payload valid for ttl starting at now, with a fresh
// random nonce.
func NewPayload(now time.Time, ttl time.Duration) (Payload, error) {
	if ttl < time.Second {
		return Payload{}, fmt.Errorf("token: ttl %s is shorter than one second", ttl)
	}
	p := Payload{
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	if _, err := rand.Read(p.Nonce[:]); err != nil {
		return Payload{}, fmt.Errorf("token: read nonce: %w", err)
	}
	return p, nil
}

// Expired reports whether the payload is no longer valid at now.
func (p Payload) Expired(now time.Time) bool {
	return now.Unix() >= p.ExpiresAt
}

// Encode returns the textual form of a token of the given kind.
func Encode(kind Kind, p Payload) string {
	var raw [payloadLen]byte
	binary.BigEndian.PutUint64(raw[0:8], uint64(p.CreatedAt))
	binary.BigEndian.PutUint64(raw[8:16], uint64(p.ExpiresAt))
	copy(raw[16:], p.Nonce[:])

	buf := make([]byte, prefixLen, Len)
	buf[0] = byte(kind)
	buf[1] = version
	return string(b64.AppendEncode(buf, raw[:]))
}

// Decode parses a token produced by Encode. Anything else, including
// tokens of an unknown kind or version, yields ErrInvalidFormat.
func Decode(raw string) (Kind, Payload, error) {
	if len(raw) != Len {
		return 0, Payload{}, ErrInvalidFormat
	}
	kind := Kind(raw[0])
	if kind != KindLink && kind != KindVerify {
		return 0, Payload{}, ErrInvalidFormat
	}
	if raw[1] != version {
		return 0, Payload{}, ErrInvalidFormat
	}

	b, err := b64.DecodeString(raw[prefixLen:])
	if err != nil || len(b) != payloadLen {
		return 0, Payload{}, ErrInvalidFormat
	}

	var p Payload
	p.CreatedAt = int64(binary.BigEndian.Uint64(b[0:8]))
	p.ExpiresAt = int64(binary.BigEndian.Uint64(b[8:16]))
	copy(p.Nonce[:], b[16:])
	if p.ExpiresAt <= p.CreatedAt {
		return 0, Payload{}, ErrInvalidFormat
	}
	return kind, p, nil
}

// KindOf returns the kind of a well formed token.
func KindOf(raw string) (Kind, bool) {
	kind, _, err := Decode(raw)
	return kind, err == nil
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindLink:
		return "link"
	case KindVerify:
		return "verify"
	default:
		return "unknown"
	}
}

// Redacted wraps a raw token so that it never reaches the logs verbatim.
type Redacted string

// LogValue implements slog.LogValuer. Only the discriminator and the
// last four characters are kept.
func (r Redacted) LogValue() slog.Value {
	s := string(r)
	if len(s) <= prefixLen+4 {
		return slog.StringValue("***")
	}
	return slog.StringValue(s[:prefixLen] + "***" + s[len(s)-4:])
}
