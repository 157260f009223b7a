package wallet

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultLoginMessage is the text wallets sign to log in.
const DefaultLoginMessage = "Login to Relay"

var (
	// ErrChallengeMismatch is returned when the signed message does not start
	// with the expected login text.
	ErrChallengeMismatch = errors.New("wallet: signed message is not a login challenge")

	// ErrStaleChallenge is returned when the challenge timestamp is outside the
	// allowed clock skew.
	ErrStaleChallenge = errors.New("wallet: login challenge expired")
)

// Challenge decides which message a login signature must cover. Clients sign
// either the bare prefix or the prefix followed by a Unix millisecond
// timestamp ("Login to Relay 1712345678901"). With MaxSkew set, a timestamp
// is required and must be within MaxSkew of now.
type Challenge struct {
	Prefix  string
	MaxSkew time.Duration
	Now     func() time.Time
}

// Resolve returns the message to verify for a login that supplied message
// (possibly empty, meaning the bare prefix).
func (c Challenge) Resolve(message string) (string, error) {
	prefix := c.Prefix
	if prefix == "" {
		prefix = DefaultLoginMessage
	}
	if message == "" {
		message = prefix
	}
	if !strings.HasPrefix(message, prefix) {
		return "", fmt.Errorf("%w: want prefix %q", ErrChallengeMismatch, prefix)
	}
	if c.MaxSkew <= 0 {
		return message, nil
	}

	suffix := strings.TrimSpace(strings.TrimPrefix(message, prefix))
	ms, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: missing timestamp", ErrStaleChallenge)
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	skew := now().Sub(time.UnixMilli(ms))
	if skew < 0 {
		skew = -skew
	}
	if skew > c.MaxSkew {
		return "", fmt.Errorf("%w: signed %s from now", ErrStaleChallenge, skew.Round(time.Second))
	}
	return message, nil
}

// FormatChallenge returns the timestamped login message a client signs.
func FormatChallenge(prefix string, at time.Time) string {
	if prefix == "" {
		prefix = DefaultLoginMessage
	}
	return prefix + " " + strconv.FormatInt(at.UnixMilli(), 10)
}
