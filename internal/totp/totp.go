// Package totp generates RFC 6238 time-based one-time codes for the
// portal's second authentication factor.
//
// Generation is a pure function of the shared secret and the supplied time,
// so callers inject the clock and tests use fixed timestamps.
package totp

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/custodia-labs/casewatch/internal/core/domain"
)

const (
	// Period is the fixed interval a code is valid for.
	Period = 30 * time.Second

	// MaxSkew bounds how many adjacent intervals Window considers.
	MaxSkew = 1
)

var opts = totp.ValidateOpts{
	Period:    uint(Period / time.Second),
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// Generate returns the code for the interval containing at.
// Returns domain.ErrInvalidSecret if the secret is not valid base32.
func Generate(secret string, at time.Time) (string, error) {
	normalised := normalise(secret)
	if normalised == "" {
		return "", fmt.Errorf("%w: empty secret", domain.ErrInvalidSecret)
	}
	code, err := totp.GenerateCodeCustom(normalised, at, opts)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidSecret, err)
	}
	return code, nil
}

// Generator produces the code for the interval containing at. Generate is
// the production generator.
type Generator func(secret string, at time.Time) (string, error)

// Window returns the codes for the interval containing at followed by the
// previous and next intervals, up to skew (capped at MaxSkew) on each side.
// Duplicate codes are dropped.
func (g Generator) Window(secret string, at time.Time, skew int) ([]string, error) {
	if skew < 0 {
		skew = 0
	}
	if skew > MaxSkew {
		skew = MaxSkew
	}

	offsets := []time.Duration{0}
	for i := 1; i <= skew; i++ {
		offsets = append(offsets, -time.Duration(i)*Period, time.Duration(i)*Period)
	}

	seen := make(map[string]bool, len(offsets))
	codes := make([]string, 0, len(offsets))
	for _, off := range offsets {
		code, err := g(secret, at.Add(off))
		if err != nil {
			return nil, err
		}
		if seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes, nil
}

// Remaining returns how long the code for at stays valid.
func Remaining(at time.Time) time.Duration {
	step := int64(Period / time.Second)
	next := (at.Unix()/step + 1) * step
	return time.Unix(next, 0).Sub(at)
}

// normalise strips the grouping spaces authenticator apps show.
func normalise(secret string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
}
