package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"idempotent-checkout/internal/clock"
)

const (
	DefaultHeaderName = "X-Signature"
	DefaultTolerance  = 300 * time.Second
)

var (
	ErrMissingSignature   = errors.New("missing signature")
	ErrMalformedSignature = errors.New("malformed signature")
	ErrBadTimestamp       = errors.New("bad timestamp")
	ErrStaleTimestamp     = errors.New("stale timestamp")
	ErrSignatureMismatch  = errors.New("signature mismatch")
)

var reasons = map[error]string{
	ErrMissingSignature:   "Missing signature",
	ErrMalformedSignature: "Malformed signature",
	ErrBadTimestamp:       "Bad timestamp",
	ErrStaleTimestamp:     "Stale timestamp",
	ErrSignatureMismatch:  "Signature mismatch",
}

// Reason returns the client-facing reason for a verification error.
func Reason(err error) string {
	for sentinel, reason := range reasons {
		if errors.Is(err, sentinel) {
			return reason
		}
	}
	return "Invalid signature"
}

type Signer struct {
	secret     []byte
	headerName string
	tolerance  time.Duration
	clock      clock.Clock
}

func New(secret, headerName string, tolerance time.Duration, clk clock.Clock) *Signer {
	if strings.TrimSpace(headerName) == "" {
		headerName = DefaultHeaderName
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Signer{
		secret:     []byte(secret),
		headerName: headerName,
		tolerance:  tolerance,
		clock:      clk,
	}
}

func (s *Signer) HeaderName() string {
	return s.headerName
}

// Now returns the signer's current unix time in seconds.
func (s *Signer) Now() int64 {
	return s.clock.Now().Unix()
}

// Sign returns the header value "t=<timestamp>,v1=<hex>" for body signed at timestamp.
func (s *Signer) Sign(body []byte, timestamp int64) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp, s.digest(body, timestamp))
}

func (s *Signer) digest(body []byte, timestamp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = fmt.Fprintf(mac, "t=%d.", timestamp)
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks header against the exact bytes of body.
func (s *Signer) Verify(header string, body []byte) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}

	rawTimestamp, provided, err := parseHeader(header)
	if err != nil {
		return err
	}

	timestamp, err := strconv.ParseInt(rawTimestamp, 10, 64)
	if err != nil {
		return ErrBadTimestamp
	}

	skew := s.Now() - timestamp
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(s.tolerance/time.Second) {
		return ErrStaleTimestamp
	}

	expected := s.digest(body, timestamp)
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return ErrSignatureMismatch
	}
	return nil
}

func parseHeader(header string) (string, string, error) {
	var (
		timestamp, signature string
		seenT, seenV1        bool
	)
	for _, part := range strings.Split(header, ",") {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		key, value, ok := strings.Cut(piece, "=")
		if !ok {
			return "", "", ErrMalformedSignature
		}
		switch strings.TrimSpace(key) {
		case "t":
			if seenT {
				return "", "", ErrMalformedSignature
			}
			seenT, timestamp = true, strings.TrimSpace(value)
		case "v1":
			if seenV1 {
				return "", "", ErrMalformedSignature
			}
			seenV1, signature = true, strings.TrimSpace(value)
		default:
			return "", "", ErrMalformedSignature
		}
	}
	if !seenT || !seenV1 {
		return "", "", ErrMalformedSignature
	}
	return timestamp, signature, nil
}
