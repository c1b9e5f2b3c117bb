package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const signatureBytes = 16

// TicketSigner creates and validates capability tickets bound to one data object path.
// Tickets have the form <id>.<expiry>.<signature>; the signature uses the standard base64
// alphabet, so callers that need URL-safe tickets must filter them.
type TicketSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTicketSigner constructs a signer with the provided secret and TTL.
func NewTicketSigner(secret string, ttl time.Duration) *TicketSigner {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &TicketSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue returns a fresh ticket for the given path.
func (s *TicketSigner) Issue(p string) (string, time.Time, error) {
	if p == "" {
		return "", time.Time{}, fmt.Errorf("path required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	id := uuid.NewString()
	expiresAt := s.now().Add(s.ttl).UTC()
	exp := strconv.FormatInt(expiresAt.Unix(), 10)
	return strings.Join([]string{id, exp, s.sign(id, exp, CleanPath(p))}, "."), expiresAt, nil
}

// Verify checks the ticket signature, its path binding and expiry.
func (s *TicketSigner) Verify(ticket, p string) error {
	parts := strings.Split(ticket, ".")
	if len(parts) != 3 {
		return fmt.Errorf("invalid ticket format")
	}
	id, exp, signature := parts[0], parts[1], parts[2]

	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid ticket expiry")
	}

	expected := s.sign(id, exp, CleanPath(p))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("invalid ticket signature")
	}
	if s.now().After(time.Unix(expUnix, 0)) {
		return fmt.Errorf("ticket expired")
	}
	return nil
}

func (s *TicketSigner) sign(id, exp, p string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(id + "|" + exp + "|" + p))
	return base64.RawStdEncoding.EncodeToString(mac.Sum(nil)[:signatureBytes])
}
