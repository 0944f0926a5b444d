// Package challenge issues the short codes a subject reads aloud during a
// live verification session and resolves them when the session is checked.
package challenge

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/VedanshGovind/FinGuard-AI/internal/core"
)

// Alphabet omits characters that are easily confused when spoken or
// transcribed (0/O, 1/I).
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	DefaultCodeLength = 6
	MinCodeLength     = 4
	MaxCodeLength     = 32
	DefaultTTL        = 5 * time.Minute
)

// Challenge is one issued code.
type Challenge struct {
	SessionID string    `json:"session_id"`
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store persists challenges by session ID. Lookup returns
// core.ErrChallengeNotFound for unknown or expired sessions.
type Store interface {
	Save(ctx context.Context, c Challenge, ttl time.Duration) error
	Lookup(ctx context.Context, sessionID string) (Challenge, error)
	Delete(ctx context.Context, sessionID string) error
}

// Issuer generates and records challenge codes.
type Issuer struct {
	store  Store
	length int
	ttl    time.Duration
	now    func() time.Time
	rand   io.Reader
}

// NewIssuer validates the code length and TTL.
func NewIssuer(store Store, length int, ttl time.Duration) (*Issuer, error) {
	if store == nil {
		return nil, errors.New("challenge: store is required")
	}
	if length < MinCodeLength || length > MaxCodeLength {
		return nil, &core.ConfigurationError{Field: "challenge.code_length", Reason: "must be between 4 and 32"}
	}
	if ttl <= 0 {
		return nil, &core.ConfigurationError{Field: "challenge.ttl_s", Reason: "must be positive"}
	}
	return &Issuer{store: store, length: length, ttl: ttl, now: time.Now, rand: rand.Reader}, nil
}

// Issue creates a fresh code for sessionID, generating a session ID when
// none is given. Re-issuing replaces the previous code.
func (i *Issuer) Issue(ctx context.Context, sessionID string) (Challenge, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	code, err := i.generate()
	if err != nil {
		return Challenge{}, err
	}

	now := i.now().UTC()
	c := Challenge{SessionID: sessionID, Code: code, IssuedAt: now, ExpiresAt: now.Add(i.ttl)}
	if err := i.store.Save(ctx, c, i.ttl); err != nil {
		return Challenge{}, fmt.Errorf("save challenge for %s: %w", sessionID, err)
	}

	slog.Info("[Challenge] Issued", "session_id", sessionID, "expires_at", c.ExpiresAt)
	return c, nil
}

// Resolve returns the active code for sessionID.
func (i *Issuer) Resolve(ctx context.Context, sessionID string) (string, error) {
	c, err := i.store.Lookup(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return c.Code, nil
}

// Revoke removes the code for sessionID.
func (i *Issuer) Revoke(ctx context.Context, sessionID string) error {
	return i.store.Delete(ctx, sessionID)
}

func (i *Issuer) generate() (string, error) {
	buf := make([]byte, i.length)
	if _, err := io.ReadFull(i.rand, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	// len(Alphabet) divides 256, so the modulo is unbiased.
	for n, b := range buf {
		buf[n] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(buf), nil
}
