package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// PublicPaymentLink is an unauthenticated, sharable pointer to a charge.
// Links are deactivated to revoke, never deleted; the slug is immutable.
type PublicPaymentLink struct {
	ID          uuid.UUID  `json:"id"`
	ChargeID    int64      `json:"charge_id"`
	Slug        string     `json:"slug"`
	Active      bool       `json:"active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	AccessCount int64      `json:"access_count"`
	CreatedAt   time.Time  `json:"created_at"`
}

// IsExpired reports whether the link is past its optional expiration.
func (l *PublicPaymentLink) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// BuildPublicLinkSlug derives a slug from the charge concept and id, e.g.
// "spring-season-fee-42". The store retries with RandomSlugSuffix appended
// when the slug collides with an existing one.
func BuildPublicLinkSlug(concept string, chargeID int64) string {
	slug := slugify(concept)
	if slug == "" {
		slug = "charge"
	}
	return fmt.Sprintf("%s-%d", slug, chargeID)
}

// RandomSlugSuffix returns a short random hex suffix used to resolve slug
// collisions.
func RandomSlugSuffix() string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively unheard of; fall back to a
		// uuid-derived suffix rather than propagating an error here.
		return uuid.NewString()[:6]
	}
	return hex.EncodeToString(buf)
}

func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}
