package domain

import (
	"testing"
	"time"
)

func TestBuildPublicLinkSlug(t *testing.T) {
	tests := []struct {
		name    string
		concept string
		id      int64
		want    string
	}{
		{name: "simple concept", concept: "Spring Season Fee", id: 42, want: "spring-season-fee-42"},
		{name: "punctuation collapsed", concept: "Fee (2025) -- tournament!", id: 7, want: "fee-2025-tournament-7"},
		{name: "empty concept falls back", concept: "   ", id: 9, want: "charge-9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildPublicLinkSlug(tt.concept, tt.id); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRandomSlugSuffixLengthAndVariability(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 16; i++ {
		suffix := RandomSlugSuffix()
		if len(suffix) != 6 {
			t.Fatalf("expected 6-char suffix, got %q", suffix)
		}
		seen[suffix] = true
	}
	if len(seen) < 2 {
		t.Fatal("expected random suffixes to vary")
	}
}

func TestPublicPaymentLinkIsExpired(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	link := PublicPaymentLink{}
	if link.IsExpired(now) {
		t.Fatal("link without expiration must never expire")
	}

	link.ExpiresAt = &future
	if link.IsExpired(now) {
		t.Fatal("link expiring in the future reported expired")
	}

	link.ExpiresAt = &past
	if !link.IsExpired(now) {
		t.Fatal("link past expiration reported active")
	}
}
