// Package profile manages the family account and the encrypted per-child
// profiles beneath it. Profile records are sealed with a key derived from
// the parent password and the device pepper; the public family index only
// carries profile IDs and display names.
package profile

import (
	"time"

	"github.com/brightnest/haven/internal/policy"
	"github.com/brightnest/haven/internal/timex"
)

// MaxProfiles caps the number of child profiles per family account.
const MaxProfiles = 8

// MaxNameLen is the display-name limit in runes.
const MaxNameLen = 50

// ChildRef is the public index entry for a profile: just enough for a
// profile picker, nothing sensitive.
type ChildRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FamilyAccount is the plaintext account record stored in family.json.
// It never contains the parent password or any derived key, only the salt
// and a verifier hash.
type FamilyAccount struct {
	ID        string     `json:"id"`
	Salt      []byte     `json:"salt"`
	Verifier  []byte     `json:"verifier"`
	Children  []ChildRef `json:"children"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ChildProfile is the encrypted per-child record. On disk it exists only
// inside the AES-GCM envelope at profiles/<id>/profile.enc.
type ChildProfile struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Age           int            `json:"age"`
	BlockedTopics []string       `json:"blocked_topics,omitempty"`
	SessionLimit  timex.Duration `json:"session_limit"`

	// AgeUpdatedAt anchors the yearly age bump: each elapsed year since
	// this timestamp adds one year of age, capped at 18.
	AgeUpdatedAt time.Time `json:"age_updated_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tier returns the age band the profile currently falls in.
func (p *ChildProfile) Tier() (policy.Tier, error) {
	return policy.TierForAge(p.Age)
}

// Ref returns the public index entry for the profile.
func (p *ChildProfile) Ref() ChildRef {
	return ChildRef{ID: p.ID, Name: p.Name}
}

// Updates carries the optional fields of an update operation. Nil means
// "leave unchanged".
type Updates struct {
	Name          *string
	Age           *int
	BlockedTopics *[]string
	SessionLimit  *time.Duration
}
