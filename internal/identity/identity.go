// Package identity derives the canonical per-sender user identifier used to
// scope notifications. The same raw user id submitted by two different senders
// must never address the same sessions, so the canonical form composes both:
//
//	Resolve("alice", "app1") == "alice:app1"
//	Resolve("app1", "app1")  == "app1"        (a sender addressing itself)
//
// Matching is done field-wise on the decomposed (user, sender) pair rather
// than by substring containment, so unrelated identities that happen to share
// a prefix can never collide.
package identity

import (
	"fmt"
	"strings"
)

// Separator joins the raw user id and the sender key in a canonical id.
// Raw user ids and sender keys must not contain it; ValidateRaw enforces that
// at the ingestion boundary.
const Separator = ":"

// ID is a decomposed canonical identity.
type ID struct {
	User   string
	Sender string
}

// Resolve returns the canonical identity for rawUser as addressed by sender.
// When rawUser equals sender the composite collapses to the sender alone.
func Resolve(rawUser, sender string) string {
	if rawUser == sender {
		return sender
	}
	return rawUser + Separator + sender
}

// Split decomposes a canonical id. A value without a separator is a collapsed
// self-addressed identity, so both fields carry the same value.
func Split(canonical string) ID {
	user, sender, found := strings.Cut(canonical, Separator)
	if !found {
		return ID{User: canonical, Sender: canonical}
	}
	return ID{User: user, Sender: sender}
}

// Match reports whether a session authenticated as sessionID should receive a
// message addressed to targetID. Both sides are decomposed and compared
// field-wise; equal components match, nothing else does.
func Match(sessionID, targetID string) bool {
	if sessionID == targetID {
		return true
	}
	s, t := Split(sessionID), Split(targetID)
	return s.User == t.User && s.Sender == t.Sender
}

// ValidateRaw rejects raw user ids that would be ambiguous once composed.
func ValidateRaw(rawUser string) error {
	if strings.TrimSpace(rawUser) == "" {
		return fmt.Errorf("empty user id")
	}
	if strings.Contains(rawUser, Separator) {
		return fmt.Errorf("user id %q must not contain %q", rawUser, Separator)
	}
	return nil
}
