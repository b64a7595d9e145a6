// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const MaxDisplayNameLen = 36

// PlaceholderName is what a link shows before the remote side has
// introduced itself through an offer or answer.
const PlaceholderName = "Participant"

var (
	ErrNameTooLong = errors.New("display name too long")
	ErrNameEmpty   = errors.New("display name empty")
)

type User struct {
	DisplayName string `json:"displayName"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(displayName string) (*User, error) {
	if len(displayName) == 0 {
		return nil, ErrNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrNameTooLong
	}
	return &User{DisplayName: displayName}, nil
}
