package user

import (
	"strings"
	"time"
)

// Identity is an already verified caller. The core never issues or validates it.
type Identity struct {
	SubjectID   string
	Email       string
	DisplayName string
	PhotoURL    string
}

// User is the stored profile of an identity, created on first sight.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	PhotoURL    string    `json:"photo_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// FromIdentity builds the profile stored for a first-seen identity.
func FromIdentity(id Identity, now time.Time) User {
	name := strings.TrimSpace(id.DisplayName)
	if name == "" {
		name = emailLocalPart(id.Email)
	}
	return User{
		ID:          id.SubjectID,
		Email:       id.Email,
		DisplayName: name,
		PhotoURL:    id.PhotoURL,
		CreatedAt:   now,
	}
}

func emailLocalPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}
