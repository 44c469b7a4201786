package chat

import "time"

// DefaultTitle is used when a session is created without a title.
const DefaultTitle = "New Chat"

// Session is a titled container for the ordered turns of one owner.
type Session struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"-"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OwnedBy reports whether the session belongs to the given subject.
func (s Session) OwnedBy(subjectID string) bool {
	return subjectID != "" && s.OwnerID == subjectID
}
