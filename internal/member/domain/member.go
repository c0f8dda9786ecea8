package domain

import "time"

// Member is a person identified by their upstream platform user id. Created
// on first successful proof and refreshed on every later one; never deleted.
type Member struct {
	ID             string
	UpstreamUserID string
	DisplayName    string
	AvatarURL      string
	Locale         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
