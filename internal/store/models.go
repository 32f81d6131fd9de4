package store

import "time"

type User struct {
	ID                string
	Email             string
	PasswordHash      string
	Verified          bool
	GitHubID          string
	GitHubUsername    string
	GitHubAccessToken string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Connected reports whether a GitHub credential is stored for the user.
func (u User) Connected() bool {
	return u.GitHubAccessToken != ""
}

// Project maps an editing workspace to a repository and the content
// directory inside it. Repository is the "owner/name" full name; an empty
// ContentDirectory means the repository root.
type Project struct {
	ID               string
	UserID           string
	Name             string
	Description      string
	Repository       string
	ContentDirectory string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// MagicLink is a single-use passwordless login token. Only the token hash
// is stored.
type MagicLink struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}
