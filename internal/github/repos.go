package github

import (
	"context"
	"encoding/json"
	"fmt"
)

// Repository is the subset of repository metadata the editor needs.
type Repository struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
}

// ListRepositories returns the repositories the token can reach, most
// recently updated first.
func (c *Client) ListRepositories(ctx context.Context, token string) ([]Repository, error) {
	payload, err := c.get(ctx, token, "/user/repos?sort=updated&per_page=100&visibility=all&affiliation=owner,collaborator,organization_member")
	if err != nil {
		return nil, err
	}

	var repos []Repository
	if err := json.Unmarshal(payload, &repos); err != nil {
		return nil, fmt.Errorf("decode repository list: %w", err)
	}
	return repos, nil
}

// GetRepository verifies access to a repository by full name ("owner/name").
func (c *Client) GetRepository(ctx context.Context, token, fullName string) (Repository, error) {
	payload, err := c.get(ctx, token, "/repos/"+fullName)
	if err != nil {
		return Repository{}, err
	}

	var repo Repository
	if err := json.Unmarshal(payload, &repo); err != nil {
		return Repository{}, fmt.Errorf("decode repository: %w", err)
	}
	return repo, nil
}

// Account is the authenticated GitHub identity bound to a local user.
type Account struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

// AuthenticatedUser fetches the identity behind an access token.
func (c *Client) AuthenticatedUser(ctx context.Context, token string) (Account, error) {
	payload, err := c.get(ctx, token, "/user")
	if err != nil {
		return Account{}, err
	}

	var account Account
	if err := json.Unmarshal(payload, &account); err != nil {
		return Account{}, fmt.Errorf("decode account: %w", err)
	}
	if account.ID == 0 {
		return Account{}, fmt.Errorf("github: invalid account data received")
	}
	return account, nil
}
