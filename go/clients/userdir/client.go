// Package userdir is the client for the user directory service, a black-box
// collaborator that decorates chat displays with names and profile images.
// The relay never depends on it for correctness.
package userdir

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/astromitra/consultroom/go/clients"
)

// Profile is the directory's record for a user.
type Profile struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ProfileImage string `json:"profileImage"`
}

type Client struct {
	*clients.BaseClient
}

// NewClient creates a user directory client. tokens may be nil when the
// directory is unauthenticated.
func NewClient(baseURL string, tokens clients.TokenSource) *Client {
	client := &Client{
		BaseClient: clients.NewBaseClient(baseURL),
	}
	client.SetTokenSource(tokens)
	client.SetTimeout(5 * time.Second)
	return client
}

// GetProfile fetches the profile for a user id.
func (c *Client) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	body, err := c.Get(ctx, "/api/users/"+url.PathEscape(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile for %s: %w", userID, err)
	}

	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile for %s: %w", userID, err)
	}
	return &profile, nil
}
