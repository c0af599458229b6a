// Package profile is the identity lookup boundary. The core needs a signer's
// display name, title, and signature image before it can composite anything.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	ErrProfileUnavailable   = errors.New("profile lookup failed")
	ErrSignatureImageNeeded = errors.New("signer has no signature image on file")
)

// Profile is what the directory returns for one user.
type Profile struct {
	UserID            string `json:"userId"`
	FirstName         string `json:"firstName"`
	LastName          string `json:"lastName"`
	Role              string `json:"role"`
	SignatureImageURL string `json:"signatureImageUrl"`
}

// FullName joins the name parts for signature block content.
func (p Profile) FullName() string {
	return p.FirstName + " " + p.LastName
}

// Client looks up profiles over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient constructs a profile client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

// Get fetches a profile by user id.
func (c *Client) Get(ctx context.Context, userID string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/profiles/"+userID, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrProfileUnavailable, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrProfileUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("%w: status %d", ErrProfileUnavailable, resp.StatusCode)
	}
	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("%w: decode: %v", ErrProfileUnavailable, err)
	}
	return p, nil
}

// RequireSignature fetches a profile and fails when no signature image is on
// file. The check is a hard precondition before any composition call.
func (c *Client) RequireSignature(ctx context.Context, userID string) (Profile, error) {
	p, err := c.Get(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	if p.SignatureImageURL == "" {
		return Profile{}, fmt.Errorf("%w: %s", ErrSignatureImageNeeded, userID)
	}
	return p, nil
}

// FetchSignatureImage downloads the signer's raster signature.
func (c *Client) FetchSignatureImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileUnavailable, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: signature image status %d", ErrProfileUnavailable, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
