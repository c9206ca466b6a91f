// Package enrichment looks up public profile data for an email address at signup.
// The lookup is best effort. ErrNotFound is a settled answer; any other error may succeed
// on a later attempt.
package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/user/postboard/config"
)

// ErrNotFound is returned when the provider has no usable person record.
var ErrNotFound = errors.New("enrichment: no person found")

// ErrPending is returned when the provider accepted the lookup but has no answer yet.
var ErrPending = errors.New("enrichment: lookup queued by provider")

// Profile is the subset of a person record copied onto a new user.
type Profile struct {
	FullName  string
	GivenName string
	Location  string
	TimeZone  string
}

// Enricher looks up a profile by email.
type Enricher interface {
	Lookup(ctx context.Context, email string) (*Profile, error)
}

// Noop never finds anything. It is used when enrichment is disabled.
type Noop struct{}

func (Noop) Lookup(context.Context, string) (*Profile, error) {
	return nil, ErrNotFound
}

// Client queries a Clearbit-compatible person API:
// GET {BaseURL}/v2/people/find?email=... with the API key as the basic-auth user.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

// New returns the Enricher selected by cfg.
func New(cfg *config.EnrichmentConfig) Enricher {
	if cfg == nil || !cfg.Enabled {
		return Noop{}
	}
	return NewClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout, nil)
}

// NewClient builds a Client. A nil httpClient uses a dedicated client with no global timeout;
// each lookup is bounded by timeout instead.
func NewClient(baseURL, apiKey string, timeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: httpClient,
	}
}

type personResponse struct {
	Name struct {
		FullName  string `json:"fullName"`
		GivenName string `json:"givenName"`
	} `json:"name"`
	Location string `json:"location"`
	TimeZone string `json:"timeZone"`
}

// The combined endpoint nests the person; the people endpoint returns it at the top level.
type combinedResponse struct {
	Person *personResponse `json:"person"`
}

// Lookup fetches the person record for email.
func (c *Client) Lookup(ctx context.Context, email string) (*Profile, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	endpoint := c.baseURL + "/v2/people/find?" + url.Values{"email": {email}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("enrichment: build request: %w", err)
	}
	req.SetBasicAuth(c.apiKey, "")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enrichment: request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusAccepted:
		return nil, ErrPending
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("enrichment: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("enrichment: read body: %w", err)
	}

	var combined combinedResponse
	var person personResponse
	if err := json.Unmarshal(body, &combined); err == nil && combined.Person != nil {
		person = *combined.Person
	} else if err := json.Unmarshal(body, &person); err != nil {
		return nil, fmt.Errorf("enrichment: decode: %w", err)
	}

	if person.Name.FullName == "" {
		return nil, ErrNotFound
	}
	return &Profile{
		FullName:  person.Name.FullName,
		GivenName: person.Name.GivenName,
		Location:  person.Location,
		TimeZone:  person.TimeZone,
	}, nil
}
