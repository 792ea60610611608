// Package commonroom is the client for the Common Room community API, the
// remote member directory the destination writes into.
//
// The client holds no per-request mutable state and is safe for concurrent
// use by every write task of a sync.
package commonroom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the community API root.
const DefaultBaseURL = "https://api.commonroom.io/community/v1/"

// SocialTypeEmail is the social identifier type used as the identity key.
const SocialTypeEmail = "email"

// Directory is the remote member directory used by the write pipeline.
// Implemented by Client (production) and testutil.FakeDirectory (tests).
type Directory interface {
	// LookupMember fetches the member identified by email.
	// Returns ErrMemberNotFound unless exactly one member matches.
	LookupMember(ctx context.Context, email string) (*Member, error)

	// UpsertMember creates or updates a member keyed by email.
	UpsertMember(ctx context.Context, m MemberUpsert) error

	// ListCustomFields returns the custom field catalog in API order.
	ListCustomFields(ctx context.Context) ([]CustomField, error)

	// SetCustomField assigns one custom field value on a member.
	SetCustomField(ctx context.Context, v CustomFieldValue) error
}

// Client talks to the Common Room API over HTTP.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	userAgent  string
}

// Option configures a Client.
type Option func(*Client) error

// WithBaseURL overrides the API root (used against test servers).
func WithBaseURL(raw string) Option {
	return func(c *Client) error {
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid base URL %q: %w", raw, err)
		}
		c.baseURL = u
		return nil
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

// New creates a Client authenticated with a bearer token.
func New(token string, opts ...Option) (*Client, error) {
	base, _ := url.Parse(DefaultBaseURL)
	c := &Client{
		baseURL:    base,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  "destination-common-room",
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// LookupMember implements Directory.LookupMember.
func (c *Client) LookupMember(ctx context.Context, email string) (*Member, error) {
	query := url.Values{SocialTypeEmail: {email}}

	var members []Member
	if err := c.do(ctx, http.MethodGet, "members?"+query.Encode(), nil, &members); err != nil {
		return nil, err
	}
	if len(members) != 1 {
		return nil, fmt.Errorf("lookup member: %d matches: %w", len(members), ErrMemberNotFound)
	}

	return &members[0], nil
}

// UpsertMember implements Directory.UpsertMember.
func (c *Client) UpsertMember(ctx context.Context, m MemberUpsert) error {
	return c.do(ctx, http.MethodPost, "members", m.body(), nil)
}

// ListCustomFields implements Directory.ListCustomFields.
func (c *Client) ListCustomFields(ctx context.Context) ([]CustomField, error) {
	var fields []CustomField
	if err := c.do(ctx, http.MethodGet, "members/customFields", nil, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// SetCustomField implements Directory.SetCustomField.
func (c *Client) SetCustomField(ctx context.Context, v CustomFieldValue) error {
	return c.do(ctx, http.MethodPost, "members/customFields", v.body(), nil)
}

// do issues one request. A nil out discards the response body.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	endpoint, err := c.baseURL.Parse(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s request: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Method: method, Path: stripQuery(path), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &TransportError{Method: method, Path: stripQuery(path), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Method:     method,
			Path:       stripQuery(path),
			StatusCode: resp.StatusCode,
			Body:       truncate(string(data), 512),
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &StatusError{
			Method:     method,
			Path:       stripQuery(path),
			StatusCode: resp.StatusCode,
			Body:       "undecodable response: " + err.Error(),
		}
	}
	return nil
}

// stripQuery keeps identity keys out of error messages.
func stripQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
