// Package api provides an HTTP client for the account (control-plane) API.
//
// All HTTP status interpretation happens here, once, at the client
// boundary: callers see typed *output.Error values, never raw status
// codes. Network errors and 5xx responses propagate without being
// reinterpreted as credential problems.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/fauna/fauna-cli/internal/config"
	"github.com/fauna/fauna-cli/internal/output"
	"github.com/fauna/fauna-cli/internal/version"
)

const apiV1 = "/api/v1"

// Client talks to the account API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates an account API client for the given account URL.
func NewClient(accountURL string) *Client {
	httpClient := cleanhttp.DefaultClient()
	httpClient.Timeout = 30 * time.Second
	return &Client{
		httpClient: httpClient,
		baseURL:    config.NormalizeURL(accountURL),
	}
}

// Session is a control-plane session: an account key plus the refresh
// token that can mint its successor.
type Session struct {
	AccountKey   string `json:"account_key"`
	RefreshToken string `json:"refresh_token"`
}

// Key is a minted database secret.
type Key struct {
	Secret string `json:"secret"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Path   string `json:"path"`
}

// Database is one entry from the database listing.
type Database struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Region string `json:"region_group"`
}

func (c *Client) resource(endpoint string, params url.Values) string {
	u := c.baseURL + apiV1 + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// StartOAuthRequest begins the authorization-code flow. The authorize
// endpoint answers with a 302 whose location is the dashboard login URL;
// an error query parameter on that location is fatal.
func (c *Client) StartOAuthRequest(ctx context.Context, params url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resource("/oauth/authorize", params), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	// Follow nothing: the location header is the payload.
	client := *c.httpClient
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", output.ErrNetwork(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		return "", output.ErrAPI(resp.StatusCode, fmt.Sprintf("failed to start OAuth request: %d - %s", resp.StatusCode, resp.Status))
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", output.ErrCommand("no location header found in authorize response")
	}

	parsed, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	if oauthErr := parsed.Query().Get("error"); oauthErr != "" {
		return "", output.ErrCommand(fmt.Sprintf("error during login: %s", oauthErr))
	}

	return location, nil
}

// GetSession exchanges an OAuth access token for a control-plane session.
func (c *Client) GetSession(ctx context.Context, accessToken string) (*Session, error) {
	var session Session
	if err := c.doJSON(ctx, http.MethodPost, "/session", accessToken, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// RefreshSession exchanges a refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	var session Session
	if err := c.doJSON(ctx, http.MethodPost, "/session/refresh", refreshToken, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// CreateKey mints a database secret scoped to path and role, expiring at
// ttl. Authenticates with the account key.
func (c *Client) CreateKey(ctx context.Context, accountKey, path, role string, ttl time.Time, name string) (*Key, error) {
	body := map[string]any{
		"role": role,
		"path": path,
		"ttl":  ttl.UTC().Format(time.RFC3339),
		"name": name,
	}
	var key Key
	if err := c.doJSON(ctx, http.MethodPost, "/databases/keys", accountKey, body, &key); err != nil {
		return nil, err
	}
	return &key, nil
}

// ListDatabases lists databases visible to the account key.
func (c *Client) ListDatabases(ctx context.Context, accountKey, path string, pageSize int) ([]Database, error) {
	params := url.Values{}
	params.Set("max_results", fmt.Sprintf("%d", pageSize))
	if path != "" {
		params.Set("path", path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resource("/databases", params), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accountKey)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, output.ErrNetwork(err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var result struct {
		Results []Database `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse database listing: %w", err)
	}
	return result.Results, nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint, bearer string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resource(endpoint, nil), bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return output.ErrNetwork(err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// checkResponse classifies a non-2xx response into the typed error kinds.
// v1 endpoints return code/reason directly in the body; v2 endpoints wrap
// them in an error object.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	code, message := parseErrorBody(resp.Body)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return output.ErrAuth(message)
	case http.StatusForbidden:
		return output.ErrForbidden(message)
	case http.StatusBadRequest, http.StatusNotFound:
		return output.ErrCommand(message)
	default:
		return output.ErrAPI(resp.StatusCode, fmt.Sprintf("%s (%s)", message, code))
	}
}

func parseErrorBody(r io.Reader) (code, message string) {
	code = "unknown_error"
	message = "The account API responded with an error, but no error details were provided."

	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil || len(data) == 0 {
		return code, message
	}

	var body struct {
		Code   string `json:"code"`
		Reason string `json:"reason"`
		Error  *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return code, message
	}

	if body.Error != nil {
		if body.Error.Code != "" {
			code = body.Error.Code
		}
		if body.Error.Message != "" {
			message = body.Error.Message
		}
		return code, message
	}
	if body.Code != "" {
		code = body.Code
	}
	if body.Reason != "" {
		message = body.Reason
	}
	return code, message
}
