package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultAppView serves unauthenticated read requests.
	DefaultAppView = "https://public.api.bsky.app"

	// DefaultRate stays under the AppView limit of 3000 requests per five
	// minutes.
	DefaultRate = 10

	maxPostsPerRequest = 25
)

// Client is a read-only AT Protocol AppView client returning raw decoded
// payloads, ready for the normalizers. Requests are paced by a token bucket.
type Client struct {
	host       string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	// populated after Login
	accessJwt string
	did       string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRate paces requests at perSecond with the given burst.
func WithRate(perSecond float64, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithClientLogger logs every request at debug level.
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client for host. If host is empty, it defaults to
// DefaultAppView.
func NewClient(host string, opts ...ClientOption) *Client {
	if host == "" {
		host = DefaultAppView
	}
	c := &Client{
		host: host,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(DefaultRate, 1),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login authenticates against a PDS with an App Password. Subsequent
// requests carry the session token, which some AppView endpoints require
// to return viewer-dependent fields.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	var resp createSessionResponse
	if err := c.post(ctx, "/xrpc/com.atproto.server.createSession", body, &resp); err != nil {
		return eris.Wrap(err, "bluesky: create session")
	}

	c.accessJwt = resp.AccessJwt
	c.did = resp.DID
	return nil
}

// DID returns the authenticated user's DID. Only valid after Login.
func (c *Client) DID() string {
	return c.did
}

// Page is one page of a paginated listing.
type Page struct {
	Items  []map[string]any
	Cursor string
}

// GetPosts hydrates post views by at:// URI, in batches of 25.
func (c *Client) GetPosts(ctx context.Context, uris []string) ([]map[string]any, error) {
	var posts []map[string]any
	for start := 0; start < len(uris); start += maxPostsPerRequest {
		batch := uris[start:min(start+maxPostsPerRequest, len(uris))]
		q := url.Values{"uris": batch}

		var resp struct {
			Posts []map[string]any `json:"posts"`
		}
		if err := c.get(ctx, "app.bsky.feed.getPosts", q, &resp); err != nil {
			return nil, err
		}
		posts = append(posts, resp.Posts...)
	}
	return posts, nil
}

// GetPostThread returns the thread view around uri.
func (c *Client) GetPostThread(ctx context.Context, uri string, depth int) (map[string]any, error) {
	q := url.Values{"uri": {uri}, "depth": {strconv.Itoa(depth)}}

	var resp struct {
		Thread map[string]any `json:"thread"`
	}
	if err := c.get(ctx, "app.bsky.feed.getPostThread", q, &resp); err != nil {
		return nil, err
	}
	return resp.Thread, nil
}

// GetAuthorFeed returns a page of feed items posted or reposted by actor.
func (c *Client) GetAuthorFeed(ctx context.Context, actor, cursor string, limit int) (Page, error) {
	var resp struct {
		Feed   []map[string]any `json:"feed"`
		Cursor string           `json:"cursor"`
	}
	if err := c.get(ctx, "app.bsky.feed.getAuthorFeed", listQuery("actor", actor, cursor, limit), &resp); err != nil {
		return Page{}, err
	}
	return Page{Items: resp.Feed, Cursor: resp.Cursor}, nil
}

// GetProfile returns the detailed profile view of actor, a handle or a DID.
func (c *Client) GetProfile(ctx context.Context, actor string) (map[string]any, error) {
	var resp map[string]any
	if err := c.get(ctx, "app.bsky.actor.getProfile", url.Values{"actor": {actor}}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetFollowers returns a page of basic profile views following actor.
func (c *Client) GetFollowers(ctx context.Context, actor, cursor string, limit int) (Page, error) {
	var resp struct {
		Followers []map[string]any `json:"followers"`
		Cursor    string           `json:"cursor"`
	}
	if err := c.get(ctx, "app.bsky.graph.getFollowers", listQuery("actor", actor, cursor, limit), &resp); err != nil {
		return Page{}, err
	}
	return Page{Items: resp.Followers, Cursor: resp.Cursor}, nil
}

func listQuery(key, value, cursor string, limit int) url.Values {
	q := url.Values{key: {value}}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

// APIError is a non-2xx XRPC response.
type APIError struct {
	Method  string
	Status  int
	Name    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return "bluesky: " + e.Method + " returned " + strconv.Itoa(e.Status) + " " + e.Name + ": " + e.Message
}

func (c *Client) get(ctx context.Context, method string, q url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/xrpc/"+method+"?"+q.Encode(), nil)
	if err != nil {
		return eris.Wrapf(err, "bluesky: create %s request", method)
	}
	return c.do(req, method, result)
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "bluesky: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "bluesky: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, result)
}

func (c *Client) do(req *http.Request, method string, result any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return eris.Wrapf(err, "bluesky: wait for %s", method)
	}
	if c.accessJwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return eris.Wrapf(err, "bluesky: send %s", method)
	}
	defer resp.Body.Close()

	c.logger.Debug("bluesky: request",
		zap.String("method", method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrapf(err, "bluesky: read %s response", method)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Method: method, Status: resp.StatusCode}
		_ = json.Unmarshal(respBody, apiErr)
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		dec := json.NewDecoder(bytes.NewReader(respBody))
		dec.UseNumber()
		if err := dec.Decode(result); err != nil {
			return eris.Wrapf(err, "bluesky: unmarshal %s response", method)
		}
	}
	return nil
}

type createSessionResponse struct {
	AccessJwt string `json:"accessJwt"`
	DID       string `json:"did"`
	Handle    string `json:"handle"`
}
