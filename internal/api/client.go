// Package api is the request pipeline to the Odoo ops backend. Every call
// carries the session's bearer credential; an unauthorized response triggers
// one refresh of the credential and one retry of the call. Failures other
// than unauthorized responses are reported to a FailureReporter so that UI
// surfaces can show them without the caller's involvement.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/odooctl/internal/credentials"
	"github.com/Iron-Ham/odooctl/internal/errors"
	"github.com/Iron-Ham/odooctl/internal/logging"
)

// DefaultTimeout bounds a single HTTP exchange.
const DefaultTimeout = 30 * time.Second

// FailureReporter receives one report per failed call. Unauthorized
// responses are never reported. status is 0 when no response was received.
type FailureReporter interface {
	ReportFailure(message string, status int)
}

// Observer is notified about every HTTP exchange and refresh attempt.
type Observer interface {
	ObserveRequest(method string, status int, elapsed time.Duration)
	ObserveRefresh(outcome string)
}

// Refresh outcomes passed to Observer.ObserveRefresh.
const (
	RefreshRenewed  = "renewed"
	RefreshFailed   = "failed"
	RefreshNoToken  = "no_refresh_token"
	RefreshReplaced = "already_renewed"
	RefreshCanceled = "canceled"
)

// Client issues calls against the backend's base URL (including /api/v1).
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	session    *credentials.Session
	reporter   FailureReporter
	observer   Observer
	onLogin    func()
	userAgent  string
	logger     *logging.Logger

	redirectMu    sync.Mutex
	redirected    bool
	redirectedGen uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithReporter sets where failures are reported.
func WithReporter(r FailureReporter) Option {
	return func(c *Client) {
		c.reporter = r
	}
}

// WithObserver sets the request observer.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// WithLoginRedirect sets the function called when the session ends and the
// user has to log in again. It fires once per sign-out.
func WithLoginRedirect(fn func()) Option {
	return func(c *Client) {
		c.onLogin = fn
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithLogger sets the client's logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a Client for baseURL using session for credentials.
func New(baseURL string, session *credentials.Session, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		session:    session,
		userAgent:  "odooctl",
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger).WithComponent("api")
	return c, nil
}

// Session returns the credential session the client uses.
func (c *Client) Session() *credentials.Session {
	return c.session
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return strings.TrimRight(c.baseURL.String(), "/")
}

// request describes one logical call. A logical call is issued at most twice.
type request struct {
	method string
	path   string
	query  url.Values
	body   any

	// public calls carry no credential and skip the refresh protocol.
	public bool
	// quiet calls are never reported.
	quiet bool
}

// Get issues a GET and decodes the response into out (which may be nil).
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, request{method: http.MethodGet, path: path}, out)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, request{method: http.MethodPost, path: path, body: body}, out)
}

// Patch issues a PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, request{method: http.MethodPatch, path: path, body: body}, out)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.do(ctx, request{method: http.MethodDelete, path: path}, out)
}

// do runs the unauthorized-retry protocol around send.
func (c *Client) do(ctx context.Context, req request, out any) error {
	log := c.logger.WithRequest(req.method, req.path)

	token := ""
	if !req.public {
		token = c.session.AccessToken()
	}
	resp, err := c.send(ctx, req, token)
	if err != nil {
		return c.fail(req, err)
	}

	if resp.status == http.StatusUnauthorized && !req.public {
		// retried: this call gets one refresh and one re-issue, no more.
		log.Debug("unauthorized, refreshing credentials")
		fresh, err := c.refresh(ctx, token)
		if err != nil {
			return err
		}
		resp, err = c.send(ctx, req, fresh)
		if err != nil {
			return c.fail(req, err)
		}
		if resp.status == http.StatusUnauthorized {
			log.Warn("retry after refresh was unauthorized")
			return errors.NewAuthError("request rejected after credential refresh", resp.asError(req))
		}
	}

	if resp.status >= 400 {
		return c.fail(req, resp.asError(req))
	}
	if out == nil || len(resp.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", req.method, req.path, err)
	}
	return nil
}

// fail reports err (unless the call is quiet or unauthorized) and returns it
// as an APIError.
func (c *Client) fail(req request, err error) error {
	apiErr, ok := err.(*errors.APIError)
	if !ok {
		apiErr = errors.NewAPIError(req.method, req.path, 0, networkMessage(err)).WithCause(err)
	}
	c.logger.WithRequest(req.method, req.path).Warn("request failed",
		"status", apiErr.Status, "message", apiErr.Message())
	if !req.quiet && apiErr.Status != http.StatusUnauthorized && c.reporter != nil {
		c.reporter.ReportFailure(apiErr.Message(), apiErr.Status)
	}
	return apiErr
}

// refresh renews the credential that was rejected and returns the access
// token to retry with. On failure the session is cleared and the login
// redirect fires. A call abandoned by its own ctx keeps the session.
func (c *Client) refresh(ctx context.Context, stale string) (string, error) {
	before := c.session.AccessToken()
	pair, err := c.session.Refresh(ctx, stale, c.exchange)
	switch {
	case err != nil && ctx.Err() != nil:
		c.observeRefresh(RefreshCanceled)
		c.logger.Debug("credential refresh abandoned", "error", ctx.Err())
		return "", fmt.Errorf("%w: %w", errors.ErrCanceled, ctx.Err())
	case err == nil:
		if before != stale {
			c.observeRefresh(RefreshReplaced)
		} else {
			c.observeRefresh(RefreshRenewed)
		}
		return pair.AccessToken, nil
	case errors.Is(err, errors.ErrNoRefreshToken):
		c.observeRefresh(RefreshNoToken)
		c.signOut()
		return "", errors.NewAuthError("no refresh token stored", err)
	default:
		c.observeRefresh(RefreshFailed)
		c.logger.Warn("credential refresh failed", "error", err)
		c.signOut()
		return "", errors.NewAuthError("session expired", err)
	}
}

// exchange calls the refresh endpoint. It is quiet and public: a failing
// refresh never reports and never recurses into the refresh protocol.
func (c *Client) exchange(ctx context.Context, refreshToken string) (credentials.Pair, error) {
	var tokens TokenResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/refresh",
		body:   map[string]string{"refresh_token": refreshToken},
		public: true,
		quiet:  true,
	}, &tokens)
	if err != nil {
		return credentials.Pair{}, fmt.Errorf("%w: %w", errors.ErrRefreshFailed, err)
	}
	return tokens.Pair(), nil
}

// signOut clears the session and fires the login redirect once per
// sign-out.
func (c *Client) signOut() {
	if _, err := c.session.Clear(); err != nil {
		c.logger.Error("failed to clear credentials", "error", err)
	}
	gen := c.session.Generation()

	c.redirectMu.Lock()
	fire := !c.redirected || c.redirectedGen != gen
	c.redirected = true
	c.redirectedGen = gen
	c.redirectMu.Unlock()

	if fire {
		c.logger.Info("session ended, login required")
		if c.onLogin != nil {
			c.onLogin()
		}
	}
}

func (c *Client) observeRefresh(outcome string) {
	if c.observer != nil {
		c.observer.ObserveRefresh(outcome)
	}
}

type response struct {
	status int
	body   []byte
}

func (r response) asError(req request) *errors.APIError {
	return decodeError(req.method, req.path, r.status, r.body)
}

// send performs one HTTP exchange. It only returns an error when no
// response was received.
func (c *Client) send(ctx context.Context, req request, token string) (response, error) {
	endpoint, err := c.resolve(req.path, req.query)
	if err != nil {
		return response{}, err
	}

	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return response{}, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, body)
	if err != nil {
		return response{}, err
	}
	c.applyHeaders(httpReq, token, req.body != nil)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if c.observer != nil {
			c.observer.ObserveRequest(req.method, 0, time.Since(start))
		}
		return response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if c.observer != nil {
		c.observer.ObserveRequest(req.method, resp.StatusCode, time.Since(start))
	}
	if err != nil {
		return response{}, fmt.Errorf("read response body: %w", err)
	}
	return response{status: resp.StatusCode, body: data}, nil
}

func (c *Client) resolve(path string, query url.Values) (string, error) {
	rel, err := url.Parse(strings.TrimLeft(path, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

func (c *Client) applyHeaders(req *http.Request, token string, hasBody bool) {
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
