package verdentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/florianilch/acctkeeper/internal/pkce"
)

const (
	// DefaultConnectTimeout bounds TCP connect and TLS handshake.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultRequestTimeout bounds a whole request, including reading the body.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultRetryStep is the linear backoff unit: attempt n waits n*step.
	DefaultRetryStep = time.Second

	maxResponseBytes = 1 << 20
	maxErrorBody     = 512

	origin    = "https://www.verdent.ai"
	referer   = "https://www.verdent.ai/"
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// Endpoints groups the absolute URLs the client talks to.
type Endpoints struct {
	Login        string
	PKCEAuth     string
	PKCECallback string
	UserInfo     string
}

// DefaultEndpoints are the production service URLs.
var DefaultEndpoints = Endpoints{
	Login:        "https://login.verdent.ai/passport/login",
	PKCEAuth:     "https://login.verdent.ai/passport/pkce/auth",
	PKCECallback: "https://login.verdent.ai/passport/pkce/callback",
	UserInfo:     "https://agent.verdent.ai/user/center/info",
}

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	endpoints      Endpoints
	httpClient     *http.Client
	connectTimeout time.Duration
	requestTimeout time.Duration
	retryStep      time.Duration
	notify         func(err error, wait time.Duration)
}

// WithEndpoints overrides the service URLs.
func WithEndpoints(e Endpoints) Option {
	return func(c *clientConfig) {
		c.endpoints = e
	}
}

// WithHTTPClient replaces the HTTP client entirely. Timeouts configured with
// WithTimeouts are ignored in that case.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = hc
	}
}

// WithTimeouts sets the connect and overall request timeouts.
func WithTimeouts(connect, request time.Duration) Option {
	return func(c *clientConfig) {
		c.connectTimeout = connect
		c.requestTimeout = request
	}
}

// WithRetryStep sets the linear backoff unit.
func WithRetryStep(step time.Duration) Option {
	return func(c *clientConfig) {
		c.retryStep = step
	}
}

// WithRetryNotify registers a callback invoked before each backoff wait.
func WithRetryNotify(fn func(err error, wait time.Duration)) Option {
	return func(c *clientConfig) {
		c.notify = fn
	}
}

// Client talks to the passport and user-center APIs.
// It is safe for concurrent use.
type Client struct {
	endpoints  Endpoints
	httpClient *http.Client
	retryStep  time.Duration
	notify     func(err error, wait time.Duration)
	tracer     trace.Tracer
}

// New creates a Client. Every request is bounded by a connect timeout and an
// overall request timeout, so a hung socket cannot stall the retry schedule.
func New(opts ...Option) *Client {
	cfg := &clientConfig{
		endpoints:      DefaultEndpoints,
		connectTimeout: DefaultConnectTimeout,
		requestTimeout: DefaultRequestTimeout,
		retryStep:      DefaultRetryStep,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = (&net.Dialer{
			Timeout:   cfg.connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext
		transport.TLSHandshakeTimeout = cfg.connectTimeout

		httpClient = &http.Client{
			Timeout:   cfg.requestTimeout,
			Transport: transport,
		}
	}

	return &Client{
		endpoints:  cfg.endpoints,
		httpClient: httpClient,
		retryStep:  cfg.retryStep,
		notify:     cfg.notify,
		tracer:     otel.Tracer("github.com/florianilch/acctkeeper/internal/verdentapi"),
	}
}

// RequestAuthCode posts the PKCE challenge, authenticated by bearer, and
// returns the authorization code.
func (c *Client) RequestAuthCode(ctx context.Context, bearer string, params pkce.Params) (string, error) {
	body := map[string]string{"codeChallenge": params.CodeChallenge}

	data, err := call[authCodeData](ctx, c, "RequestAuthCode", http.MethodPost, c.endpoints.PKCEAuth, body, bearer)
	if err != nil {
		return "", err
	}
	if data.Code == "" {
		return "", fmt.Errorf("%w: authorization code", ErrMissingData)
	}
	return data.Code, nil
}

// ExchangeToken trades an authorization code and its verifier for an access token.
func (c *Client) ExchangeToken(ctx context.Context, authCode, verifier string) (string, error) {
	body := map[string]string{"code": authCode, "codeVerifier": verifier}

	data, err := call[tokenData](ctx, c, "ExchangeToken", http.MethodPost, c.endpoints.PKCECallback, body, "")
	if err != nil {
		return "", err
	}
	if data.Token == "" {
		return "", fmt.Errorf("%w: access token", ErrMissingData)
	}
	return data.Token, nil
}

// FetchProfile returns the quota and subscription view of the bearer's account.
func (c *Client) FetchProfile(ctx context.Context, bearer string) (*Profile, error) {
	return call[Profile](ctx, c, "FetchProfile", http.MethodGet, c.endpoints.UserInfo, nil, bearer)
}

// Login authenticates with email and password.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	body := map[string]string{"email": email, "password": password}

	data, err := call[LoginResult](ctx, c, "Login", http.MethodPost, c.endpoints.Login, body, "")
	if err != nil {
		return nil, err
	}
	if data.Token == "" {
		return nil, fmt.Errorf("%w: login token", ErrMissingData)
	}
	return data, nil
}

// call performs one request and unwraps the response envelope.
// A nil body sends no payload.
func call[T any](ctx context.Context, c *Client, op, method, url string, body any, bearer string) (_ *T, err error) {
	ctx, span := c.tracer.Start(ctx, "verdentapi."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.request.method", method)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Origin", origin)
	req.Header.Set("Referer", referer)
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Cookie", "token="+bearer)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	slog.DebugContext(ctx, "api response", "op", op, "status", resp.StatusCode, "duration", time.Since(start))
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var env envelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if env.ErrCode != 0 {
		return nil, &APIError{Code: env.ErrCode, Message: env.ErrMsg}
	}
	if env.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingData, op)
	}
	return env.Data, nil
}
