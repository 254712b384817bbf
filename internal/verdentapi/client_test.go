package verdentapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/florianilch/acctkeeper/internal/pkce"
)

// newTestClient points every endpoint at srv.
func newTestClient(srv *httptest.Server, opts ...Option) *Client {
	base := []Option{
		WithEndpoints(Endpoints{
			Login:        srv.URL + "/passport/login",
			PKCEAuth:     srv.URL + "/passport/pkce/auth",
			PKCECallback: srv.URL + "/passport/pkce/callback",
			UserInfo:     srv.URL + "/user/center/info",
		}),
		WithRetryStep(10 * time.Millisecond),
	}
	return New(append(base, opts...)...)
}

func TestRequestAuthCode(t *testing.T) {
	var gotCookie string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/passport/pkce/auth" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotCookie = r.Header.Get("Cookie")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = io.WriteString(w, `{"errCode":0,"errMsg":"","data":{"code":"auth-code-1"}}`)
	}))
	defer srv.Close()

	params, err := pkce.Generate()
	if err != nil {
		t.Fatal(err)
	}

	code, err := newTestClient(srv).RequestAuthCode(context.Background(), "bearer-1", params)
	if err != nil {
		t.Fatalf("RequestAuthCode: %v", err)
	}
	if code != "auth-code-1" {
		t.Errorf("code = %q", code)
	}
	if gotCookie != "token=bearer-1" {
		t.Errorf("cookie = %q, want token=bearer-1", gotCookie)
	}
	if gotBody["codeChallenge"] != params.CodeChallenge {
		t.Errorf("codeChallenge = %q, want %q", gotBody["codeChallenge"], params.CodeChallenge)
	}
}

func TestExchangeToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") != "" {
			t.Errorf("exchange must not send a cookie, got %q", r.Header.Get("Cookie"))
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["code"] != "c1" || body["codeVerifier"] != "v1" {
			t.Errorf("unexpected body %v", body)
		}
		_, _ = io.WriteString(w, `{"errCode":0,"data":{"token":"access-1"}}`)
	}))
	defer srv.Close()

	token, err := newTestClient(srv).ExchangeToken(context.Background(), "c1", "v1")
	if err != nil {
		t.Fatalf("ExchangeToken: %v", err)
	}
	if token != "access-1" {
		t.Errorf("token = %q", token)
	}
}

func TestCall_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		check   func(t *testing.T, err error)
		wantMsg string
	}{
		{
			name:   "non-2xx",
			status: http.StatusBadGateway,
			body:   "upstream down",
			check: func(t *testing.T, err error) {
				var httpErr *HTTPError
				if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadGateway {
					t.Fatalf("want HTTPError 502, got %v", err)
				}
			},
			wantMsg: "502",
		},
		{
			name:   "application error",
			status: http.StatusOK,
			body:   `{"errCode":1001,"errMsg":"invalid challenge","data":null}`,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.Code != 1001 {
					t.Fatalf("want APIError 1001, got %v", err)
				}
			},
			wantMsg: "invalid challenge",
		},
		{
			name:   "missing data",
			status: http.StatusOK,
			body:   `{"errCode":0}`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrMissingData) {
					t.Fatalf("want ErrMissingData, got %v", err)
				}
			},
		},
		{
			name:   "empty code",
			status: http.StatusOK,
			body:   `{"errCode":0,"data":{"code":""}}`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrMissingData) {
					t.Fatalf("want ErrMissingData, got %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestClient(srv).RequestAuthCode(context.Background(), "b", pkce.Params{CodeChallenge: "x"})
			if err == nil {
				t.Fatal("expected error")
			}
			tt.check(t, err)
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestFetchProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		_, _ = io.WriteString(w, `{"errCode":0,"data":{
			"email":"a@example.com",
			"tokenInfo":{"tokenConsumed":12.345,"tokenFree":"100"},
			"subscriptionInfo":{"planName":"","levelName":"Pro","currentPeriodEnd":1765709429,"autoRenew":true},
			"subscriptionType":"trial",
			"trialDays":7
		}}`)
	}))
	defer srv.Close()

	p, err := newTestClient(srv).FetchProfile(context.Background(), "b")
	if err != nil {
		t.Fatalf("FetchProfile: %v", err)
	}
	if p.Email != "a@example.com" {
		t.Errorf("email = %q", p.Email)
	}
	if got := p.Consumed().String(); got != "12.345" {
		t.Errorf("consumed = %s", got)
	}
	if got := p.Free().String(); got != "100" {
		t.Errorf("free = %s", got)
	}
	if got := p.PlanLabel(); got != "Pro" {
		t.Errorf("plan label = %q, want level name fallback", got)
	}
	if p.TrialDays == nil || *p.TrialDays != 7 {
		t.Errorf("trial days = %v", p.TrialDays)
	}
}

func TestPlanLabel(t *testing.T) {
	tests := []struct {
		name string
		p    Profile
		want string
	}{
		{"plan name wins", Profile{SubscriptionInfo: &SubscriptionInfo{PlanName: "Max", LevelName: "L2"}, SubscriptionType: "t"}, "Max"},
		{"level name", Profile{SubscriptionInfo: &SubscriptionInfo{LevelName: "L2"}, SubscriptionType: "t"}, "L2"},
		{"top-level type", Profile{SubscriptionType: "trial"}, "trial"},
		{"absent", Profile{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.PlanLabel(); got != tt.want {
				t.Errorf("PlanLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "a@example.com" || body["password"] != "pw" {
			_, _ = io.WriteString(w, `{"errCode":401,"errMsg":"wrong password"}`)
			return
		}
		_, _ = io.WriteString(w, `{"errCode":0,"data":{"token":"t1","expireTime":1765709429,"refreshToken":"r1"}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv)

	res, err := c.Login(context.Background(), "a@example.com", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Token != "t1" || res.RefreshToken != "r1" {
		t.Errorf("login = %+v", res)
	}
	if res.ExpireTime == nil || *res.ExpireTime != 1765709429 {
		t.Errorf("expire time = %v", res.ExpireTime)
	}

	_, err = c.Login(context.Background(), "a@example.com", "nope")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "wrong password" {
		t.Fatalf("want APIError, got %v", err)
	}
}

func TestFetchProfileWithRetry_RecoversFrom5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `{"errCode":0,"data":{"email":"a@example.com"}}`)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var waits []time.Duration
	c := newTestClient(srv, WithRetryNotify(func(_ error, wait time.Duration) {
		mu.Lock()
		waits = append(waits, wait)
		mu.Unlock()
	}))

	start := time.Now()
	p, err := c.FetchProfileWithRetry(context.Background(), "b", 3)
	if err != nil {
		t.Fatalf("FetchProfileWithRetry: %v", err)
	}
	if p.Email != "a@example.com" {
		t.Errorf("email = %q", p.Email)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if len(waits) != len(want) || waits[0] != want[0] || waits[1] != want[1] {
		t.Errorf("waits = %v, want %v", waits, want)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("elapsed = %v, want at least 30ms of backoff", elapsed)
	}
}

func TestFetchProfileWithRetry_TerminalOn401(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	notified := false
	c := newTestClient(srv, WithRetryNotify(func(error, time.Duration) { notified = true }))

	_, err := c.FetchProfileWithRetry(context.Background(), "b", 3)
	var retryErr *RetryError
	if !errors.As(err, &retryErr) {
		t.Fatalf("want RetryError, got %v", err)
	}
	if retryErr.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", retryErr.Attempts)
	}
	if err.Error() != "token expired or invalid, please sign in again" {
		t.Errorf("message = %q", err.Error())
	}
	if calls.Load() != 1 || notified {
		t.Errorf("calls = %d, notified = %v; want a single attempt and no wait", calls.Load(), notified)
	}

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("cause not preserved: %v", err)
	}
}

func TestFetchProfileWithRetry_Exhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var waits atomic.Int32
	c := newTestClient(srv, WithRetryNotify(func(error, time.Duration) { waits.Add(1) }))

	_, err := c.FetchProfileWithRetry(context.Background(), "b", 3)
	if err == nil || err.Error() != "server error, please try again later" {
		t.Fatalf("error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if waits.Load() != 2 {
		t.Errorf("waits = %d, want 2 (no wait after the last attempt)", waits.Load())
	}
}

func TestFetchProfileWithRetry_NetworkErrorIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	var waits atomic.Int32
	c := newTestClient(srv, WithRetryNotify(func(error, time.Duration) { waits.Add(1) }))

	_, err := c.FetchProfileWithRetry(context.Background(), "b", 2)
	if err == nil || err.Error() != "network connection failed, please check your connection" {
		t.Fatalf("error = %v", err)
	}
	if waits.Load() != 1 {
		t.Errorf("waits = %d, want 1", waits.Load())
	}
}

func TestFetchProfileWithRetry_UnsupportedSchemeIsTerminal(t *testing.T) {
	var waits atomic.Int32
	c := New(
		WithEndpoints(Endpoints{UserInfo: "ftp://example.invalid/info"}),
		WithRetryStep(time.Millisecond),
		WithRetryNotify(func(error, time.Duration) { waits.Add(1) }),
	)

	_, err := c.FetchProfileWithRetry(context.Background(), "b", 3)
	var retryErr *RetryError
	if !errors.As(err, &retryErr) {
		t.Fatalf("want RetryError, got %v", err)
	}
	if retryErr.Attempts != 1 || waits.Load() != 0 {
		t.Errorf("attempts = %d, waits = %d; want a single attempt", retryErr.Attempts, waits.Load())
	}
	if class := Classify(err); class.Retryable || !strings.Contains(class.Message, "unsupported protocol scheme") {
		t.Errorf("Classify() = %+v, want terminal with the transport message", class)
	}
}

func TestFetchProfileWithRetry_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := newTestClient(srv, WithRetryStep(time.Hour), WithRetryNotify(func(error, time.Duration) { cancel() }))

	done := make(chan error, 1)
	go func() {
		_, err := c.FetchProfileWithRetry(ctx, "b", 5)
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not interrupt the backoff wait")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		msg       string
	}{
		{"500", &HTTPError{StatusCode: 500}, true, "server error, please try again later"},
		{"401", &HTTPError{StatusCode: 401}, false, "token expired or invalid, please sign in again"},
		{"403", &HTTPError{StatusCode: 403}, false, "access denied"},
		{"404", &HTTPError{StatusCode: 404}, false, "API endpoint not found"},
		{"429", &HTTPError{StatusCode: 429}, false, "http error: 429 Too Many Requests"},
		{"api", &APIError{Code: 7, Message: "quota frozen"}, false, "api error 7: quota frozen"},
		{"deadline", context.DeadlineExceeded, true, "request timed out, please try again later"},
		{"cancelled", context.Canceled, false, "request cancelled"},
		{"other", errors.New("boom"), false, "boom"},
		{"dns", &net.DNSError{Err: "no such host", Name: "x.invalid"}, true, "network connection failed, please check your connection"},
		{"bad scheme", &url.Error{Op: "Get", URL: "ftp://x", Err: errors.New(`unsupported protocol scheme "ftp"`)}, false, `Get "ftp://x": unsupported protocol scheme "ftp"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Retryable != tt.retryable || got.Message != tt.msg {
				t.Errorf("Classify() = %+v, want {%v %q}", got, tt.retryable, tt.msg)
			}
		})
	}
}
