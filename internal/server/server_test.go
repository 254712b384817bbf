package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/florianilch/acctkeeper/internal/account"
	"github.com/florianilch/acctkeeper/internal/accountstore"
	"github.com/florianilch/acctkeeper/internal/verdentapi"
)

var errNoToken = errors.New("account has no token")

type fakeAccounts struct {
	records map[string]account.Record
	order   []string

	refreshErr error
	imported   []string
	panicOn    string
}

func newFakeAccounts(records ...account.Record) *fakeAccounts {
	f := &fakeAccounts{records: map[string]account.Record{}}
	for _, r := range records {
		f.records[r.ID] = r
		f.order = append(f.order, r.ID)
	}
	return f
}

func (f *fakeAccounts) List(context.Context) ([]account.Record, error) {
	var out []account.Record
	for _, id := range f.order {
		if r, ok := f.records[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeAccounts) Get(_ context.Context, id string) (account.Record, error) {
	if id == f.panicOn {
		panic("boom")
	}
	r, ok := f.records[id]
	if !ok {
		return account.Record{}, fmt.Errorf("%w: %s", accountstore.ErrNotFound, id)
	}
	return r, nil
}

func (f *fakeAccounts) Delete(_ context.Context, id string) error {
	if _, ok := f.records[id]; !ok {
		return fmt.Errorf("%w: %s", accountstore.ErrNotFound, id)
	}
	delete(f.records, id)
	return nil
}

func (f *fakeAccounts) RefreshAccount(ctx context.Context, id string) (account.Record, error) {
	if f.refreshErr != nil {
		return account.Record{}, f.refreshErr
	}
	return f.Get(ctx, id)
}

func (f *fakeAccounts) ImportToken(_ context.Context, token string) (account.Record, error) {
	f.imported = append(f.imported, "token:"+token)
	return account.Record{ID: "new", Email: "t@example.com", Token: token}, nil
}

func (f *fakeAccounts) ImportCredentials(_ context.Context, email, password string) (account.Record, error) {
	f.imported = append(f.imported, "creds:"+email)
	return account.Record{ID: "new", Email: email, Password: password}, nil
}

func newTestServer(t *testing.T, f *fakeAccounts) *Server {
	t.Helper()
	s, err := New(f, WithClientErrors(errNoToken))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

func TestNew_RequiresAccounts(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestList_RedactsPasswords(t *testing.T) {
	s := newTestServer(t, newFakeAccounts(
		account.Record{ID: "a", Email: "a@example.com", Password: "secret"},
		account.Record{ID: "b", Email: "b@example.com"},
	))

	rec := do(t, s, http.MethodGet, "/accounts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Error("password leaked in response")
	}

	var body ListResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Accounts) != 2 || body.Accounts[0].ID != "a" {
		t.Errorf("accounts = %+v", body.Accounts)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("missing request id header")
	}
}

func TestList_EmptyIsArray(t *testing.T) {
	s := newTestServer(t, newFakeAccounts())
	rec := do(t, s, http.MethodGet, "/accounts", "")
	if !strings.Contains(rec.Body.String(), `"accounts":[]`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestGetAndDelete(t *testing.T) {
	f := newFakeAccounts(account.Record{ID: "a", Email: "a@example.com"})
	s := newTestServer(t, f)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"get existing", http.MethodGet, "/accounts/a", http.StatusOK},
		{"get missing", http.MethodGet, "/accounts/zzz", http.StatusNotFound},
		{"delete existing", http.MethodDelete, "/accounts/a", http.StatusNoContent},
		{"delete again", http.MethodDelete, "/accounts/a", http.StatusNotFound},
		{"wrong method", http.MethodPut, "/accounts/a", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Code == http.StatusNotFound {
				if msg := decodeError(t, rec); msg != "account not found" {
					t.Errorf("error = %q", msg)
				}
			}
		})
	}
}

func TestErrorBody_CarriesRequestID(t *testing.T) {
	s := newTestServer(t, newFakeAccounts())
	rec := do(t, s, http.MethodGet, "/accounts/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}

	var body ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error != "account not found" {
		t.Errorf("error = %q", body.Error)
	}
	if id := rec.Header().Get(requestIDHeader); id == "" || body.RequestID != id {
		t.Errorf("request_id = %q, header = %q; want equal and set", body.RequestID, id)
	}
}

func TestRefresh_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "upstream unauthorized",
			err:        &verdentapi.RetryError{Attempts: 1, Message: "x", Err: &verdentapi.HTTPError{StatusCode: 401}},
			wantStatus: http.StatusBadGateway,
			wantMsg:    "token expired or invalid, please sign in again",
		},
		{
			name:       "client error",
			err:        fmt.Errorf("%w: a", errNoToken),
			wantStatus: http.StatusUnprocessableEntity,
			wantMsg:    "account has no token: a",
		},
		{
			name:       "internal",
			err:        errors.New("disk on fire"),
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "Internal Server Error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeAccounts(account.Record{ID: "a"})
			f.refreshErr = tt.err
			rec := do(t, newTestServer(t, f), http.MethodPost, "/accounts/a/refresh", "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if msg := decodeError(t, rec); msg != tt.wantMsg {
				t.Errorf("error = %q, want %q", msg, tt.wantMsg)
			}
		})
	}
}

func TestImport(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCall   string
	}{
		{"token", `{"token":"tok"}`, http.StatusCreated, "token:tok"},
		{"credentials", `{"email":"a@example.com","password":"pw"}`, http.StatusCreated, "creds:a@example.com"},
		{"empty", `{}`, http.StatusBadRequest, ""},
		{"password only", `{"password":"pw"}`, http.StatusBadRequest, ""},
		{"unknown field", `{"tok":"x"}`, http.StatusBadRequest, ""},
		{"malformed", `{`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeAccounts()
			rec := do(t, newTestServer(t, f), http.MethodPost, "/accounts/import", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantCall == "" {
				if len(f.imported) != 0 {
					t.Errorf("unexpected import %v", f.imported)
				}
				return
			}
			if len(f.imported) != 1 || f.imported[0] != tt.wantCall {
				t.Errorf("imports = %v, want [%s]", f.imported, tt.wantCall)
			}
			if strings.Contains(rec.Body.String(), `"pw"`) {
				t.Error("password echoed in response")
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	f := newFakeAccounts()
	f.panicOn = "bad"
	rec := do(t, newTestServer(t, f), http.MethodGet, "/accounts/bad", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestRequestID_KeepsValidCallerID(t *testing.T) {
	s := newTestServer(t, newFakeAccounts())
	const id = "5f0c1a52-8a3c-4b7e-9d55-0c2f6b1e9a10"

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, id)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if got := rec.Header().Get(requestIDHeader); got != id {
		t.Errorf("request id = %q, want %q", got, id)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "not-a-uuid\r\nx")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if got := rec.Header().Get(requestIDHeader); got == "" || strings.Contains(got, "not-a-uuid") {
		t.Errorf("request id = %q, want generated", got)
	}
}

func TestStartShutdown(t *testing.T) {
	s := newTestServer(t, newFakeAccounts())
	errCh, err := s.Start(t.Context(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err, ok := <-errCh; ok && err != nil {
		t.Errorf("runtime error: %v", err)
	}
}
