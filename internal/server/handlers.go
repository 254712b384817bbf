package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/florianilch/acctkeeper/internal/account"
	"github.com/florianilch/acctkeeper/internal/accountstore"
	"github.com/florianilch/acctkeeper/internal/verdentapi"
)

// ListResponse is the body of GET /accounts.
type ListResponse struct {
	Accounts []account.Record `json:"accounts"`
}

// ImportRequest is the body of POST /accounts/import: either a token or an
// email and password.
type ImportRequest struct {
	Token    string `json:"token,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

// redact hides stored passwords from API responses.
func redact(r account.Record) account.Record {
	r.Password = ""
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := s.accounts.List(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	out := make([]account.Record, 0, len(records))
	for _, rec := range records {
		out = append(out, redact(rec))
	}
	writeJSON(w, r, http.StatusOK, ListResponse{Accounts: out})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.accounts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, redact(rec))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	rec, err := s.accounts.RefreshAccount(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, redact(rec))
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		rec account.Record
		err error
	)
	switch {
	case req.Token != "":
		rec, err = s.accounts.ImportToken(r.Context(), req.Token)
	case req.Email != "" && req.Password != "":
		rec, err = s.accounts.ImportCredentials(r.Context(), req.Email, req.Password)
	default:
		writeError(w, r, http.StatusBadRequest, "token or email and password required")
		return
	}
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, redact(rec))
}

// writeAppError maps err to a status code and a message safe to show a user.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	if errors.Is(err, accountstore.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "account not found")
		return
	}
	for _, clientErr := range s.clientErrors {
		if errors.Is(err, clientErr) {
			writeError(w, r, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}

	var retryErr *verdentapi.RetryError
	var httpErr *verdentapi.HTTPError
	var apiErr *verdentapi.APIError
	if errors.As(err, &retryErr) || errors.As(err, &httpErr) || errors.As(err, &apiErr) {
		writeError(w, r, http.StatusBadGateway, verdentapi.Classify(err).Message)
		return
	}

	slog.ErrorContext(ctx, "request failed", "error", err)
	writeError(w, r, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}
