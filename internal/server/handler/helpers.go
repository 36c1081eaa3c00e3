// Package handler implements the wagerd HTTP API on top of the wager and
// query services.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

const (
	defaultLimit = 50
	maxLimit     = 500
	maxBodyBytes = 64 << 10
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// errorBody is the JSON shape of every error response. Code is the
// taxonomy name clients branch on.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// errorMapping ties each domain sentinel to its status and code.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrInvalidState, http.StatusConflict, "invalid_state"},
	{domain.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{domain.ErrValidation, http.StatusBadRequest, "validation_failed"},
	{domain.ErrTooEarly, http.StatusTooEarly, "too_early"},
	{domain.ErrMissingVerification, http.StatusConflict, "missing_verification"},
	{domain.ErrNotFinal, http.StatusConflict, "not_final"},
	{domain.ErrInvalidOutcome, http.StatusInternalServerError, "invalid_outcome"},
	{domain.ErrConsensusFailure, http.StatusServiceUnavailable, "consensus_failure"},
	{domain.ErrConflict, http.StatusConflict, "conflict"},
	{domain.ErrLockHeld, http.StatusConflict, "busy"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
}

// StatusFor returns the HTTP status and error code for err.
func StatusFor(err error) (int, string) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// writeServiceError maps a service error onto a response. Internal errors
// are logged and their text withheld from the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status, code := StatusFor(err)
	if status == http.StatusInternalServerError && code == "internal" {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
		writeError(w, status, code, op+" failed")
		return
	}
	writeError(w, status, code, err.Error())
}

// decodeBody reads a JSON body into dst and validates its struct tags. An
// empty body leaves dst at its zero value before validation.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %v: %w", err, domain.ErrValidation)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%s: %w", describeValidation(err), domain.ErrValidation)
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// parseListOpts reads limit and offset from the query string. Missing
// values default to limit=50 and offset=0; limit is capped at 500.
// Malformed or negative values are validation errors.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: defaultLimit}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("limit %q: %w", v, domain.ErrValidation)
		}
		opts.Limit = min(n, maxLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("offset %q: %w", v, domain.ErrValidation)
		}
		opts.Offset = n
	}
	return opts, nil
}

// page wraps list responses.
type page[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func newPage[T any](items []T, opts domain.ListOpts) page[T] {
	if items == nil {
		items = []T{}
	}
	return page[T]{Items: items, Limit: opts.Limit, Offset: opts.Offset}
}
