package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/service"
)

// Headers a relayer sets on each request.
const (
	HeaderAddress = "X-Wager-Address"
	HeaderValue   = "X-Wager-Value"
	HeaderTime    = "X-Wager-Time"
)

type callKey struct{}

// WithCall stores the caller identity on ctx.
func WithCall(ctx context.Context, call domain.Call) context.Context {
	return context.WithValue(ctx, callKey{}, call)
}

// CallFrom returns the caller identity stored by Identity. The zero Call
// has no sender, which state-changing actions reject.
func CallFrom(ctx context.Context) domain.Call {
	call, _ := ctx.Value(callKey{}).(domain.Call)
	return call
}

// Identity reads the caller address and attached value from the relayer
// headers. When trustTime is set, X-Wager-Time (RFC 3339 or unix seconds)
// pins the action time; otherwise the header is ignored.
func Identity(trustTime bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var call domain.Call

			if addr := strings.TrimSpace(r.Header.Get(HeaderAddress)); addr != "" {
				if !common.IsHexAddress(addr) {
					writeJSONError(w, http.StatusBadRequest, "validation_failed", "malformed "+HeaderAddress)
					return
				}
				call.Sender = addr
			}

			if v := strings.TrimSpace(r.Header.Get(HeaderValue)); v != "" {
				n, err := strconv.ParseInt(v, 10, 64)
				if err != nil || n < 0 {
					writeJSONError(w, http.StatusBadRequest, "validation_failed", "malformed "+HeaderValue)
					return
				}
				call.Value = n
			}

			ctx := WithCall(r.Context(), call)
			if v := strings.TrimSpace(r.Header.Get(HeaderTime)); v != "" && trustTime {
				t, ok := parseActionTime(v)
				if !ok {
					writeJSONError(w, http.StatusBadRequest, "validation_failed", "malformed "+HeaderTime)
					return
				}
				ctx = service.WithActionTime(ctx, t)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseActionTime(v string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, true
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0), true
	}
	return time.Time{}, false
}
