package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/opinionmarket/internal/crypto"
	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

const maxSignedBody = 1 << 20

type callerKey struct{}

// WithCaller returns a context carrying the authenticated caller.
func WithCaller(ctx context.Context, caller domain.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller attached by Caller, if any.
func CallerFrom(ctx context.Context) (domain.Address, bool) {
	a, ok := ctx.Value(callerKey{}).(domain.Address)
	return a, ok
}

// CallerConfig controls request signature checks.
type CallerConfig struct {
	Verifier crypto.Verifier
	// TrustHeader accepts X-Signer-Address without a signature. Dev only.
	TrustHeader bool
	// Replay rejects a signed request seen before. Nil disables the check.
	Replay domain.ReplayGuard
}

// Caller authenticates the X-Signer-Address header. Requests without the
// header pass through anonymous; a present but invalid signature is a 401.
func Caller(cfg CallerConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claimed := r.Header.Get(crypto.HeaderSigner)
			if claimed == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !common.IsHexAddress(claimed) {
				unauthorized(w, "invalid signer address")
				return
			}
			addr := common.HexToAddress(claimed)

			if cfg.TrustHeader {
				next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), addr)))
				return
			}

			ts, err := strconv.ParseInt(r.Header.Get(crypto.HeaderTimestamp), 10, 64)
			if err != nil {
				unauthorized(w, "invalid signature timestamp")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
			if err != nil {
				writeErr(w, http.StatusBadRequest, "bad_request", "unreadable body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			signer, err := cfg.Verifier.Recover(addr, ts, r.Method, r.URL.Path, body, r.Header.Get(crypto.HeaderSignature))
			if err != nil {
				logger.WarnContext(r.Context(), "middleware: signature rejected",
					slog.String("claimed", addr.Hex()),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				if errors.Is(err, crypto.ErrStale) {
					unauthorized(w, "stale signature")
					return
				}
				unauthorized(w, "invalid signature")
				return
			}
			if cfg.Replay != nil {
				// A timestamp is accepted for Window either side of now.
				key := crypto.ReplayKey(signer, ts, r.Method, r.URL.Path, body)
				fresh, err := cfg.Replay.Remember(r.Context(), key, 2*cfg.Verifier.Window)
				if err != nil {
					logger.ErrorContext(r.Context(), "middleware: replay check failed",
						slog.String("signer", signer.Hex()),
						slog.String("error", err.Error()),
					)
					writeErr(w, http.StatusServiceUnavailable, "unavailable", "signature check unavailable")
					return
				}
				if !fresh {
					logger.WarnContext(r.Context(), "middleware: signature replayed",
						slog.String("signer", signer.Hex()),
						slog.String("path", r.URL.Path),
					)
					unauthorized(w, "replayed signature")
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), signer)))
		})
	}
}
