// Package httplimit adapts a fastlimit.Limiter into net/http middleware.
//
// Each request is keyed by the caller's address and the resource it targets;
// a denied request is answered with 429 (Too Many Requests) before the wrapped
// handler runs.
//
//	r := chi.NewRouter()
//	r.With(httplimit.Middleware(limiter)).Get("/items", listItems)
//
// A request without a caller identity fails with a
// *fastlimit.ConfigurationError and a 500, since that indicates a
// wiring mistake rather than a rate limit outcome. What happens when the store
// is unreachable is chosen with WithFailurePolicy.
package httplimit

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ryhazerus/fastlimit"
)

// KeyFunc derives the rate limit key for a request. Returning an error
// rejects the request without consulting the limiter.
type KeyFunc func(r *http.Request) (string, error)

// FailurePolicy decides the outcome when the limiter cannot reach its store.
type FailurePolicy int

const (
	// FailClosed rejects the request with 503 (Service Unavailable).
	FailClosed FailurePolicy = iota
	// FailOpen lets the request through unchecked.
	FailOpen
)

// Response headers set by the middleware.
const (
	HeaderLimit      = "RateLimit-Limit"
	HeaderRemaining  = "RateLimit-Remaining"
	HeaderReset      = "RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// ErrorResponse is the JSON body written for rejected requests.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// Option configures the middleware.
type Option func(*config)

type config struct {
	keyFn    KeyFunc
	strategy fastlimit.Strategy
	policy   FailurePolicy
	logger   *zap.Logger
}

// WithKeyFunc replaces the default client-address-and-resource key.
func WithKeyFunc(fn KeyFunc) Option {
	return func(c *config) {
		c.keyFn = fn
	}
}

// WithStrategy sets the reaction to a denied request. The default is fastlimit.Block.
func WithStrategy(s fastlimit.Strategy) Option {
	return func(c *config) {
		c.strategy = s
	}
}

// WithFailurePolicy sets the behaviour on storage failure. The default is FailClosed.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(c *config) {
		c.policy = p
	}
}

// WithLogger sets the logger for rejected and failed checks.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Middleware returns middleware that guards every request with l.
func Middleware(l *fastlimit.Limiter, opts ...Option) func(http.Handler) http.Handler {
	cfg := &config{
		keyFn:    ClientResourceKey,
		strategy: fastlimit.Block,
		policy:   FailClosed,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return &handler{next: next, limiter: l, cfg: cfg}
	}
}

// Guard wraps a single handler with l.
func Guard(l *fastlimit.Limiter, h http.Handler, opts ...Option) http.Handler {
	return Middleware(l, opts...)(h)
}

type handler struct {
	next    http.Handler
	limiter *fastlimit.Limiter
	cfg     *config
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.cfg.logger

	key, err := h.cfg.keyFn(r)
	if err == nil && key == "" {
		err = &fastlimit.ConfigurationError{Reason: "no caller identity in request"}
	}
	if err != nil {
		logger.Error("rate limit key unavailable", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Rate limiter is misconfigured.")
		return
	}

	ctx := r.Context()
	d, err := h.limiter.Check(ctx, key)
	if err == nil && !d.Allowed && h.cfg.strategy == fastlimit.Wait {
		if err = d.Wait(ctx); err != nil {
			logger.Debug("client gave up waiting for rate limit window", zap.String("key", key), zap.Error(err))
			h.reject(w, d)
			return
		}
		d, err = h.limiter.Check(ctx, key)
	}
	if err != nil {
		h.fail(w, r, key, err)
		return
	}

	h.setHeaders(w, d)

	if !d.Allowed {
		if h.cfg.strategy == fastlimit.LogOnly {
			logger.Info("rate limit exceeded, allowing",
				zap.String("key", key), zap.Duration("time_until_reset", d.TimeUntilReset))
			h.next.ServeHTTP(w, r)
			return
		}
		logger.Info("rate limit exceeded",
			zap.String("key", key), zap.Duration("time_until_reset", d.TimeUntilReset))
		h.reject(w, d)
		return
	}

	h.next.ServeHTTP(w, r)
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, key string, err error) {
	var cfgErr *fastlimit.ConfigurationError
	if errors.As(err, &cfgErr) {
		h.cfg.logger.Error("rate limiter misconfigured", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Rate limiter is misconfigured.")
		return
	}

	if h.cfg.policy == FailOpen {
		h.cfg.logger.Warn("rate limit check failed, allowing", zap.String("key", key), zap.Error(err))
		h.next.ServeHTTP(w, r)
		return
	}

	h.cfg.logger.Error("rate limit check failed", zap.String("key", key), zap.Error(err))
	writeError(w, http.StatusServiceUnavailable, "Rate limit check failed.")
}

func (h *handler) setHeaders(w http.ResponseWriter, d fastlimit.Decision) {
	remaining := d.Remaining
	if d.Allowed {
		remaining--
	}
	w.Header().Set(HeaderLimit, strconv.FormatInt(d.Limit, 10))
	w.Header().Set(HeaderRemaining, strconv.FormatInt(max(remaining, 0), 10))
	if !d.Allowed {
		w.Header().Set(HeaderReset, strconv.FormatInt(d.ResetAt().Unix(), 10))
	}
}

func (h *handler) reject(w http.ResponseWriter, d fastlimit.Decision) {
	h.setHeaders(w, d)
	w.Header().Set(HeaderRetryAfter, strconv.FormatInt(int64(math.Ceil(d.TimeUntilReset.Seconds())), 10))
	writeError(w, http.StatusTooManyRequests, DeniedMessage(d))
}

// DeniedMessage is the detail text written for a denied request.
func DeniedMessage(d fastlimit.Decision) string {
	return fmt.Sprintf("Too many requests, please try again later. Time until reset: %.2f seconds.",
		d.TimeUntilReset.Seconds())
}

func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Detail: detail})
}

// ClientResourceKey keys a request as "<client-ip>:<resource>". The resource
// is the matched chi route pattern when the request was routed by chi, and
// the URL path otherwise. It fails with a *fastlimit.ConfigurationError when
// the request carries no remote address.
func ClientResourceKey(r *http.Request) (string, error) {
	ip := ClientIP(r)
	if ip == "" {
		return "", &fastlimit.ConfigurationError{Reason: "request has no remote address"}
	}
	return ip + ":" + Resource(r), nil
}

// HeaderKey keys a request by the value of header plus the resource. Requests
// without the header fail with a *fastlimit.ConfigurationError.
func HeaderKey(header string) KeyFunc {
	return func(r *http.Request) (string, error) {
		v := r.Header.Get(header)
		if v == "" {
			return "", &fastlimit.ConfigurationError{Reason: "request has no " + header + " header"}
		}
		return v + ":" + Resource(r), nil
	}
}

// ClientIP returns the host part of r.RemoteAddr.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Resource returns the chi route pattern for r, falling back to the URL path.
func Resource(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
