package fastlimit

import "net/http"

// TransportOption configures a RoundTripper created by Limiter.Transport.
type TransportOption func(*transport)

// WithTransportKey sets how outgoing requests map to rate limit keys.
// The default key is the request's host and path.
func WithTransportKey(fn func(*http.Request) string) TransportOption {
	return func(t *transport) {
		t.keyFn = fn
	}
}

// WithPatterns restricts limiting to requests whose host and path match one of
// the glob patterns. Other requests pass through unchecked.
func WithPatterns(patterns ...string) TransportOption {
	return func(t *transport) {
		t.matcher = append(t.matcher, compilePatterns(patterns)...)
	}
}

// WithTransportStrategy sets the reaction to a denied request. The default is Block.
func WithTransportStrategy(s Strategy) TransportOption {
	return func(t *transport) {
		t.strategy = s
	}
}

// Transport wraps an http.RoundTripper so that requests made through it are
// checked against the limiter before they leave the process. A denied request
// fails with a *LimitExceededError; a storage failure fails the request.
func (l *Limiter) Transport(base http.RoundTripper, opts ...TransportOption) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &transport{limiter: l, base: base, strategy: Block}
	for _, o := range opts {
		o(t)
	}
	if t.keyFn == nil {
		t.keyFn = func(r *http.Request) string { return hostPath(r.URL) }
	}
	return t
}

// transport implements http.RoundTripper and checks rate limits before
// forwarding requests to the underlying transport.
type transport struct {
	limiter  *Limiter
	base     http.RoundTripper
	keyFn    func(*http.Request) string
	matcher  urlMatcher
	strategy Strategy
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.matcher.match(req.URL) {
		return t.base.RoundTrip(req)
	}

	ctx := req.Context()
	key := t.keyFn(req)

	d, err := t.limiter.Check(ctx, key)
	if err != nil {
		return nil, err
	}

	if !d.Allowed {
		switch t.strategy {
		case LogOnly:
		case Wait:
			if err := d.Wait(ctx); err != nil {
				return nil, err
			}
			if d, err = t.limiter.Check(ctx, key); err != nil {
				return nil, err
			}
			if err := d.Err(); err != nil {
				return nil, err
			}
		default:
			return nil, d.Err()
		}
	}

	return t.base.RoundTrip(req)
}
