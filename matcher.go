package fastlimit

import (
	"net/url"
	"strings"

	"github.com/vasayxtx/go-glob"
)

// hostPath returns the host and path of u without a trailing slash. It is the
// value URL patterns are matched against and the default transport key.
func hostPath(u *url.URL) string {
	return strings.TrimRight(u.Host+u.Path, "/")
}

// urlMatcher holds compiled glob patterns. A nil matcher matches everything.
//
// Supported patterns:
//   - "api.stripe.com/*" matches the host itself and any path below it
//   - "*.example.com/v1/*" "*" matches any run of characters, "/" included
//   - "api.example.com/v1/specific" exact match
type urlMatcher []func(string) bool

func compilePatterns(patterns []string) urlMatcher {
	var m urlMatcher
	for _, p := range patterns {
		p = strings.TrimRight(p, "/")
		if prefix, ok := strings.CutSuffix(p, "/*"); ok {
			m = append(m, glob.Compile(prefix))
		}
		m = append(m, glob.Compile(p))
	}
	return m
}

func (m urlMatcher) match(u *url.URL) bool {
	if len(m) == 0 {
		return true
	}
	value := hostPath(u)
	for _, fn := range m {
		if fn(value) {
			return true
		}
	}
	return false
}
