package fastlimit

// ConfigurationError reports integration misuse, such as a limiter built with a
// non-positive limit or a check with no key to limit on. It is not a rate
// limit outcome and retrying will not help.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "fastlimit: configuration error: " + e.Reason
}
