package fastlimit

// Strategy defines how an adapter reacts to a denied check.
type Strategy int

const (
	// Block rejects the request immediately.
	Block Strategy = iota
	// Wait sleeps until the key's window resets, bounded by the request
	// context, then checks once more.
	Wait
	// LogOnly lets the request through; the denial is still logged and
	// reported to WithOnDenied.
	LogOnly
)

func (s Strategy) String() string {
	switch s {
	case Block:
		return "Block"
	case Wait:
		return "Wait"
	case LogOnly:
		return "LogOnly"
	default:
		return "Unknown"
	}
}
