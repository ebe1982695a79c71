package cache

// Outcome of a single cache operation.
type Outcome int

const (
	// Store was reachable, and the key was absent.
	OutcomeMiss Outcome = iota
	// Store was reachable, and a value was found and decoded.
	OutcomeHit
	// Write, delete, or clear completed.
	OutcomeOK
	// Infrastructure or serialization failure. The error was logged, and the operation had no effect.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMiss:
		return "miss"
	case OutcomeHit:
		return "hit"
	case OutcomeOK:
		return "ok"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is returned by every Service operation in place of an error.
//
// Most callers only need Hit() (for reads). Callers which want to distinguish "no data" from "cache broken" can inspect Outcome and Err (which wraps ErrStoreUnavailable or ErrSerialization).
type Result struct {
	Outcome Outcome
	Err     error
}

func (r Result) Hit() bool {
	return r.Outcome == OutcomeHit
}

// OK is true for hits, misses, and successful writes: anything but a failure.
func (r Result) OK() bool {
	return r.Outcome != OutcomeFailed
}

func (r Result) Failed() bool {
	return r.Outcome == OutcomeFailed
}

func failed(err error) Result {
	return Result{Outcome: OutcomeFailed, Err: err}
}
