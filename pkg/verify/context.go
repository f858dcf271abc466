package verify

// SnapshotContext evaluates primitives against an offline verification
// snapshot: a flat, opaque blob captured at end-of-test. It never answers
// eval_truthy (that requires a live document) and reports every other
// primitive present in the blob.
type SnapshotContext struct {
	// URLValue is the page URL captured in the snapshot, if any.
	URLValue *string
	// DomExistsValue maps selector -> existence, for selectors the runner
	// recorded at capture time.
	DomExistsValue map[string]bool
	// DomTextValue maps selector -> captured text content.
	DomTextValue map[string]string
}

func (s SnapshotContext) URL() (string, bool) {
	if s.URLValue == nil {
		return "", false
	}
	return *s.URLValue, true
}

func (s SnapshotContext) EvalTruthy(string) (bool, bool) {
	return false, false
}

func (s SnapshotContext) DomExists(selector string) (bool, bool) {
	v, ok := s.DomExistsValue[selector]
	return v, ok
}

func (s SnapshotContext) DomText(selector string) (string, bool) {
	v, ok := s.DomTextValue[selector]
	return v, ok
}

// LiveContext evaluates primitives against a still-open runner browser
// context. Resolve functions are nil when no live context was obtainable
// for this run (e.g. the runner already exited), in which case every
// primitive reports unverifiable.
type LiveContext struct {
	URLFunc        func() (string, bool)
	EvalTruthyFunc func(expr string) (bool, bool)
	DomExistsFunc  func(selector string) (bool, bool)
	DomTextFunc    func(selector string) (string, bool)
}

func (l LiveContext) URL() (string, bool) {
	if l.URLFunc == nil {
		return "", false
	}
	return l.URLFunc()
}

func (l LiveContext) EvalTruthy(expr string) (bool, bool) {
	if l.EvalTruthyFunc == nil {
		return false, false
	}
	return l.EvalTruthyFunc(expr)
}

func (l LiveContext) DomExists(selector string) (bool, bool) {
	if l.DomExistsFunc == nil {
		return false, false
	}
	return l.DomExistsFunc(selector)
}

func (l LiveContext) DomText(selector string) (string, bool) {
	if l.DomTextFunc == nil {
		return "", false
	}
	return l.DomTextFunc(selector)
}

// Unavailable is a Context with nothing resolvable — used when a runner's
// live browser context cannot be reached at all.
var Unavailable Context = LiveContext{}

// Fallback returns a Context that tries primary first per-call and falls
// back to secondary only for the primitives primary could not answer. It is
// the shape the validator uses to compose snapshot-then-live evaluation.
func Fallback(primary, secondary Context) Context {
	return fallbackContext{primary: primary, secondary: secondary}
}

type fallbackContext struct {
	primary   Context
	secondary Context
}

func (f fallbackContext) URL() (string, bool) {
	if v, ok := f.primary.URL(); ok {
		return v, true
	}
	return f.secondary.URL()
}

func (f fallbackContext) EvalTruthy(expr string) (bool, bool) {
	if v, ok := f.primary.EvalTruthy(expr); ok {
		return v, true
	}
	return f.secondary.EvalTruthy(expr)
}

func (f fallbackContext) DomExists(selector string) (bool, bool) {
	if v, ok := f.primary.DomExists(selector); ok {
		return v, true
	}
	return f.secondary.DomExists(selector)
}

func (f fallbackContext) DomText(selector string) (string, bool) {
	if v, ok := f.primary.DomText(selector); ok {
		return v, true
	}
	return f.secondary.DomText(selector)
}
