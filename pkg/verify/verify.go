// Package verify evaluates the recursive verify-block expressions attached
// to test milestones: primitives over URL/DOM/eval state, combined with the
// all/any combinators. Every evaluation is fail-closed — a primitive that
// cannot be evaluated against the available Context returns false rather
// than propagating an error, so an unverifiable milestone reads as "not
// achieved" instead of aborting the crank.
package verify

import (
	"regexp"
	"strings"
)

// Block is a tagged recursive variant. Exactly one field should be set per
// node; YAML/JSON authors pick the tag by which key they write.
type Block struct {
	UrlContains *string      `json:"url_contains,omitempty" yaml:"url_contains,omitempty"`
	UrlMatches  *string      `json:"url_matches,omitempty" yaml:"url_matches,omitempty"`
	EvalTruthy  *string      `json:"eval_truthy,omitempty" yaml:"eval_truthy,omitempty"`
	DomExists   *string      `json:"dom_exists,omitempty" yaml:"dom_exists,omitempty"`
	DomText     *DomTextArgs `json:"dom_text,omitempty" yaml:"dom_text,omitempty"`
	All         []Block      `json:"all,omitempty" yaml:"all,omitempty"`
	Any         []Block      `json:"any,omitempty" yaml:"any,omitempty"`
}

// DomTextArgs names a selector and the substring expected within its text content.
type DomTextArgs struct {
	Selector string `json:"selector" yaml:"selector"`
	Text     string `json:"text" yaml:"text"`
}

// Context exposes the state a Block may be evaluated against — either an
// offline verification snapshot or a runner's still-open live browser
// context. Each accessor returns ok=false when the requested state is not
// present, which Evaluate treats as a failed (not erroring) check.
type Context interface {
	URL() (string, bool)
	EvalTruthy(expr string) (bool, bool)
	DomExists(selector string) (bool, bool)
	DomText(selector string) (string, bool)
}

// Unverifiable is returned alongside an evaluation to flag that a primitive
// had no usable state in ctx — distinct from an ordinary false so callers
// can surface LiveFallbackUnavailable-style diagnostics.
type Unverifiable struct {
	Primitive string
}

// Evaluate evaluates b against ctx. unverifiable collects every primitive
// that could not be resolved (ok=false) anywhere in the subtree, in
// encounter order; it is non-nil exactly when at least one was found.
func Evaluate(b Block, ctx Context) (result bool, unverifiable []Unverifiable) {
	switch {
	case b.UrlContains != nil:
		url, ok := ctx.URL()
		if !ok {
			return false, []Unverifiable{{Primitive: "url_contains"}}
		}
		return strings.Contains(url, *b.UrlContains), nil

	case b.UrlMatches != nil:
		url, ok := ctx.URL()
		if !ok {
			return false, []Unverifiable{{Primitive: "url_matches"}}
		}
		re, err := regexp.Compile(`^(?:` + *b.UrlMatches + `)$`)
		if err != nil {
			return false, []Unverifiable{{Primitive: "url_matches"}}
		}
		return re.MatchString(url), nil

	case b.EvalTruthy != nil:
		v, ok := ctx.EvalTruthy(*b.EvalTruthy)
		if !ok {
			return false, []Unverifiable{{Primitive: "eval_truthy"}}
		}
		return v, nil

	case b.DomExists != nil:
		v, ok := ctx.DomExists(*b.DomExists)
		if !ok {
			return false, []Unverifiable{{Primitive: "dom_exists"}}
		}
		return v, nil

	case b.DomText != nil:
		text, ok := ctx.DomText(b.DomText.Selector)
		if !ok {
			return false, []Unverifiable{{Primitive: "dom_text"}}
		}
		return strings.Contains(text, b.DomText.Text), nil

	case b.All != nil:
		var all []Unverifiable
		for _, child := range b.All {
			ok, u := Evaluate(child, ctx)
			all = append(all, u...)
			if !ok {
				return false, all
			}
		}
		return true, all

	case b.Any != nil:
		var all []Unverifiable
		for _, child := range b.Any {
			ok, u := Evaluate(child, ctx)
			all = append(all, u...)
			if ok {
				return true, all
			}
		}
		return false, all

	default:
		// An empty block has nothing to verify; fail closed.
		return false, []Unverifiable{{Primitive: "empty"}}
	}
}

// RequiresLiveState reports whether b contains any primitive that a bare
// offline snapshot typically cannot answer (eval_truthy against a running
// document). The validator does not call it: it falls back to the live
// context per primitive through Fallback.
func RequiresLiveState(b Block) bool {
	if b.EvalTruthy != nil {
		return true
	}
	for _, child := range b.All {
		if RequiresLiveState(child) {
			return true
		}
	}
	for _, child := range b.Any {
		if RequiresLiveState(child) {
			return true
		}
	}
	return false
}
