// Package batch decides when enough transcript text has accumulated to
// justify a translation call.
//
// The decision is a pure function over accumulated text and elapsed time.
// Checks are ordered: the minimum-size floor first, then the hard size
// ceiling (to stay under provider token limits), then the time and sentence
// heuristics. Sentence counting is a lexical count of terminal punctuation
// across Latin and CJK scripts, not true sentence segmentation.
package batch

import (
	"regexp"
	"time"
)

// Reason explains a batching decision.
type Reason string

const (
	ReasonBelowMinChars     Reason = "below_min_chars"
	ReasonMaxCharsReached   Reason = "max_chars_reached"
	ReasonTimeThreshold     Reason = "time_threshold"
	ReasonSentenceThreshold Reason = "sentence_threshold"
	ReasonWaiting           Reason = "waiting"
)

// Default thresholds, matching the production tuning.
const (
	DefaultMinChars          = 20
	DefaultMaxChars          = 500
	DefaultTimeThreshold     = 8 * time.Second
	DefaultSentenceThreshold = 2
)

// sentenceEndings matches runs of sentence-terminal punctuation in Latin and
// full-width CJK/Japanese scripts.
var sentenceEndings = regexp.MustCompile(`[.!?。！？]+`)

// Decision is the outcome of a single policy evaluation.
type Decision struct {
	Ready  bool
	Reason Reason
}

// Policy holds the batching thresholds. The zero value is not usable;
// construct with [NewPolicy].
type Policy struct {
	minChars          int
	maxChars          int
	timeThreshold     time.Duration
	sentenceThreshold int
}

// Option configures a [Policy] during construction.
type Option func(*Policy)

// WithMinChars sets the minimum accumulated length before any batch fires.
func WithMinChars(n int) Option {
	return func(p *Policy) { p.minChars = n }
}

// WithMaxChars sets the hard size ceiling that always fires.
func WithMaxChars(n int) Option {
	return func(p *Policy) { p.maxChars = n }
}

// WithTimeThreshold sets the elapsed-time trigger.
func WithTimeThreshold(d time.Duration) Option {
	return func(p *Policy) { p.timeThreshold = d }
}

// WithSentenceThreshold sets the complete-sentence count trigger.
func WithSentenceThreshold(n int) Option {
	return func(p *Policy) { p.sentenceThreshold = n }
}

// NewPolicy creates a Policy with the default thresholds, adjusted by opts.
func NewPolicy(opts ...Option) *Policy {
	p := &Policy{
		minChars:          DefaultMinChars,
		maxChars:          DefaultMaxChars,
		timeThreshold:     DefaultTimeThreshold,
		sentenceThreshold: DefaultSentenceThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// CountSentences returns the number of terminal-punctuation runs in text.
func CountSentences(text string) int {
	return len(sentenceEndings.FindAllString(text, -1))
}

// Evaluate reports whether a batch holding text, opened elapsed ago, is
// ready for translation. Check order matters: the max-length ceiling is
// evaluated before the time and sentence heuristics because it is a safety
// limit, not a quality heuristic.
func (p *Policy) Evaluate(text string, elapsed time.Duration) Decision {
	if len(text) < p.minChars {
		return Decision{Ready: false, Reason: ReasonBelowMinChars}
	}
	if len(text) >= p.maxChars {
		return Decision{Ready: true, Reason: ReasonMaxCharsReached}
	}
	if elapsed >= p.timeThreshold {
		return Decision{Ready: true, Reason: ReasonTimeThreshold}
	}
	if CountSentences(text) >= p.sentenceThreshold {
		return Decision{Ready: true, Reason: ReasonSentenceThreshold}
	}
	return Decision{Ready: false, Reason: ReasonWaiting}
}
