package social

import (
	"fmt"
	"strings"
)

// FailurePolicy decides what a search does when one post cannot be classified.
type FailurePolicy int

const (
	// FailurePolicyAbort fails the whole search with no partial results.
	FailurePolicyAbort FailurePolicy = iota
	// FailurePolicySkip drops the post and keeps the rest.
	FailurePolicySkip
)

func (p FailurePolicy) String() string {
	switch p {
	case FailurePolicySkip:
		return "skip"
	default:
		return "abort"
	}
}

// ParseFailurePolicy parses "abort" or "skip". Empty means abort.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "abort":
		return FailurePolicyAbort, nil
	case "skip":
		return FailurePolicySkip, nil
	default:
		return FailurePolicyAbort, fmt.Errorf("unknown failure policy %q", s)
	}
}
