package daemon

import (
	"errors"
	"fmt"
)

// Category classifies unrecoverable failures so each maps to a distinct
// process exit status, mirroring the operator-facing status table of the
// previous generation of these daemons.
type Category int

const (
	CategoryNone Category = iota
	CategoryConnection
	CategoryNoDomains
	CategoryEnumeration
	CategorySetup
	CategoryStatsRead
	CategoryDomainInfo
	CategoryIdleCounter
	CategoryHostMemory
	// CategoryApply marks failed pin/set-memory calls. These abort the
	// current cycle's rebalance pass but never terminate the process.
	CategoryApply
)

const (
	ExitUsage       = 2
	exitCodeUnknown = 1
)

var exitCodes = map[Category]int{
	CategoryConnection:  10,
	CategoryNoDomains:   11,
	CategoryEnumeration: 12,
	CategorySetup:       13,
	CategoryStatsRead:   14,
	CategoryDomainInfo:  15,
	CategoryIdleCounter: 16,
	CategoryHostMemory:  17,
}

func (c Category) String() string {
	switch c {
	case CategoryConnection:
		return "connection"
	case CategoryNoDomains:
		return "no-domains"
	case CategoryEnumeration:
		return "enumeration"
	case CategorySetup:
		return "setup"
	case CategoryStatsRead:
		return "stats-read"
	case CategoryDomainInfo:
		return "domain-info"
	case CategoryIdleCounter:
		return "idle-counter-missing"
	case CategoryHostMemory:
		return "host-memory"
	case CategoryApply:
		return "apply"
	default:
		return "unknown"
	}
}

// Failure wraps an error with its category.
type Failure struct {
	Cat Category
	Err error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Cat, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func Fail(cat Category, err error) error {
	if err == nil {
		return nil
	}
	return &Failure{Cat: cat, Err: err}
}

func Failf(cat Category, format string, args ...any) error {
	return &Failure{Cat: cat, Err: fmt.Errorf(format, args...)}
}

func CategoryOf(err error) Category {
	var f *Failure
	if errors.As(err, &f) {
		return f.Cat
	}
	return CategoryNone
}

// IsCycleLocal reports whether err only poisons the current cycle.
// Apply failures abort the rebalance pass and are retried implicitly
// next cycle; everything else is fatal to the process.
func IsCycleLocal(err error) bool {
	return CategoryOf(err) == CategoryApply
}

// ExitCode maps an error to the process exit status for its category.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if code, ok := exitCodes[CategoryOf(err)]; ok {
		return code
	}
	return exitCodeUnknown
}
