package fixture

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure raised while running a suite.
// A Kind is itself an error so callers can match with errors.Is:
//
//	if errors.Is(err, fixture.FixtureTimeoutKind) { ... }
type Kind string

const (
	DuplicateNameKind   Kind = "duplicate-name"
	FixtureTimeoutKind  Kind = "fixture-timeout"
	FixtureFailureKind  Kind = "fixture-failure"
	HookFailureKind     Kind = "hook-failure"
	TeardownFailureKind Kind = "teardown-failure"
	TestBodyFailureKind Kind = "test-body-failure"
)

func (k Kind) Error() string { return string(k) }

// ErrSealed is raised (as a panic) when a registry is mutated after a run started.
var ErrSealed = errors.New("registry is sealed")

// Error is a failure attributed to a single fixture, hook or the test body.
type Error struct {
	Kind Kind
	// Name is the fixture name, or a hook label such as "before-all[0]".
	Name string
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case FixtureTimeoutKind:
		return fmt.Sprintf("fixture %q timed out: %v", e.Name, e.Err)
	case FixtureFailureKind:
		return fmt.Sprintf("fixture %q failed: %v", e.Name, e.Err)
	case TeardownFailureKind:
		return fmt.Sprintf("teardown of %q failed: %v", e.Name, e.Err)
	case HookFailureKind:
		return fmt.Sprintf("hook %s failed: %v", e.Name, e.Err)
	case DuplicateNameKind:
		return fmt.Sprintf("fixture %q registered more than once", e.Name)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is this error's Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// RunError is returned by Runner.Run when any stage failed. Primary is the
// earliest forward-phase failure; teardown and after-all failures that
// happened afterwards are kept as suppressed errors.
type RunError struct {
	RunID      string
	Primary    error
	suppressed []error
}

func (e *RunError) Error() string {
	if len(e.suppressed) == 0 {
		return e.Primary.Error()
	}
	var sb strings.Builder
	sb.WriteString(e.Primary.Error())
	fmt.Fprintf(&sb, " (%d suppressed:", len(e.suppressed))
	for i, err := range e.suppressed {
		if i > 0 {
			sb.WriteString(";")
		}
		sb.WriteString(" ")
		sb.WriteString(err.Error())
	}
	sb.WriteString(")")
	return sb.String()
}

func (e *RunError) Unwrap() error { return e.Primary }

// Suppressed returns the secondary failures in the order they were recorded.
func (e *RunError) Suppressed() []error {
	return append([]error(nil), e.suppressed...)
}

// newRunError picks the primary error from the ordered list of recorded failures.
func newRunError(runID string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &RunError{RunID: runID, Primary: errs[0], suppressed: errs[1:]}
}
