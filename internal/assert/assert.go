// Package assert guards construction-time invariants. A failed assertion
// is a programmer error, not a runtime condition, so it panics rather than
// returning an error the caller would have no sane way to handle.
package assert

import "fmt"

func That(truth bool, format string, a ...any) {
	if !truth {
		panic(fmt.Sprintf(format, a...))
	}
}
