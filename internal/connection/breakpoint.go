package connection

import (
	"runtime"
	"sync"
)

// breakOnce limits the trap to the process's first non-success verdict.
var breakOnce sync.Once

// breakOnError implements the "break" on-error policy (spec sections 4.7,
// 7): the original raises a debugger-attach signal. runtime.Breakpoint is
// the closest portable equivalent available to a Go build (see DESIGN.md's
// resolution of this open question); a process without an attached
// debugger simply continues past the trap.
func breakOnError() {
	breakOnce.Do(runtime.Breakpoint)
}
