package log

import (
	"fmt"
	"runtime/debug"
)

// SafeGo runs fn in a new goroutine with panic recovery. A recovered panic
// is logged with the goroutine name and stack trace instead of crashing the
// process.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				Error(CatCLI, "goroutine panicked",
					"goroutine", name,
					"panic", fmt.Sprintf("%v", r),
					"stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}
