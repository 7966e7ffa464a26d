package util

import (
	"runtime/debug"
	"sync"

	"github.com/vaporfund/staking-widget/internal/logging"
)

// SafeGo runs fn in a goroutine that recovers and logs panics instead of
// crashing the process.
func SafeGo(fn func()) {
	SafeGoWithName("", fn)
}

// SafeGoWithName is SafeGo with a goroutine name attached to panic logs.
//
//	util.SafeGoWithName("wallet-session-events", func() {
//	    // goroutine code here
//	})
func SafeGoWithName(name string, fn func()) {
	go func() {
		defer recoverAndLog(name)
		fn()
	}()
}

// SafeGoTracked is SafeGoWithName for goroutines the caller must be able to
// wait for; wg is incremented before the goroutine starts.
func SafeGoTracked(wg *sync.WaitGroup, name string, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer recoverAndLog(name)
		fn()
	}()
}

func recoverAndLog(name string) {
	if r := recover(); r != nil {
		args := []any{"panic", r, "stack", string(debug.Stack())}
		if name != "" {
			args = append(args, "goroutine", name)
		}
		logging.Error("goroutine panic recovered", args...)
	}
}
