package monitoring

import (
	"log"
	"sync"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// RateLimited forwards messages to Logf according to a simple count based
// policy. With First set, only the first First messages are logged. With
// Every set, one message out of every Every calls is logged, starting with
// the first. A zero RateLimited logs everything.
type RateLimited struct {
	First uint32
	Every uint32

	mu    sync.Mutex
	calls uint32
}

// Logf logs the message if the policy allows it and reports whether it did.
func (r *RateLimited) Logf(format string, v ...interface{}) bool {
	r.mu.Lock()
	n := r.calls
	r.calls++
	r.mu.Unlock()

	if r.First > 0 && n >= r.First {
		return false
	}
	if r.Every > 0 && n%r.Every != 0 {
		return false
	}
	Logf(format, v...)
	return true
}

// Calls returns how many times Logf has been called.
func (r *RateLimited) Calls() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Reset clears the call counter.
func (r *RateLimited) Reset() {
	r.mu.Lock()
	r.calls = 0
	r.mu.Unlock()
}
