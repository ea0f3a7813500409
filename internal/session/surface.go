package session

import "sync"

// ErrorSurface tracks the single sticky fatal-error condition. It is
// raised when any collaborator receives an explicit server error
// indicator: a push frame carrying an error field, or a REST response
// whose body signals an error on a roster or history fetch. Once raised
// it stays raised; only a full session reset clears it. Server-side
// error signals indicate a condition outside the client's ability to
// self-heal, so no automated clearing exists.
type ErrorSurface struct {
	mu      sync.RWMutex
	present bool
	detail  string
}

// Raise marks the fatal condition. The first detail is kept; subsequent
// raises are absorbed without overwriting the original cause.
func (e *ErrorSurface) Raise(detail string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.present {
		return
	}
	e.present = true
	e.detail = detail
}

// Clear resets the surface. Only session teardown calls this.
func (e *ErrorSurface) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.present = false
	e.detail = ""
}

// Get returns whether the fatal condition is present and its detail.
func (e *ErrorSurface) Get() (bool, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.present, e.detail
}
