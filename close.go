package chamfer

// Close releases the Matcher's execution backend and rejects further work
// with ErrClosed. Close is idempotent.
//
// Only a backend the Matcher created itself is closed; one supplied through
// WithBackend stays open, since it may be shared with other matchers.
func (m *Matcher) Close() error {
	if m == nil {
		return nil
	}
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	if m.ownsBackend {
		return m.backend.Close()
	}
	return nil
}
