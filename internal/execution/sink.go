package execution

import "sync"

// ErrorSink is the append-only record of load and execution failures of a
// lineage, in the order they were recorded.
type ErrorSink struct {
	mu   sync.Mutex
	errs []error
}

// Add appends err
func (s *ErrorSink) Add(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

// AddOnce appends err unless that same error is already recorded. It
// reports whether err was added.
func (s *ErrorSink) AddOnce(err error) bool {
	if err == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.errs {
		if e == err {
			return false
		}
	}
	s.errs = append(s.errs, err)
	return true
}

// Errors returns a copy of the recorded errors
func (s *ErrorSink) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]error, len(s.errs))
	copy(out, s.errs)
	return out
}

// Len returns the number of recorded errors
func (s *ErrorSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errs)
}
