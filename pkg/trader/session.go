package trader

import "sync"

// Session carries per-process pipeline state that would otherwise be global:
// whether the configuration dump has been logged and which leverage values
// were applied to which symbols.
type Session struct {
	mu       sync.Mutex
	firstRun bool
	leverage map[string]int
}

func NewSession() *Session {
	return &Session{
		firstRun: true,
		leverage: make(map[string]int),
	}
}

// TakeFirstRun returns true exactly once per session.
func (s *Session) TakeFirstRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.firstRun {
		return false
	}
	s.firstRun = false
	return true
}

func (s *Session) LeverageApplied(symbol string, leverage int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leverage[symbol] == leverage
}

func (s *Session) MarkLeverage(symbol string, leverage int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leverage[symbol] = leverage
}

// ResetLeverage forgets applied leverage, e.g. after credentials change.
func (s *Session) ResetLeverage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leverage = make(map[string]int)
}
