package app

import "time"

// Session tracks one CLI invocation against a database. Its ID tags every
// log line written during the invocation.
type Session struct {
	ID       string
	Command  string
	Database string
	Started  time.Time
	Status   string // "running", "success" or "error"
}

// NewSession creates a running session started at now.
func NewSession(command, database string, now time.Time) *Session {
	now = now.UTC()
	return &Session{
		ID:       now.Format("20060102T150405Z"),
		Command:  command,
		Database: database,
		Started:  now,
		Status:   "running",
	}
}

// Finish records the outcome of the session.
func (s *Session) Finish(err error) {
	if err != nil {
		s.Status = "error"
		return
	}
	s.Status = "success"
}

// Running reports whether Finish has not been called.
func (s *Session) Running() bool {
	return s.Status == "running"
}
