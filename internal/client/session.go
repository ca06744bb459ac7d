package client

// Session is an immutable identity snapshot taken once at login. The engine
// reads the current user exactly once through this interface, so a mutation
// of whatever storage backs it cannot change identity mid-session.
type Session interface {
	UserID() string
	Token() string
}

// StaticSession is the plain Session used by real clients and tests.
type StaticSession struct {
	User        string
	BearerToken string
}

func (s StaticSession) UserID() string { return s.User }
func (s StaticSession) Token() string  { return s.BearerToken }

// Notifier is the write-only sink for user-facing errors and notices. The
// engine fires and forgets; presentation is entirely the sink's problem.
type Notifier interface {
	Notify(level, message string)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(string, string) {}
