package logging

// ApplicationLogger is the printf-style logger the push client writes to.
type ApplicationLogger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type noOpLogger struct{}

// NewNoOpLogger returns a logger that discards everything
func NewNoOpLogger() ApplicationLogger {
	return noOpLogger{}
}

func (noOpLogger) Debug(string, ...interface{}) {}
func (noOpLogger) Info(string, ...interface{})  {}
func (noOpLogger) Warn(string, ...interface{})  {}
func (noOpLogger) Error(string, ...interface{}) {}
