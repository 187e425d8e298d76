package runner

import (
	"github.com/ethereum/go-ethereum/log"
)

// Sink receives status notifications for every stage transition. It is
// observational only; implementations must not influence execution.
type Sink interface {
	Busy(msg string)
	Success(msg string)
	Error(msg string)
}

// LogSink reports stage transitions through the structured logger
type LogSink struct {
	Log log.Logger
}

func (s *LogSink) Busy(msg string)    { s.Log.Info(msg, "stage", "busy") }
func (s *LogSink) Success(msg string) { s.Log.Info(msg, "stage", "success") }
func (s *LogSink) Error(msg string)   { s.Log.Error(msg, "stage", "error") }

type noopSink struct{}

func (noopSink) Busy(string)    {}
func (noopSink) Success(string) {}
func (noopSink) Error(string)   {}
