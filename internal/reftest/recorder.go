package reftest

import (
	"github.com/go-logr/logr"
)

// Recorder receives one pass/fail record per check.
type Recorder interface {
	Record(passed bool, message string)
}

// TestingT is the subset of *testing.T used by TestingRecorder.
type TestingT interface {
	Helper()
	Errorf(format string, args ...any)
	Logf(format string, args ...any)
}

// TestingRecorder fails t on every failed record and logs passing ones.
type TestingRecorder struct {
	T TestingT
}

func (r TestingRecorder) Record(passed bool, message string) {
	r.T.Helper()
	if passed {
		r.T.Logf("TEST-PASS | %s", message)
		return
	}
	r.T.Errorf("TEST-UNEXPECTED-FAIL | %s", message)
}

type LogRecorder struct {
	Log logr.Logger
}

func (r LogRecorder) Record(passed bool, message string) {
	if passed {
		r.Log.Info("TEST-PASS", "message", message)
		return
	}
	r.Log.Info("TEST-UNEXPECTED-FAIL", "message", message)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(passed bool, message string)

func (f RecorderFunc) Record(passed bool, message string) {
	f(passed, message)
}
