package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// loggingFramePaths are function-path fragments that never count as the
// real call site: logrus internals and this package's wrappers.
var loggingFramePaths = []string{"sirupsen/logrus", "stratflow/logger"}

// callerHook re-points the caller logrus reports at the first frame outside
// the logging stack, so file:line in the output names the component that
// logged rather than a wrapper in this package.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 16)
	// skip runtime.Callers, Fire itself and the frames below it
	n := runtime.Callers(6, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !more {
			return nil
		}
		if isLoggingFrame(frame.Function) {
			continue
		}
		entry.Caller = &frame
		return nil
	}
}

func isLoggingFrame(fn string) bool {
	for _, path := range loggingFramePaths {
		if strings.Contains(fn, path) {
			return true
		}
	}
	return false
}
