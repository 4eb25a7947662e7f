package enricher

import (
	"fmt"
	"sync"

	"claim-enricher/internal/common/logging"
)

// recordingLogger captures log messages for assertions
type recordingLogger struct {
	mu       sync.Mutex
	debugs   []string
	infos    []string
	warnings []string
	errors   []string
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{}
}

func (l *recordingLogger) record(dst *[]string, msg string, fields []logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range fields {
		msg += fmt.Sprintf(" %s=%v", f.Key, f.Value)
	}
	*dst = append(*dst, msg)
}

func (l *recordingLogger) Debug(msg string, fields ...logging.Field) {
	l.record(&l.debugs, msg, fields)
}

func (l *recordingLogger) Info(msg string, fields ...logging.Field) {
	l.record(&l.infos, msg, fields)
}

func (l *recordingLogger) Warn(msg string, fields ...logging.Field) {
	l.record(&l.warnings, msg, fields)
}

func (l *recordingLogger) Error(msg string, err error, fields ...logging.Field) {
	if err != nil {
		msg += " error=" + err.Error()
	}
	l.record(&l.errors, msg, fields)
}

func (l *recordingLogger) WithFields(fields ...logging.Field) logging.Logger {
	return l
}
