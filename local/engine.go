package local

import (
	"fmt"
	"strings"

	"github.com/openeo-local/runner/service"
	"go.uber.org/zap/zapcore"
)

// EngineLogFilter classifies the engine output lines and enriches a failure
// with the last error seen in the logs
type EngineLogFilter struct {
	lastError string
}

var temporaryErrs = []string{
	"temporary failure",
	"try again",
	"timed out",
}

// WrapError wraps the error with additionnal information from the logs
func (f *EngineLogFilter) WrapError(err error) error {
	if f.lastError == "" || err == nil {
		return err
	}
	err = fmt.Errorf("%w (%v)", err, f.lastError)
	strerr := strings.ToLower(f.lastError)
	if strings.Contains(strerr, "fatal") {
		return service.MakeFatal(err)
	}
	for _, tmpErr := range temporaryErrs {
		if strings.Contains(strerr, tmpErr) {
			return service.MakeTemporary(err)
		}
	}
	return err
}

// Filter implement log.Filter
func (f *EngineLogFilter) Filter(msg string, defaultLevel zapcore.Level) (string, zapcore.Level, bool) {
	trimmedmsg := strings.TrimSpace(msg)
	if strings.HasPrefix(trimmedmsg, "FATAL:") || strings.HasPrefix(trimmedmsg, "ERROR:") || strings.HasPrefix(trimmedmsg, "TEMPORARY ERROR:") {
		f.lastError = trimmedmsg
		return msg, zapcore.ErrorLevel, false
	}
	if strings.HasPrefix(trimmedmsg, "WARNING:") || strings.HasPrefix(trimmedmsg, "WARN:") {
		return msg, zapcore.WarnLevel, false
	}
	if strings.HasPrefix(trimmedmsg, "INFO:") {
		return msg, zapcore.DebugLevel, false
	}
	if strings.HasPrefix(trimmedmsg, "Traceback") || strings.HasPrefix(trimmedmsg, "at ") {
		return msg, zapcore.DebugLevel, false
	}
	return msg, defaultLevel, false
}
