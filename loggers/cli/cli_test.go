package cli

import (
	"bytes"
	"testing"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func entry(level log.Level, msg string, fields log.Fields) *log.Entry {
	return &log.Entry{Level: level, Message: msg, Fields: fields, Timestamp: time.Now()}
}

func TestHandler_HandleLog(t *testing.T) {
	var buf bytes.Buffer
	h := New(&buf, false)

	err := h.HandleLog(entry(log.InfoLevel, "registered access handle", log.Fields{"path": "/x/y", "source": "skip"}))
	assert.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "registered access handle")
	assert.Contains(t, out, "path=/x/y")
	assert.NotContains(t, out, "source=")
	assert.NotContains(t, out, "Stacktrace")
}

func TestHandler_Stacktraces(t *testing.T) {
	var buf bytes.Buffer
	h := New(&buf, false)

	_ = h.HandleLog(entry(log.ErrorLevel, "request failed", log.Fields{"error": errors.New("boom")}))
	assert.Contains(t, buf.String(), "Stacktrace:")

	buf.Reset()
	_ = h.HandleLog(entry(log.DebugLevel, "request failed", log.Fields{"error": errors.New("boom")}))
	assert.NotContains(t, buf.String(), "Stacktrace:")

	buf.Reset()
	h.Stacktraces = false
	_ = h.HandleLog(entry(log.ErrorLevel, "request failed", log.Fields{"error": errors.New("boom")}))
	assert.NotContains(t, buf.String(), "Stacktrace:")
}
