package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewRespectsVerbose(t *testing.T) {
	var quiet bytes.Buffer
	logging := New(&quiet, false)
	logging.Debug("should not appear")
	logging.Info("should appear")

	if strings.Contains(quiet.String(), "should not appear") {
		t.Error("Debug message was logged with verbose=false")
	}
	if !strings.Contains(quiet.String(), "should appear") {
		t.Error("Info message was not logged with verbose=false")
	}

	var verbose bytes.Buffer
	loud := New(&verbose, true)
	loud.Debug("debug line")
	if !strings.Contains(verbose.String(), "debug line") {
		t.Error("Debug message was not logged with verbose=true")
	}
}
