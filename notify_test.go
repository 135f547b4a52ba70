package unlocker

import (
	"bytes"
	"strings"
	"testing"
)

func TestConsoleNotifier(t *testing.T) {
	var out bytes.Buffer
	n := &ConsoleNotifier{Out: &out}
	n.Error(1, StagePattern, StageMessage(StagePattern))
	n.Info(1, "hello")

	if !strings.Contains(out.String(), "[ERROR] Unable to find TaskScheduler!") {
		t.Fatalf("output = %q", out.String())
	}
	if !strings.Contains(out.String(), "[.] hello") {
		t.Fatalf("output = %q", out.String())
	}

	out.Reset()
	silent := &ConsoleNotifier{Out: &out, Silent: true}
	silent.Error(1, StagePattern, StageMessage(StagePattern))
	if out.Len() != 0 {
		t.Fatalf("silent notifier printed %q", out.String())
	}
}
