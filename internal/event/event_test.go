package event

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestPrinterEmitsPlainLineWhenNoColor(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)
	p.Emit(Event{Target: "main", Phase: PhaseReady, Duration: 120 * time.Millisecond, SizeBefore: 100, SizeAfter: 80})

	line := buf.String()
	if strings.Contains(line, "\x1b[") {
		t.Errorf("expected no ANSI codes, got %q", line)
	}
	if !strings.Contains(line, "main") || !strings.Contains(line, "100 -> 80 bytes") {
		t.Errorf("got %q", line)
	}
}

func TestPrinterColorizesErrorsRed(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)
	p.Emit(Event{Target: "main", Phase: PhaseCompileError})

	if !strings.Contains(buf.String(), ansiRed) {
		t.Errorf("expected red ANSI code in %q", buf.String())
	}
}
