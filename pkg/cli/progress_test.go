package cli

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestSimpleProgressRendersBarAndCounts(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf)

	progress.Start(4)
	progress.Update(2)
	progress.Finish()

	output := buf.String()
	if !strings.Contains(output, "Progress:") {
		t.Error("missing Progress: prefix")
	}
	if !strings.Contains(output, "(2/4)") {
		t.Error("missing intermediate count (2/4)")
	}
	if !strings.Contains(output, "(4/4)") {
		t.Error("Finish did not render the completed count")
	}
	if !strings.Contains(output, "█") || !strings.Contains(output, "░") {
		t.Error("bar characters missing from output")
	}
	if !strings.HasSuffix(output, "\n") {
		t.Error("Finish should end the line")
	}
}

func TestSimpleProgressZeroTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf)

	progress.Start(0)
	progress.Update(0)
	progress.Finish()

	// Nothing but the trailing newline is expected when there is no work.
	if got := strings.TrimRight(buf.String(), "\n"); got != "" {
		t.Errorf("unexpected output for zero total: %q", got)
	}
}

func TestSimpleProgressError(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf)

	progress.Start(3)
	progress.Error(errors.New("refresh token rejected"))

	output := buf.String()
	if !strings.Contains(output, "Error:") {
		t.Error("missing Error: marker")
	}
	if !strings.Contains(output, "refresh token rejected") {
		t.Error("error message missing from output")
	}
}

func TestSimpleProgressConcurrentUpdates(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf)

	progress.Start(100)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				progress.Update(int64(n*10 + j))
			}
		}(i)
	}
	wg.Wait()
	progress.Finish()

	if buf.Len() == 0 {
		t.Error("expected progress output")
	}
	if !strings.Contains(buf.String(), "(100/100)") {
		t.Error("Finish did not settle on the total")
	}
}

func TestNewProgressReporterNilWriter(t *testing.T) {
	progress := NewProgressReporter(nil)
	if progress == nil {
		t.Fatal("NewProgressReporter(nil) returned nil")
	}
}
