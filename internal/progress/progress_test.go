package progress

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.IncrementProgress()
			}
		}()
	}
	wg.Wait()
	if r.Progress() != 800 {
		t.Errorf("Progress = %d, want 800", r.Progress())
	}

	r.ReportText("Scoring PSMs")
	if !strings.Contains(buf.String(), "Scoring PSMs") || !strings.Contains(buf.String(), "progress=800") {
		t.Errorf("unexpected log output: %s", buf.String())
	}

	if Cancelled(context.Background(), r) {
		t.Errorf("reporter should not start cancelled")
	}
	r.Cancel()
	if !Cancelled(context.Background(), r) {
		t.Errorf("Cancel not observed")
	}
}

func TestCancelledByContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if !Cancelled(ctx, Discard) {
		t.Errorf("cancelled context not observed")
	}
}
