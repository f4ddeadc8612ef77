package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLevelFor(t *testing.T) {
	cases := []struct {
		verbosity int
		want      slog.Level
	}{
		{InfoDefault, slog.LevelInfo},
		{InfoSilent, slog.LevelError},
		{InfoVerbose, slog.LevelDebug},
		{42, slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := LevelFor(tc.verbosity); got != tc.want {
			t.Errorf("LevelFor(%d) = %v, want %v", tc.verbosity, got, tc.want)
		}
	}
}

// TestVerbosityFilter logs one record per level and checks which ones reach
// the output.
func TestVerbosityFilter(t *testing.T) {
	cases := []struct {
		name      string
		verbosity int
		want      []string
		dropped   []string
	}{
		{"default", InfoDefault, []string{"stage done", "thin context"}, []string{"conflict resolved"}},
		{"silent", InfoSilent, []string{"write failed"}, []string{"stage done", "thin context"}},
		{"verbose", InfoVerbose, []string{"conflict resolved", "stage done", "source="}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Init(tc.verbosity, "text", &buf); err != nil {
				t.Fatal(err)
			}
			log := New("consensus")
			log.Debug("conflict resolved")
			log.Info("stage done")
			log.Warn("thin context")
			log.Error("write failed")

			out := buf.String()
			for _, s := range tc.want {
				if !strings.Contains(out, s) {
					t.Errorf("missing %q in:\n%s", s, out)
				}
			}
			for _, s := range tc.dropped {
				if strings.Contains(out, s) {
					t.Errorf("unexpected %q in:\n%s", s, out)
				}
			}
			if !strings.Contains(out, "component=consensus") {
				t.Errorf("component missing in:\n%s", out)
			}
		})
	}
}

func TestInitFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(InfoDefault, "json", &buf); err != nil {
		t.Fatal(err)
	}
	New("sqlstore").Info("results written")
	if !strings.Contains(buf.String(), `"component":"sqlstore"`) {
		t.Errorf("expected JSON component, got: %s", buf.String())
	}

	if err := Init(InfoDefault, "xml", &buf); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Init(xml) = %v, want ErrUnknownFormat", err)
	}
}
