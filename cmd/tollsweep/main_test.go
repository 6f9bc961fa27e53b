package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vulnverified/tollsweep/internal/config"
	"github.com/vulnverified/tollsweep/internal/engine"
	"github.com/vulnverified/tollsweep/internal/pattern"
	"github.com/vulnverified/tollsweep/internal/store"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"", time.Time{}},
		{"2h", now.Add(-2 * time.Hour)},
		{"2026-03-01", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"2026-03-01T08:00:00Z", time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)},
		{"2026-03-01 08:00:00.250000", time.Date(2026, 3, 1, 8, 0, 0, 250000000, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseSince(tt.in, now)
		if err != nil {
			t.Errorf("parseSince(%q): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseSince(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"yesterday", "-1h"} {
		if _, err := parseSince(bad, now); err == nil {
			t.Errorf("parseSince(%q) should fail", bad)
		}
	}
}

func TestApplyRunFlags_OnlyChanged(t *testing.T) {
	cmd := newRootCommand()
	if err := cmd.ParseFlags([]string{"-c", "7", "--status-path", "/x", "--nameserver", "9.9.9.9"}); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Run.VerifyConcurrency = 3
	cfg.Database = "from-file.db"

	f := &runFlags{}
	f.concurrency, _ = cmd.Flags().GetInt("concurrency")
	f.statusPath, _ = cmd.Flags().GetString("status-path")
	f.nameservers, _ = cmd.Flags().GetStringSlice("nameserver")
	applyRunFlags(cmd, cfg, f)

	if cfg.Run.Concurrency != 7 {
		t.Errorf("concurrency = %d, want 7", cfg.Run.Concurrency)
	}
	if cfg.Run.StatusPath != "/x" {
		t.Errorf("status path = %q", cfg.Run.StatusPath)
	}
	if len(cfg.DNS.Nameservers) != 1 || cfg.DNS.Nameservers[0] != "9.9.9.9" {
		t.Errorf("nameservers = %v", cfg.DNS.Nameservers)
	}
	// Untouched flags keep file values.
	if cfg.Run.VerifyConcurrency != 3 {
		t.Errorf("verify concurrency = %d, want file value 3", cfg.Run.VerifyConcurrency)
	}
	if cfg.Database != "from-file.db" {
		t.Errorf("database = %q, want file value", cfg.Database)
	}
}

func TestApplyRunFlags_VerboseRaisesLogLevel(t *testing.T) {
	cmd := newRootCommand()
	if err := cmd.ParseFlags([]string{"-v"}); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	applyRunFlags(cmd, cfg, &runFlags{verbose: true})
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "WARN", "json")
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "host", "sunpass.com-abcd.win")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, `"host":"sunpass.com-abcd.win"`) {
		t.Errorf("expected JSON record, got %q", out)
	}

	if _, err := newLogger(&buf, "loud", "text"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestResumeOrder(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "tollsweep.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	const src = "txtag.org-[a-z]{3}.win"
	p, err := pattern.Compile(src, pattern.Options{})
	if err != nil {
		t.Fatal(err)
	}
	fresh := sweepOrder{Shuffle: true, Seed: 9}

	got, err := resumeOrder(ctx, st, src, pattern.Options{}, fresh)
	if err != nil || got != fresh {
		t.Fatalf("no history: order = %+v, err = %v, want %+v", got, err, fresh)
	}

	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	if err := st.WriteRun(ctx, engine.RunSummary{
		RunID:      "r1",
		Pattern:    p.ID(),
		State:      engine.Aborted,
		StartedAt:  started,
		SpaceSize:  p.Size(),
		NextOffset: 4242,
		Shuffled:   true,
		Seed:       31337,
	}); err != nil {
		t.Fatal(err)
	}
	got, err = resumeOrder(ctx, st, src, pattern.Options{}, sweepOrder{})
	want := sweepOrder{Offset: 4242, Shuffle: true, Seed: 31337}
	if err != nil || got != want {
		t.Fatalf("order = %+v, err = %v, want %+v", got, err, want)
	}

	if err := st.WriteRun(ctx, engine.RunSummary{
		RunID:      "r2",
		Pattern:    p.ID(),
		State:      engine.Completed,
		StartedAt:  started.Add(time.Hour),
		SpaceSize:  p.Size(),
		NextOffset: p.Size(),
	}); err != nil {
		t.Fatal(err)
	}
	got, err = resumeOrder(ctx, st, src, pattern.Options{}, fresh)
	if err != nil || got != fresh {
		t.Fatalf("exhausted space: order = %+v, err = %v, want %+v", got, err, fresh)
	}
}

func TestRunsPatternID_UsesConfigOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Run.Alphabet = "ab"
	cfg.Run.MaxLength = 12

	id, err := runsPatternID("sunpass.com-[a-z]{10}.win", cfg)
	if err != nil {
		t.Fatalf("pattern longer than the default cap should compile with max_length 12: %v", err)
	}
	p, err := pattern.Compile("sunpass.com-[a-z]{10}.win", pattern.Options{Alphabet: "ab", MaxLength: 12})
	if err != nil {
		t.Fatal(err)
	}
	if id != p.ID() {
		t.Errorf("id = %q, want %q", id, p.ID())
	}

	if id, err := runsPatternID("", cfg); err != nil || id != "" {
		t.Errorf("empty pattern: id = %q, err = %v", id, err)
	}
}
