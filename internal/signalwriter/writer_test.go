package signalwriter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hip3/dislocated/internal/values"
)

func mustPrice(t *testing.T, s string) values.Price {
	t.Helper()
	p, err := values.ParsePrice(s)
	if err != nil {
		t.Fatalf("ParsePrice(%q): %v", s, err)
	}
	return p
}

func mustSize(t *testing.T, s string) values.Size {
	t.Helper()
	sz, err := values.ParseSize(s)
	if err != nil {
		t.Fatalf("ParseSize(%q): %v", s, err)
	}
	return sz
}

func sampleSignal(t *testing.T, id string) values.Signal {
	t.Helper()
	return values.Signal{
		SignalId:      id,
		DetectedAt:    time.Now(),
		MarketKey:     values.MarketKey{Dex: 1, Asset: 2},
		Side:          values.Buy,
		RawEdgeBps:    decimal.RequireFromString("12.5"),
		NetEdgeBps:    decimal.RequireFromString("8.5"),
		OraclePx:      mustPrice(t, "100.25"),
		BestPx:        mustPrice(t, "100.10"),
		BestSize:      mustSize(t, "5"),
		SuggestedSize: mustSize(t, "1.5"),
	}
}

func TestFlushWritesRowGroupAndFooterOnClose(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w := New(dir, 100)

	for i := 0; i < 5; i++ {
		if err := w.Add(sampleSignal(t, "sig-1")); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := w.RowCount(); got != 5 {
		t.Errorf("RowCount after flush = %d, want 5", got)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one output file, got %d", len(entries))
	}

	info, err := os.Stat(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() == 0 {
		t.Error("output file should be non-empty after Close finalizes the footer")
	}
}

func TestAddAutoFlushesAtBufferSize(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w := New(dir, 2)

	for i := 0; i < 3; i++ {
		if err := w.Add(sampleSignal(t, "sig-auto")); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	// Two records auto-flushed, one still pending in the buffer.
	if got := w.RowCount(); got != 2 {
		t.Errorf("RowCount = %d, want 2 (third record still pending)", got)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := w.RowCount(); got != 3 {
		t.Errorf("RowCount after close = %d, want 3", got)
	}
}

func TestCloseOnEmptyWriterIsNoop(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w := New(dir, 10)
	if err := w.Close(); err != nil {
		t.Fatalf("Close on writer with no records: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no file for a writer that never received a record, got %d", len(entries))
	}
}
