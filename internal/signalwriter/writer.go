// Package signalwriter persists emitted dislocation signals to daily,
// columnar, append-only parquet files. Grounded on NimbleMarkets-dbn-go's
// parquet writer (internal/file/parquet_writer.go): a schema::GroupNode,
// a file.Writer wrapping buffered row groups, one ColumnChunkWriter per
// field. The historical bug the spec calls out — calling only Flush() on
// row groups and never writing the footer — is why Flush and Close are
// kept as two distinct operations here: Flush appends a row group without
// finalizing the file; only Close (or a date rotation) writes the footer.
package signalwriter

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	pqfile "github.com/apache/arrow-go/v18/parquet/file"
	pqschema "github.com/apache/arrow-go/v18/parquet/schema"

	"github.com/hip3/dislocated/internal/values"
)

// schemaNode is the column schema for a signal row: timestamp_ms:i64,
// market_key:utf8, side:utf8, raw_edge_bps:f64, net_edge_bps:f64,
// oracle_px:f64, best_px:f64, suggested_size:f64, signal_id:utf8.
func schemaNode() *pqschema.GroupNode {
	return pqschema.MustGroup(pqschema.NewGroupNode("signal", parquet.Repetitions.Required, pqschema.FieldList{
		pqschema.MustPrimitive(pqschema.NewPrimitiveNodeLogical("timestamp_ms", parquet.Repetitions.Required, pqschema.NewIntLogicalType(64, true), parquet.Types.Int64, 0, -1)),
		pqschema.MustPrimitive(pqschema.NewPrimitiveNodeConverted("market_key", parquet.Repetitions.Required, parquet.Types.ByteArray, pqschema.ConvertedTypes.UTF8, 0, 0, 0, -1)),
		pqschema.MustPrimitive(pqschema.NewPrimitiveNodeConverted("side", parquet.Repetitions.Required, parquet.Types.ByteArray, pqschema.ConvertedTypes.UTF8, 0, 0, 0, -1)),
		pqschema.NewFloat64Node("raw_edge_bps", parquet.Repetitions.Required, -1),
		pqschema.NewFloat64Node("net_edge_bps", parquet.Repetitions.Required, -1),
		pqschema.NewFloat64Node("oracle_px", parquet.Repetitions.Required, -1),
		pqschema.NewFloat64Node("best_px", parquet.Repetitions.Required, -1),
		pqschema.NewFloat64Node("suggested_size", parquet.Repetitions.Required, -1),
		pqschema.MustPrimitive(pqschema.NewPrimitiveNodeConverted("signal_id", parquet.Repetitions.Required, parquet.Types.ByteArray, pqschema.ConvertedTypes.UTF8, 0, 0, 0, -1)),
	}, -1))
}

// Writer appends Signal records to daily-rotated parquet files.
type Writer struct {
	mu sync.Mutex

	dataDir    string
	bufferSize int

	pending []values.Signal

	activeDate string
	activeFile *os.File
	activePw   *pqfile.Writer
	rowCount   int
}

func New(dataDir string, bufferSize int) *Writer {
	return &Writer{dataDir: dataDir, bufferSize: bufferSize}
}

// Add appends a record to the pending buffer, flushing automatically once
// the buffer reaches bufferSize.
func (w *Writer) Add(sig values.Signal) error {
	w.mu.Lock()
	w.pending = append(w.pending, sig)
	shouldFlush := len(w.pending) >= w.bufferSize
	w.mu.Unlock()

	if shouldFlush {
		return w.Flush()
	}
	return nil
}

// Flush writes pending records as a new row group. If today's UTC date
// differs from the active file's date, the active file is closed (footer
// written) and a new one opened, truncating any prior same-day file.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	if len(w.pending) == 0 {
		return nil
	}

	today := time.Now().UTC().Format("2006-01-02")
	if w.activePw != nil && w.activeDate != today {
		if err := w.closeActiveLocked(); err != nil {
			return err
		}
	}
	if w.activePw == nil {
		if err := w.openLocked(today); err != nil {
			return err
		}
	}

	rgw := w.activePw.AppendBufferedRowGroup()
	if err := writeRowGroup(rgw, w.pending); err != nil {
		rgw.Close()
		return fmt.Errorf("write row group: %w", err)
	}
	if err := rgw.Close(); err != nil {
		return fmt.Errorf("close row group: %w", err)
	}

	w.rowCount += len(w.pending)
	w.pending = w.pending[:0]
	return nil
}

// Close flushes any pending records and finalizes the active file's footer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		return err
	}
	return w.closeActiveLocked()
}

func (w *Writer) openLocked(date string) error {
	path := filepath.Join(w.dataDir, fmt.Sprintf("signals_%s.parquet", date))
	f, err := os.Create(path) // truncates any prior same-day file
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	props := parquet.NewWriterProperties(
		parquet.WithVersion(parquet.V2_LATEST),
		parquet.WithCompression(compress.Codecs.Zstd),
	)
	pw := pqfile.NewParquetWriter(f, schemaNode(), pqfile.WithWriterProps(props))

	w.activeFile = f
	w.activePw = pw
	w.activeDate = date
	w.rowCount = 0
	return nil
}

// closeActiveLocked writes the footer (the historical bug this avoids: a
// flush-only close leaves a footerless, unreadable file) and closes the
// underlying file handle.
func (w *Writer) closeActiveLocked() error {
	if w.activePw == nil {
		return nil
	}
	err := w.activePw.FlushWithFooter()
	closeErr := w.activePw.Close()
	fileErr := w.activeFile.Close()

	w.activePw = nil
	w.activeFile = nil
	w.activeDate = ""

	if err != nil {
		return fmt.Errorf("write footer: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close parquet writer: %w", closeErr)
	}
	if fileErr != nil {
		return fmt.Errorf("close file: %w", fileErr)
	}
	return nil
}

func writeRowGroup(rgw pqfile.BufferedRowGroupWriter, signals []values.Signal) error {
	ts := make([]int64, len(signals))
	keys := make([]parquet.ByteArray, len(signals))
	sides := make([]parquet.ByteArray, len(signals))
	rawEdge := make([]float64, len(signals))
	netEdge := make([]float64, len(signals))
	oraclePx := make([]float64, len(signals))
	bestPx := make([]float64, len(signals))
	suggestedSize := make([]float64, len(signals))
	ids := make([]parquet.ByteArray, len(signals))

	for i, s := range signals {
		ts[i] = s.DetectedAt.UnixMilli()
		keys[i] = parquet.ByteArray(s.MarketKey.String())
		sides[i] = parquet.ByteArray(string(s.Side))
		rawEdge[i], _ = s.RawEdgeBps.Float64()
		netEdge[i], _ = s.NetEdgeBps.Float64()
		oraclePx[i], _ = s.OraclePx.Decimal().Float64()
		bestPx[i], _ = s.BestPx.Decimal().Float64()
		suggestedSize[i], _ = s.SuggestedSize.Decimal().Float64()
		ids[i] = parquet.ByteArray(s.SignalId)
	}

	cols := []struct {
		idx   int
		write func() error
	}{
		{0, func() error {
			cw, err := rgw.Column(0)
			if err != nil {
				return err
			}
			_, err = cw.(*pqfile.Int64ColumnChunkWriter).WriteBatch(ts, nil, nil)
			return err
		}},
		{1, func() error {
			cw, err := rgw.Column(1)
			if err != nil {
				return err
			}
			_, err = cw.(*pqfile.ByteArrayColumnChunkWriter).WriteBatch(keys, nil, nil)
			return err
		}},
		{2, func() error {
			cw, err := rgw.Column(2)
			if err != nil {
				return err
			}
			_, err = cw.(*pqfile.ByteArrayColumnChunkWriter).WriteBatch(sides, nil, nil)
			return err
		}},
		{3, func() error {
			cw, err := rgw.Column(3)
			if err != nil {
				return err
			}
			_, err = cw.(*pqfile.Float64ColumnChunkWriter).WriteBatch(rawEdge, nil, nil)
			return err
		}},
		{4, func() error {
			cw, err := rgw.Column(4)
			if err != nil {
				return err
			}
			_, err = cw.(*pqfile.Float64ColumnChunkWriter).WriteBatch(netEdge, nil, nil)
			return err
		}},
		{5, func() error {
			cw, err := rgw.Column(5)
			if err != nil {
				return err
			}
			_, err = cw.(*pqfile.Float64ColumnChunkWriter).WriteBatch(oraclePx, nil, nil)
			return err
		}},
		{6, func() error {
			cw, err := rgw.Column(6)
			if err != nil {
				return err
			}
			_, err = cw.(*pqfile.Float64ColumnChunkWriter).WriteBatch(bestPx, nil, nil)
			return err
		}},
		{7, func() error {
			cw, err := rgw.Column(7)
			if err != nil {
				return err
			}
			_, err = cw.(*pqfile.Float64ColumnChunkWriter).WriteBatch(suggestedSize, nil, nil)
			return err
		}},
		{8, func() error {
			cw, err := rgw.Column(8)
			if err != nil {
				return err
			}
			_, err = cw.(*pqfile.ByteArrayColumnChunkWriter).WriteBatch(ids, nil, nil)
			return err
		}},
	}

	for _, c := range cols {
		if err := c.write(); err != nil {
			return fmt.Errorf("column %d: %w", c.idx, err)
		}
	}
	return nil
}

// RowCount returns the number of rows written to the currently active file
// (reset on rotation).
func (w *Writer) RowCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}
