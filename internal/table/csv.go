// Package table reads and writes the flat tables exchanged between pipeline
// stages: CSV (optionally gzip-compressed) for per-variable tables and CSV or
// parquet for joined tables.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// CompressionGzip is the only supported CSV compression codec.
const CompressionGzip = "gzip"

// CSVName appends the compression suffix to a base file name when needed.
func CSVName(base, compression string) string {
	if compression == CompressionGzip {
		return base + ".gz"
	}
	return base
}

// Writer streams rows to a CSV file, writing the header once. It backs both
// extractor chunk output and the joiner's staging files.
type Writer struct {
	f     *os.File
	gz    *gzip.Writer
	cw    *csv.Writer
	wrote bool
}

// NewWriter creates path (and parent directories), optionally gzip-compressing
// the stream. The header is written on the first Write call.
func NewWriter(path string, header []string, compression string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create table dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}

	w := &Writer{f: f}
	var out io.Writer = f
	if compression == CompressionGzip || strings.HasSuffix(path, ".gz") {
		w.gz = gzip.NewWriter(f)
		out = w.gz
	}
	w.cw = csv.NewWriter(out)

	if err := w.cw.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return w, nil
}

// Write appends rows to the table.
func (w *Writer) Write(rows [][]string) error {
	for _, row := range rows {
		if err := w.cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.wrote = true
	return nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.cw.Flush()
	if err := w.cw.Error(); err != nil {
		w.f.Close()
		return err
	}
	if w.gz != nil {
		if err := w.gz.Close(); err != nil {
			w.f.Close()
			return err
		}
	}
	return w.f.Close()
}

// Reader reads a CSV table in bounded chunks.
type Reader struct {
	f      *os.File
	gz     *gzip.Reader
	cr     *csv.Reader
	Header []string
}

// OpenReader opens a CSV table, transparently decompressing ".gz" files, and
// consumes the header row.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}

	r := &Reader{f: f}
	var in io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open table %s: %w", path, err)
		}
		r.gz = gz
		in = gz
	}
	r.cr = csv.NewReader(in)
	r.cr.ReuseRecord = false

	header, err := r.cr.Read()
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	r.Header = header
	return r, nil
}

// ReadChunk reads up to n rows. It returns io.EOF (possibly alongside a final
// partial chunk) when the table is exhausted.
func (r *Reader) ReadChunk(n int) ([][]string, error) {
	rows := make([][]string, 0, n)
	for len(rows) < n {
		row, err := r.cr.Read()
		if err == io.EOF {
			return rows, io.EOF
		}
		if err != nil {
			return rows, fmt.Errorf("read row: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadAll drains the remaining rows.
func (r *Reader) ReadAll() ([][]string, error) {
	var all [][]string
	for {
		chunk, err := r.ReadChunk(4096)
		all = append(all, chunk...)
		if err == io.EOF {
			return all, nil
		}
		if err != nil {
			return all, err
		}
	}
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.gz != nil {
		r.gz.Close()
	}
	return r.f.Close()
}

// WriteCSV writes a complete table in one call, used for small outputs and
// tests. Chunked writers should use NewWriter directly.
func WriteCSV(path string, header []string, rows [][]string, compression string) error {
	w, err := NewWriter(path, header, compression)
	if err != nil {
		return err
	}
	if err := w.Write(rows); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
