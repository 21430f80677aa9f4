package table

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/parquet-go/parquet-go"

	"github.com/cloudthistle/era5-etl/internal/domain"
)

// JoinedSchema builds the parquet schema for a joined table: the time column
// as a UTF8 string, latitude/longitude as required doubles, and one optional
// double per variable column. Key columns are recognized by name because the
// joined header carries whatever spellings the source tables agreed on. The
// schema is built at runtime because the variable set differs per processing
// unit.
func JoinedSchema(header []string) *parquet.Schema {
	group := parquet.Group{}
	for _, col := range header {
		switch {
		case domain.TimeColumn(col):
			group[col] = parquet.String()
		case domain.CoordinateColumn(col):
			group[col] = parquet.Leaf(parquet.DoubleType)
		default:
			group[col] = parquet.Optional(parquet.Leaf(parquet.DoubleType))
		}
	}
	return parquet.NewSchema("joined", group)
}

// WriteParquet writes a joined table to path. Empty cells become parquet
// nulls. Rows are written in the order given; readers relying on sort order
// get whatever order the caller produced.
func WriteParquet(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parquet dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create parquet: %w", err)
	}

	schema := JoinedSchema(header)
	pw := parquet.NewGenericWriter[any](f, schema)

	buf := make([]parquet.Row, 0, 1024)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if _, err := pw.WriteRows(buf); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
		buf = buf[:0]
		return nil
	}

	for _, row := range rows {
		rec := make(map[string]any, len(header))
		for i, col := range header {
			if i >= len(row) || row[i] == "" {
				continue // optional column stays null
			}
			if domain.TimeColumn(col) {
				rec[col] = row[i]
				continue
			}
			v, err := strconv.ParseFloat(row[i], 64)
			if err != nil {
				f.Close()
				return fmt.Errorf("parquet column %s: %w", col, err)
			}
			rec[col] = v
		}
		buf = append(buf, schema.Deconstruct(nil, rec))
		if len(buf) == cap(buf) {
			if err := flush(); err != nil {
				f.Close()
				return err
			}
		}
	}
	if err := flush(); err != nil {
		f.Close()
		return err
	}
	if err := pw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return f.Close()
}

// ReadParquet loads a joined parquet table back into header/rows form.
// Null cells come back as empty strings. The header follows the file's leaf
// column order.
func ReadParquet(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open parquet: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("stat parquet: %w", err)
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, nil, fmt.Errorf("open parquet %s: %w", path, err)
	}

	cols := pf.Schema().Columns()
	header := make([]string, len(cols))
	for i, path := range cols {
		header[i] = path[len(path)-1]
	}

	var rows [][]string
	for _, rg := range pf.RowGroups() {
		rr := rg.Rows()
		buf := make([]parquet.Row, 256)
		for {
			n, err := rr.ReadRows(buf)
			for _, prow := range buf[:n] {
				row := make([]string, len(header))
				for _, v := range prow {
					ci := v.Column()
					if ci < 0 || ci >= len(row) || v.IsNull() {
						continue
					}
					switch v.Kind() {
					case parquet.ByteArray:
						row[ci] = v.String()
					case parquet.Double:
						row[ci] = strconv.FormatFloat(v.Double(), 'g', -1, 64)
					default:
						row[ci] = v.String()
					}
				}
				rows = append(rows, row)
			}
			if err != nil {
				rr.Close()
				if errors.Is(err, io.EOF) {
					break
				}
				return nil, nil, fmt.Errorf("read parquet rows: %w", err)
			}
		}
	}
	return header, rows, nil
}
