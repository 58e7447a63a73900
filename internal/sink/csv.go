// File: internal/sink/csv.go

// Package sink persists extracted records to an append-only CSV file.
package sink

import (
	"encoding/csv"
	"fmt"
	"os"
)

// CSV is an append-only, header-fixed CSV sink. The file is opened, written,
// flushed and closed for every single append: no handle is held across
// records, so a crash after record K leaves exactly K complete rows.
type CSV struct {
	path   string
	header []string
}

// NewCSV prepares the sink at path. If the file does not exist it is created
// with the header row; an existing file is appended to as-is, without
// re-validating its header.
func NewCSV(path string, header []string) (*CSV, error) {
	if len(header) == 0 {
		return nil, fmt.Errorf("sink header must not be empty")
	}
	s := &CSV{path: path, header: append([]string(nil), header...)}

	if _, err := os.Stat(path); err == nil {
		return s, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat output file %s: %w", path, err)
	}

	if err := s.writeRow(s.header, os.O_CREATE|os.O_WRONLY|os.O_EXCL); err != nil {
		return nil, fmt.Errorf("failed to create output file with header: %w", err)
	}
	return s, nil
}

// Header returns the fixed column order of the sink.
func (s *CSV) Header() []string {
	return append([]string(nil), s.header...)
}

// Append writes one record. The row width must equal the header width;
// anything else would silently corrupt the column alignment downstream.
func (s *CSV) Append(row []string) error {
	if len(row) != len(s.header) {
		return fmt.Errorf("row has %d fields, header has %d", len(row), len(s.header))
	}
	if err := s.writeRow(row, os.O_APPEND|os.O_CREATE|os.O_WRONLY); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

func (s *CSV) writeRow(row []string, flags int) error {
	f, err := os.OpenFile(s.path, flags, 0o644)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
