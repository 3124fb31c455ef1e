package pipeline

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
)

// RawRecord is one delimited line from an input file, split into fields but
// otherwise untouched. Records are immutable once yielded.
type RawRecord struct {
	Source string
	Line   int
	Fields []string
}

// Source streams records from one input file. The sequence yields either a
// record or a read error; a read error is terminal for the source and the
// sequence ends after yielding it.
type Source interface {
	Name() string
	Records() iter.Seq2[RawRecord, error]
}

// SourceFor picks a reader by file extension: .csv files are parsed as CSV
// with a header row, .txt files as PAS extracts. Other extensions are not
// convertible inputs.
func SourceFor(path, pasSeparator string) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return NewCSVSource(path), nil
	case ".txt":
		return NewPASSource(path, pasSeparator), nil
	default:
		return nil, fmt.Errorf("unsupported input file %s", path)
	}
}

// CSVSource reads comma-delimited extracts. The first line is a header and
// is skipped.
type CSVSource struct {
	path string
}

func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

func (s *CSVSource) Name() string { return filepath.Base(s.path) }

func (s *CSVSource) Records() iter.Seq2[RawRecord, error] {
	return func(yield func(RawRecord, error) bool) {
		f, err := os.Open(s.path)
		if err != nil {
			yield(RawRecord{}, fmt.Errorf("opening %s: %w", s.path, err))
			return
		}
		defer f.Close()

		r := csv.NewReader(f)
		// Field-count enforcement is a validation concern, not a parse error.
		r.FieldsPerRecord = -1

		line := 0
		for {
			fields, err := r.Read()
			if err == io.EOF {
				return
			}
			line++
			if err != nil {
				yield(RawRecord{}, fmt.Errorf("reading %s line %d: %w", s.path, line, err))
				return
			}
			if line == 1 {
				continue // header
			}
			if !yield(RawRecord{Source: s.Name(), Line: line, Fields: fields}, nil) {
				return
			}
		}
	}
}

// PASSource reads pipe-delimited PAS extract files. There is no header row;
// blank lines are skipped.
type PASSource struct {
	path      string
	separator string
}

func NewPASSource(path, separator string) *PASSource {
	return &PASSource{path: path, separator: separator}
}

func (s *PASSource) Name() string { return filepath.Base(s.path) }

func (s *PASSource) Records() iter.Seq2[RawRecord, error] {
	return func(yield func(RawRecord, error) bool) {
		f, err := os.Open(s.path)
		if err != nil {
			yield(RawRecord{}, fmt.Errorf("opening %s: %w", s.path, err))
			return
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		line := 0
		for scanner.Scan() {
			line++
			text := scanner.Text()
			if strings.TrimSpace(text) == "" {
				continue
			}
			fields := strings.Split(text, s.separator)
			if !yield(RawRecord{Source: s.Name(), Line: line, Fields: fields}, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(RawRecord{}, fmt.Errorf("reading %s line %d: %w", s.path, line, err))
		}
	}
}
