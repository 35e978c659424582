package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ternarybob/ytcomments/internal/models"
)

// Sink receives flushed batches. WriteBatch must be all-or-nothing: on error
// none of the batch may remain in the destination.
type Sink interface {
	Name() string
	WriteBatch(records []models.CommentRecord) error
	Close() error
}

// file is the subset of *os.File a fileSink uses.
type file interface {
	io.Writer
	io.Seeker
	Sync() error
	Truncate(size int64) error
	Close() error
}

type encodeFunc func(buf *bytes.Buffer, records []models.CommentRecord) error

// fileSink appends encoded batches to a file it truncated on open.
type fileSink struct {
	name   string
	path   string
	f      file
	offset int64
	encode encodeFunc
}

// NewJSONLSink creates (or truncates) path and writes one JSON object per line.
func NewJSONLSink(path string) (Sink, error) {
	s, err := openFileSink("jsonl", path, nil, encodeJSONL)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewCSVSink creates (or truncates) path and writes the header row immediately.
func NewCSVSink(path string) (Sink, error) {
	var header bytes.Buffer
	cw := csv.NewWriter(&header)
	if err := cw.Write(models.CommentColumns); err != nil {
		return nil, err
	}
	cw.Flush()
	s, err := openFileSink("csv", path, header.Bytes(), encodeCSV)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openFileSink(name, path string, preamble []byte, encode encodeFunc) (*fileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s output %s: %w", name, path, err)
	}
	s := &fileSink{name: name, path: path, f: f, encode: encode}

	if len(preamble) > 0 {
		if _, err := f.Write(preamble); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write %s header to %s: %w", name, path, err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to sync %s header to %s: %w", name, path, err)
		}
		s.offset = int64(len(preamble))
	}
	return s, nil
}

func (s *fileSink) Name() string { return s.name }

func (s *fileSink) WriteBatch(records []models.CommentRecord) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	if err := s.encode(&buf, records); err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	n, err := s.f.Write(buf.Bytes())
	if err == nil && n != buf.Len() {
		err = io.ErrShortWrite
	}
	if err == nil {
		err = s.f.Sync()
	}
	if err != nil {
		if rerr := s.rewind(); rerr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rerr)
		}
		return err
	}

	s.offset += int64(buf.Len())
	return nil
}

// rewind drops anything written past the last committed batch.
func (s *fileSink) rewind() error {
	if err := s.f.Truncate(s.offset); err != nil {
		return err
	}
	_, err := s.f.Seek(s.offset, io.SeekStart)
	return err
}

func (s *fileSink) Close() error {
	return s.f.Close()
}

func encodeJSONL(buf *bytes.Buffer, records []models.CommentRecord) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return err
		}
	}
	return nil
}

func encodeCSV(buf *bytes.Buffer, records []models.CommentRecord) error {
	cw := csv.NewWriter(buf)
	for i := range records {
		if err := cw.Write(records[i].CSVRow()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
