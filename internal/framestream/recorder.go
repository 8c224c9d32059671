package framestream

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	// LengthPrefixSize is the size of the record length prefix in bytes.
	LengthPrefixSize = 4

	// MaxRecordSize bounds a single record (64 MiB covers a 32-bit 4k x 4k frame).
	MaxRecordSize = 64 * 1024 * 1024
)

// Record is the on-disk form of one frame.
type Record struct {
	Index    uint64 `msgpack:"index"`
	BitDepth int    `msgpack:"bitdepth"`
	Rows     int    `msgpack:"rows"`
	Cols     int    `msgpack:"cols"`
	FileName string `msgpack:"fname,omitempty"`
	UnixNano int64  `msgpack:"ts"`
	Payload  []byte `msgpack:"payload"`
}

// Frame rebuilds the decoded frame from the record.
func (rec Record) Frame() (Frame, error) {
	h := Header{
		BitDepth: rec.BitDepth,
		Rows:     rec.Rows,
		Cols:     rec.Cols,
		Index:    rec.Index,
		FileName: rec.FileName,
	}
	buf, err := DecodePayload(h, rec.Payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Header: h, Buffer: buf, Payload: rec.Payload}, nil
}

// Recorder appends frames as length-prefixed msgpack records:
// a 4-byte big-endian length followed by the encoded Record.
type Recorder struct {
	mu      sync.Mutex
	w       *bufio.Writer
	closer  io.Closer
	records int64
}

// NewRecorder writes records to w.
func NewRecorder(w io.Writer) *Recorder {
	r := &Recorder{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// CreateRecorder opens path for appending records.
func CreateRecorder(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	return NewRecorder(f), nil
}

// Write appends f.
func (r *Recorder) Write(f Frame) error {
	payload, err := msgpack.Marshal(Record{
		Index:    f.Header.Index,
		BitDepth: f.Header.BitDepth,
		Rows:     f.Header.Rows,
		Cols:     f.Header.Cols,
		FileName: f.Header.FileName,
		UnixNano: f.Received.UnixNano(),
		Payload:  f.Payload,
	})
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if len(payload) > MaxRecordSize {
		return fmt.Errorf("record size %d exceeds maximum %d", len(payload), MaxRecordSize)
	}

	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.w.Write(prefix[:]); err != nil {
		return err
	}
	if _, err := r.w.Write(payload); err != nil {
		return err
	}
	r.records++
	return nil
}

// Records returns the number of records written.
func (r *Recorder) Records() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records
}

// Flush writes buffered records to the underlying writer.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.w.Flush()
}

// Close flushes and closes the underlying writer if it is a Closer.
func (r *Recorder) Close() error {
	err := r.Flush()
	if r.closer != nil {
		err = errors.Join(err, r.closer.Close())
	}
	return err
}

// RecordReader reads records written by Recorder.
type RecordReader struct {
	r io.Reader
}

// NewRecordReader reads records from r.
func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{r: bufio.NewReader(r)}
}

// Next returns the next record, or io.EOF at a clean end of stream.
// A truncated record is io.ErrUnexpectedEOF.
func (rr *RecordReader) Next() (Record, error) {
	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(rr.r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("read length prefix: %w", err)
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxRecordSize {
		return Record{}, fmt.Errorf("record size %d exceeds maximum %d", size, MaxRecordSize)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(rr.r, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Record{}, fmt.Errorf("read record: %w", err)
	}

	var rec Record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
