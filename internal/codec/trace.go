package codec

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"spacegraph/internal/domain"
)

// TraceRecord is one applied delta as stored in a trace. Records in tick
// order, then file order, replay to the same graph.
type TraceRecord struct {
	Tick   uint64          `json:"tick"`
	Source domain.NodeKey  `json:"source"`
	Seq    uint64          `json:"seq"`
	At     time.Time       `json:"at"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
}

// RecordOf encodes an incoming delta for a trace
func RecordOf(tick uint64, in domain.Incoming) (TraceRecord, error) {
	env, err := EncodeDelta(in.Delta)
	if err != nil {
		return TraceRecord{}, err
	}
	return TraceRecord{
		Tick:   tick,
		Source: in.Source,
		Seq:    in.Seq,
		At:     in.At,
		Type:   env.Type,
		Data:   env.Data,
	}, nil
}

// Incoming decodes the record back into an incoming delta
func (r TraceRecord) Incoming() (domain.Incoming, error) {
	d, _, err := DecodeDelta(Envelope{Type: r.Type, Data: r.Data})
	if err != nil {
		return domain.Incoming{}, fmt.Errorf("trace record %d/%s/%d: %w", r.Tick, r.Source, r.Seq, err)
	}
	return domain.Incoming{Source: r.Source, Seq: r.Seq, At: r.At, Delta: d}, nil
}

// TraceWriter writes zstd-compressed JSON lines
type TraceWriter struct {
	zw  *zstd.Encoder
	enc *json.Encoder
}

// NewTraceWriter creates a trace writer on w. Close must be called to
// flush the compressed stream.
func NewTraceWriter(w io.Writer) (*TraceWriter, error) {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	return &TraceWriter{zw: zw, enc: json.NewEncoder(zw)}, nil
}

// Write appends a record
func (t *TraceWriter) Write(rec TraceRecord) error {
	if err := t.enc.Encode(rec); err != nil {
		return fmt.Errorf("writing trace record: %w", err)
	}
	return nil
}

// Close flushes and closes the compressed stream
func (t *TraceWriter) Close() error {
	return t.zw.Close()
}

// TraceReader reads records written by TraceWriter
type TraceReader struct {
	zr  *zstd.Decoder
	dec *json.Decoder
}

// NewTraceReader creates a trace reader on r
func NewTraceReader(r io.Reader) (*TraceReader, error) {
	zr, err := zstd.NewReader(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &TraceReader{zr: zr, dec: json.NewDecoder(zr)}, nil
}

// Next returns the next record, or io.EOF at the end of the trace
func (t *TraceReader) Next() (TraceRecord, error) {
	var rec TraceRecord
	if err := t.dec.Decode(&rec); err != nil {
		if err == io.EOF {
			return TraceRecord{}, io.EOF
		}
		return TraceRecord{}, fmt.Errorf("reading trace record: %w", err)
	}
	return rec, nil
}

// Close releases decoder resources
func (t *TraceReader) Close() {
	t.zr.Close()
}
