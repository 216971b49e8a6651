package sqlite

import (
	"database/sql"
	"time"

	"spacegraph/internal/codec"
	"spacegraph/internal/domain"
)

// ============================================================================
// Null Type Conversion Helpers
// ============================================================================

// nullToInt64 converts sql.NullInt64 to int64, zero when NULL
func nullToInt64(ni sql.NullInt64) int64 {
	if ni.Valid {
		return ni.Int64
	}
	return 0
}

// ============================================================================
// Time Helpers
// ============================================================================

// Timestamps are stored as UTC unix nanoseconds so replay sees exactly the
// instant that was recorded.

func timeToNanos(t time.Time) int64 {
	return t.UnixNano()
}

func nanosToTime(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// ============================================================================
// Row Scanning
// ============================================================================

// recordRow holds the columns of one trace row
type recordRow struct {
	tick   int64
	source string
	seq    int64
	atNS   int64
	typ    string
	data   []byte
}

func (r *recordRow) scanArgs() []interface{} {
	return []interface{}{&r.tick, &r.source, &r.seq, &r.atNS, &r.typ, &r.data}
}

func (r *recordRow) toRecord() codec.TraceRecord {
	return codec.TraceRecord{
		Tick:   uint64(r.tick),
		Source: domain.NodeKey(r.source),
		Seq:    uint64(r.seq),
		At:     nanosToTime(r.atNS),
		Type:   r.typ,
		Data:   r.data,
	}
}

// recordInsertArgs returns the INSERT arguments in column order
func recordInsertArgs(rec codec.TraceRecord) []interface{} {
	return []interface{}{
		int64(rec.Tick),
		string(rec.Source),
		int64(rec.Seq),
		timeToNanos(rec.At),
		rec.Type,
		[]byte(rec.Data),
	}
}
