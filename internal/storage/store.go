// Package storage persists server hit records.
//
// Two backends implement the same contract: FileStore, an hour-partitioned
// append-only log with a line-oriented index, and SQLiteStore. The ingest
// consumer is the only concurrent appender; administrative deletes take the
// store's own lock so compaction never races an append.
package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/pothole.report/internal/hits"
)

// HitStore persists hit records durably.
type HitStore interface {
	// Store appends exactly one record.
	Store(rec *hits.ServerHitRecord) error

	// StoreBatch stores records sequentially. There is no atomicity across
	// the batch: a failure leaves earlier records in place.
	StoreBatch(recs []*hits.ServerHitRecord) error

	// ReadAll returns every stored, undeleted record in unspecified order.
	ReadAll() ([]hits.ServerHitRecord, error)

	// Delete removes the records whose ids appear in ids and reports how
	// many were found. Unknown ids are not an error.
	Delete(ids map[int64]bool) (int, error)

	// Close releases backend resources.
	Close() error
}

// EncodeRecord frames a record as a 4-byte little-endian length prefix
// followed by compact JSON. This is the on-disk unit of the primary log.
func EncodeRecord(rec *hits.ServerHitRecord) ([]byte, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record %d: %w", rec.RecordID, err)
	}
	out := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(payload)))
	copy(out[4:], payload)
	return out, nil
}

// DecodeRecords parses a sequence of length-prefixed records. A truncated
// trailing frame is an error: appends are whole-frame, so truncation means
// corruption.
func DecodeRecords(data []byte) ([]hits.ServerHitRecord, error) {
	var recs []hits.ServerHitRecord
	for off := 0; off < len(data); {
		if len(data)-off < 4 {
			return nil, fmt.Errorf("truncated length prefix at offset %d", off)
		}
		n := int(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		if len(data)-off < n {
			return nil, fmt.Errorf("truncated record at offset %d: need %d bytes, have %d", off, n, len(data)-off)
		}
		var rec hits.ServerHitRecord
		if err := json.Unmarshal(data[off:off+n], &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record at offset %d: %w", off, err)
		}
		recs = append(recs, rec)
		off += n
	}
	return recs, nil
}

// IndexLine renders the compact one-line-per-record entry kept alongside
// the primary log so the data directory can be inspected without decoding
// full records.
func IndexLine(rec *hits.ServerHitRecord) []byte {
	entry := struct {
		ID       int64   `json:"id"`
		TS       string  `json:"ts"`
		Device   string  `json:"device"`
		Lat      float64 `json:"lat"`
		Lon      float64 `json:"lon"`
		Severity int32   `json:"severity"`
		PeakMG   int32   `json:"peak_mg"`
		Speed    float64 `json:"speed"`
	}{
		ID:       rec.RecordID,
		TS:       time.UnixMilli(rec.ServerTimestampMS).UTC().Format(time.RFC3339),
		Device:   devicePrefix(rec.DeviceID),
		Lat:      rec.Hit.Location.Lat(),
		Lon:      rec.Hit.Location.Lon(),
		Severity: rec.Hit.Pattern.Severity,
		PeakMG:   rec.Hit.Pattern.PeakVerticalMG,
		Speed:    math.Round(rec.Hit.SpeedMPS*10) / 10,
	}
	var buf bytes.Buffer
	// Marshal of a flat struct of numbers and strings cannot fail.
	b, _ := json.Marshal(entry)
	buf.Write(b)
	buf.WriteByte('\n')
	return buf.Bytes()
}

func devicePrefix(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
