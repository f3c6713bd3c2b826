// Package hits defines the internal record model for pothole hit reports.
//
// These are plain value types with no transport dependencies. The HTTP and
// MQTT adapters decode their payloads into these, and the storage layer
// serialises them without further conversion.
package hits

// Microdegree scale for fixed-point coordinates.
const MicroDegPerDeg = 1_000_000

// SourceAuto marks a hit produced by the accelerometer trigger, as opposed
// to an explicit manual confirmation from a person.
const SourceAuto = "auto"

// MinProtocolVersion is the oldest client protocol the server accepts.
const MinProtocolVersion = 1

// Location is a fixed-point GPS position. Coordinates travel as integer
// microdegrees so values survive the wire without floating rounding.
type Location struct {
	LatMicroDeg int32 `json:"lat_microdeg"`
	LonMicroDeg int32 `json:"lon_microdeg"`
	AccuracyM   int32 `json:"accuracy_m"`
}

// Lat returns the latitude in floating degrees.
func (l Location) Lat() float64 {
	return float64(l.LatMicroDeg) / MicroDegPerDeg
}

// Lon returns the longitude in floating degrees.
func (l Location) Lon() float64 {
	return float64(l.LonMicroDeg) / MicroDegPerDeg
}

// IsZero reports whether the location is the no-fix sentinel (0,0).
func (l Location) IsZero() bool {
	return l.LatMicroDeg == 0 && l.LonMicroDeg == 0
}

// ImpactPattern describes the accelerometer signature of one impact.
// Accelerations are in milli-g; the waveforms are ordered samples around
// the impact, bounded by the configured maximum sample count.
type ImpactPattern struct {
	Severity            int32   `json:"severity"`
	PeakVerticalMG      int32   `json:"peak_vertical_mg"`
	PeakLateralMG       int32   `json:"peak_lateral_mg"`
	DurationMS          int32   `json:"duration_ms"`
	WaveformVertical    []int32 `json:"waveform_vertical,omitempty"`
	WaveformLateral     []int32 `json:"waveform_lateral,omitempty"`
	BaselineMG          int32   `json:"baseline_mg"`
	PeakToBaselineRatio int32   `json:"peak_to_baseline_ratio"`
}

// Hit is one suspected road-defect impact reported by a device. The
// timestamp is the client clock in milliseconds since the epoch.
type Hit struct {
	TimestampMS      int64         `json:"timestamp_ms"`
	Location         Location      `json:"location"`
	SpeedMPS         float64       `json:"speed_mps"`
	BearingDeg       float64       `json:"bearing_deg"`
	BearingBeforeDeg float64       `json:"bearing_before_deg"`
	BearingAfterDeg  float64       `json:"bearing_after_deg"`
	Pattern          ImpactPattern `json:"pattern"`
}

// Heartbeat is a keepalive from a device with no hits to report.
type Heartbeat struct {
	TimestampMS int64 `json:"timestamp_ms"`
	PendingHits int32 `json:"pending_hits"`
}

// ClientMessage is one decoded inbound message. At most one of Hit, Batch,
// or Heartbeat is expected; the processor resolves priority in that order
// when a client sends more than one.
type ClientMessage struct {
	ProtocolVersion int32      `json:"protocol_version"`
	DeviceID        string     `json:"device_id"`
	AppVersion      int32      `json:"app_version"`
	Source          string     `json:"source,omitempty"`
	Hit             *Hit       `json:"hit,omitempty"`
	Batch           []Hit      `json:"batch,omitempty"`
	Heartbeat       *Heartbeat `json:"heartbeat,omitempty"`
}

// ServerHitRecord is a hit stamped with the server receipt time and a
// server-assigned record id. Record ids start at 1, increase strictly for
// the lifetime of the process, and are never reused even after deletion.
type ServerHitRecord struct {
	ServerTimestampMS int64  `json:"server_timestamp_ms"`
	ProtocolVersion   int32  `json:"protocol_version"`
	DeviceID          string `json:"device_id"`
	AppVersion        int32  `json:"app_version"`
	Source            string `json:"source,omitempty"`
	RecordID          int64  `json:"record_id"`
	Hit               Hit    `json:"hit"`
}

// NormalisedSource returns the record source, defaulting to SourceAuto for
// records written before the source field existed.
func (r ServerHitRecord) NormalisedSource() string {
	if r.Source == "" {
		return SourceAuto
	}
	return r.Source
}
