package usage

import (
	"time"

	"github.com/dgnsrekt/speechkit/internal/ttypes"
)

// Store keys owned by the ledger. They are never reclaimed by the store.
const (
	KeyRecords = "usage:records"
	KeyDaily   = "usage:daily"
	KeyLimits  = "usage:limits"
)

// EssentialKeys lists every key the ledger persists.
var EssentialKeys = []string{KeyRecords, KeyDaily, KeyLimits}

// RecordRetention is how long individual records are kept.
const RecordRetention = 30 * 24 * time.Hour

const dateLayout = "2006-01-02"

// Metadata describes a tracked operation.
type Metadata struct {
	Bytes       int64   `json:"bytes,omitempty" yaml:"bytes,omitempty"`
	DurationSec float64 `json:"durationSec,omitempty" yaml:"duration_sec,omitempty"`
	Characters  int     `json:"characters,omitempty" yaml:"characters,omitempty"`
	ModelID     string  `json:"modelId,omitempty" yaml:"model_id,omitempty"`
	Success     bool    `json:"success" yaml:"success"`
	Error       string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// Record is an immutable entry in the usage log.
type Record struct {
	ID                 string      `json:"id" yaml:"id"`
	Timestamp          time.Time   `json:"timestamp" yaml:"timestamp"`
	Kind               ttypes.Kind `json:"kind" yaml:"kind"`
	Provider           string      `json:"provider" yaml:"provider"`
	Metadata           Metadata    `json:"metadata" yaml:"metadata"`
	EstimatedCostCents int64       `json:"estimatedCostCents" yaml:"estimated_cost_cents"`
}

type TranscribeTotals struct {
	Count            int     `json:"count" yaml:"count"`
	TotalBytes       int64   `json:"totalBytes" yaml:"total_bytes"`
	TotalDurationSec float64 `json:"totalDurationSec" yaml:"total_duration_sec"`
	CostCents        int64   `json:"costCents" yaml:"cost_cents"`
}

type SynthesizeTotals struct {
	Count      int   `json:"count" yaml:"count"`
	TotalChars int64 `json:"totalChars" yaml:"total_chars"`
	CostCents  int64 `json:"costCents" yaml:"cost_cents"`
}

// DailyAggregate totals one calendar day. TotalCostCents always equals the
// sum of the per-kind costs.
type DailyAggregate struct {
	Date           string           `json:"date" yaml:"date"`
	Transcribe     TranscribeTotals `json:"transcribe" yaml:"transcribe"`
	Synthesize     SynthesizeTotals `json:"synthesize" yaml:"synthesize"`
	TotalCostCents int64            `json:"totalCostCents" yaml:"total_cost_cents"`
}

// Requests is the number of successful operations of both kinds.
func (d DailyAggregate) Requests() int {
	return d.Transcribe.Count + d.Synthesize.Count
}

// Limits are daily ceilings. A zero value disables that ceiling.
type Limits struct {
	MaxTranscribeRequests  int   `json:"maxTranscribeRequests" yaml:"max_transcribe_requests" mapstructure:"max_transcribe_requests"`
	MaxSynthesizeRequests  int   `json:"maxSynthesizeRequests" yaml:"max_synthesize_requests" mapstructure:"max_synthesize_requests"`
	MaxTranscribeCostCents int64 `json:"maxTranscribeCostCents" yaml:"max_transcribe_cost_cents" mapstructure:"max_transcribe_cost_cents"`
	MaxSynthesizeCostCents int64 `json:"maxSynthesizeCostCents" yaml:"max_synthesize_cost_cents" mapstructure:"max_synthesize_cost_cents"`
	MaxTotalCostCents      int64 `json:"maxTotalCostCents" yaml:"max_total_cost_cents" mapstructure:"max_total_cost_cents"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxTranscribeRequests:  100,
		MaxSynthesizeRequests:  200,
		MaxTranscribeCostCents: 500,
		MaxSynthesizeCostCents: 500,
		MaxTotalCostCents:      1000,
	}
}

// Rates drive the cost heuristics.
type Rates struct {
	TranscribeCentsPerMinute float64
	// MinutesPerMegabyte estimates duration when it is unknown.
	MinutesPerMegabyte  float64
	SynthesizeCentsPer1K int64
}

func DefaultRates() Rates {
	return Rates{
		TranscribeCentsPerMinute: 1,
		MinutesPerMegabyte:       1,
		SynthesizeCentsPer1K:     2,
	}
}

// Warning flags a metric at or above the warning threshold.
type Warning struct {
	Metric  string  `json:"metric" yaml:"metric"`
	Used    int64   `json:"used" yaml:"used"`
	Limit   int64   `json:"limit" yaml:"limit"`
	Percent float64 `json:"percent" yaml:"percent"`
	Message string  `json:"message" yaml:"message"`
}

type LimitStatus struct {
	WithinLimits bool      `json:"withinLimits" yaml:"within_limits"`
	Warnings     []Warning `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Period summarises usage over a date range.
type Period struct {
	Requests  int       `json:"requests" yaml:"requests"`
	CostCents int64     `json:"costCents" yaml:"cost_cents"`
	FirstUse  time.Time `json:"firstUse,omitempty" yaml:"first_use,omitempty"`
}

type Stats struct {
	Today      Period `json:"today" yaml:"today"`
	Last7Days  Period `json:"last7Days" yaml:"last_7_days"`
	Last30Days Period `json:"last30Days" yaml:"last_30_days"`
	AllTime    Period `json:"allTime" yaml:"all_time"`
}

// Export is a full dump of the ledger.
type Export struct {
	ExportedAt time.Time        `json:"exportedAt" yaml:"exported_at"`
	Records    []Record         `json:"records" yaml:"records"`
	Daily      []DailyAggregate `json:"daily" yaml:"daily"`
	Limits     Limits           `json:"limits" yaml:"limits"`
}
