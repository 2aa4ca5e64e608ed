// Package usage records provider calls, estimates their cost and enforces
// daily ceilings.
package usage

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/dgnsrekt/speechkit/internal/metrics"
	"github.com/dgnsrekt/speechkit/internal/storage"
	"github.com/dgnsrekt/speechkit/internal/ttypes"
)

const (
	warnThreshold = 0.8
	bytesPerMiB   = 1024 * 1024
)

// Ledger is an append-only usage log with per-day aggregates. State is
// held in memory and written through to the store on every change.
type Ledger struct {
	store   *storage.Store
	rates   Rates
	logger  *log.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	records []Record
	daily   map[string]*DailyAggregate
	limits  Limits
}

type Option func(*Ledger)

func WithLogger(l *log.Logger) Option {
	return func(lg *Ledger) {
		if l != nil {
			lg.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(lg *Ledger) {
		lg.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) {
		if now != nil {
			lg.now = now
		}
	}
}

func WithRates(r Rates) Option {
	return func(lg *Ledger) {
		lg.rates = r
	}
}

// New loads the ledger from store and purges expired records. A nil or
// disabled store gives an in-memory ledger.
func New(store *storage.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		rates:  DefaultRates(),
		logger: log.Default().WithPrefix("usage"),
		now:    time.Now,
		daily:  make(map[string]*DailyAggregate),
		limits: DefaultLimits(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.persistent() {
		store.MarkEssential(EssentialKeys...)
		l.load()
	}
	if n := l.Purge(); n > 0 {
		l.logger.Debug("purged expired usage records", "count", n)
	}
	return l
}

func (l *Ledger) persistent() bool {
	return l.store != nil && l.store.Enabled()
}

func (l *Ledger) load() {
	if records, ok := storage.GetAs[[]Record](l.store, KeyRecords); ok {
		l.records = records
	}
	if daily, ok := storage.GetAs[map[string]*DailyAggregate](l.store, KeyDaily); ok {
		for date, agg := range daily {
			if agg == nil {
				continue
			}
			agg.Date = date
			agg.TotalCostCents = agg.Transcribe.CostCents + agg.Synthesize.CostCents
			l.daily[date] = agg
		}
	}
	if limits, ok := storage.GetAs[Limits](l.store, KeyLimits); ok {
		l.limits = limits
	} else {
		l.store.Set(KeyLimits, l.limits, storage.SetOptions{})
	}
}

// Track appends a record and, for successful operations, folds its cost into
// the day's aggregate. The record is kept in memory even if persisting it
// fails; the returned error reports the failed write.
func (l *Ledger) Track(kind ttypes.Kind, provider string, meta Metadata) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown operation kind %q", ttypes.ErrValidation, kind)
	}

	var cost int64
	if meta.Success {
		cost = l.estimate(kind, meta)
	}

	now := l.now()
	rec := Record{
		ID:                 uuid.NewString(),
		Timestamp:          now,
		Kind:               kind,
		Provider:           provider,
		Metadata:           meta,
		EstimatedCostCents: cost,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, rec)
	if meta.Success {
		l.addLocked(now, rec)
		l.metrics.AddCost(kind.String(), provider, cost)
	}

	l.logger.Debug("tracked", "kind", kind, "provider", provider, "success", meta.Success, "cents", cost)

	if err := l.saveLocked(); err != nil {
		return rec.ID, err
	}
	return rec.ID, nil
}

func (l *Ledger) addLocked(now time.Time, rec Record) {
	date := now.Format(dateLayout)
	agg, ok := l.daily[date]
	if !ok {
		agg = &DailyAggregate{Date: date}
		l.daily[date] = agg
	}

	switch rec.Kind {
	case ttypes.KindTranscribe:
		agg.Transcribe.Count++
		agg.Transcribe.TotalBytes += rec.Metadata.Bytes
		agg.Transcribe.TotalDurationSec += rec.Metadata.DurationSec
		agg.Transcribe.CostCents += rec.EstimatedCostCents
	case ttypes.KindSynthesize:
		agg.Synthesize.Count++
		agg.Synthesize.TotalChars += int64(rec.Metadata.Characters)
		agg.Synthesize.CostCents += rec.EstimatedCostCents
	}
	agg.TotalCostCents = agg.Transcribe.CostCents + agg.Synthesize.CostCents
}

func (l *Ledger) estimate(kind ttypes.Kind, meta Metadata) int64 {
	switch kind {
	case ttypes.KindTranscribe:
		return TranscribeCost(l.rates, meta)
	case ttypes.KindSynthesize:
		return SynthesizeCost(l.rates, meta.Characters)
	}
	return 0
}

// TranscribeCost estimates a transcription in whole cents. Duration falls
// back to a bytes-per-minute heuristic when unknown.
func TranscribeCost(r Rates, meta Metadata) int64 {
	minutes := meta.DurationSec / 60
	if minutes <= 0 {
		minutes = float64(meta.Bytes) / bytesPerMiB * r.MinutesPerMegabyte
	}
	if minutes <= 0 {
		return 0
	}
	return int64(math.Ceil(minutes * r.TranscribeCentsPerMinute))
}

// SynthesizeCost charges per started block of 1000 characters.
func SynthesizeCost(r Rates, chars int) int64 {
	if chars <= 0 {
		return 0
	}
	blocks := (int64(chars) + 999) / 1000
	return blocks * r.SynthesizeCentsPer1K
}

// Today returns the aggregate for the current day.
func (l *Ledger) Today() DailyAggregate {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.todayLocked()
}

func (l *Ledger) todayLocked() DailyAggregate {
	date := l.now().Format(dateLayout)
	if agg, ok := l.daily[date]; ok {
		return *agg
	}
	return DailyAggregate{Date: date}
}

// CheckLimits compares today's aggregate against the configured ceilings.
func (l *Ledger) CheckLimits() LimitStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := l.todayLocked()
	lim := l.limits

	status := LimitStatus{WithinLimits: true}
	check := func(metric string, used, limit int64) {
		if limit <= 0 {
			return
		}
		pct := float64(used) / float64(limit)
		if pct < warnThreshold {
			return
		}
		w := Warning{Metric: metric, Used: used, Limit: limit, Percent: pct * 100}
		if used >= limit {
			status.WithinLimits = false
			w.Message = fmt.Sprintf("%s limit reached (%d/%d)", metric, used, limit)
		} else {
			w.Message = fmt.Sprintf("%s at %.0f%% of daily limit (%d/%d)", metric, w.Percent, used, limit)
		}
		status.Warnings = append(status.Warnings, w)
	}

	check("transcribe requests", int64(today.Transcribe.Count), int64(lim.MaxTranscribeRequests))
	check("synthesize requests", int64(today.Synthesize.Count), int64(lim.MaxSynthesizeRequests))
	check("transcribe cost", today.Transcribe.CostCents, lim.MaxTranscribeCostCents)
	check("synthesize cost", today.Synthesize.CostCents, lim.MaxSynthesizeCostCents)
	check("total cost", today.TotalCostCents, lim.MaxTotalCostCents)

	return status
}

// Stats summarises usage over rolling windows ending today.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	today := now.Format(dateLayout)
	since7 := dayOffset(now, -6)
	since30 := dayOffset(now, -29)

	var s Stats
	for date, agg := range l.daily {
		reqs, cost := agg.Requests(), agg.TotalCostCents
		s.AllTime.add(date, reqs, cost, now.Location())
		if date == today {
			s.Today.add(date, reqs, cost, now.Location())
		}
		if date >= since7 && date <= today {
			s.Last7Days.add(date, reqs, cost, now.Location())
		}
		if date >= since30 && date <= today {
			s.Last30Days.add(date, reqs, cost, now.Location())
		}
	}
	return s
}

func (p *Period) add(date string, reqs int, cost int64, loc *time.Location) {
	p.Requests += reqs
	p.CostCents += cost
	t, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return
	}
	if p.FirstUse.IsZero() || t.Before(p.FirstUse) {
		p.FirstUse = t
	}
}

func dayOffset(now time.Time, days int) string {
	y, m, d := now.Date()
	return time.Date(y, m, d+days, 0, 0, 0, 0, now.Location()).Format(dateLayout)
}

// Limits returns the current ceilings.
func (l *Ledger) Limits() Limits {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limits
}

// SetLimits replaces the ceilings. Negative values are rejected.
func (l *Ledger) SetLimits(lim Limits) error {
	if lim.MaxTranscribeRequests < 0 || lim.MaxSynthesizeRequests < 0 ||
		lim.MaxTranscribeCostCents < 0 || lim.MaxSynthesizeCostCents < 0 ||
		lim.MaxTotalCostCents < 0 {
		return fmt.Errorf("%w: limits must not be negative", ttypes.ErrValidation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits = lim
	if !l.persistent() {
		return nil
	}
	if !l.store.Set(KeyLimits, lim, storage.SetOptions{}) {
		return fmt.Errorf("saving limits: %w", ttypes.ErrStorageQuota)
	}
	return nil
}

// Export returns a copy of every record, aggregate and limit.
func (l *Ledger) Export() Export {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := Export{
		ExportedAt: l.now(),
		Records:    append([]Record(nil), l.records...),
		Limits:     l.limits,
	}
	for _, agg := range l.daily {
		out.Daily = append(out.Daily, *agg)
	}
	sort.Slice(out.Daily, func(i, j int) bool { return out.Daily[i].Date < out.Daily[j].Date })
	return out
}

// Records returns the retained records, oldest first.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Record(nil), l.records...)
}

// Purge drops records older than RecordRetention. Aggregates are kept.
func (l *Ledger) Purge() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-RecordRetention)
	kept := l.records[:0]
	for _, r := range l.records {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, r)
	}
	removed := len(l.records) - len(kept)
	l.records = kept
	if removed > 0 && l.persistent() {
		if !l.store.Set(KeyRecords, l.records, storage.SetOptions{}) {
			l.logger.Warn("failed to persist purged records")
		}
	}
	return removed
}

// Clear wipes all records and aggregates and restores default limits.
func (l *Ledger) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = nil
	l.daily = make(map[string]*DailyAggregate)
	l.limits = DefaultLimits()

	if !l.persistent() {
		return nil
	}
	l.store.Delete(KeyRecords)
	l.store.Delete(KeyDaily)
	if !l.store.Set(KeyLimits, l.limits, storage.SetOptions{}) {
		return fmt.Errorf("saving limits: %w", ttypes.ErrStorageQuota)
	}
	l.logger.Info("usage data cleared")
	return nil
}

func (l *Ledger) saveLocked() error {
	if !l.persistent() {
		return nil
	}
	if !l.store.Set(KeyRecords, l.records, storage.SetOptions{}) {
		return fmt.Errorf("saving usage records: %w", ttypes.ErrStorageQuota)
	}
	if !l.store.Set(KeyDaily, l.daily, storage.SetOptions{}) {
		return fmt.Errorf("saving daily aggregates: %w", ttypes.ErrStorageQuota)
	}
	return nil
}
