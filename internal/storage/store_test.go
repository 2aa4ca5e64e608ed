package storage

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore(t *testing.T, backend Backend, opts ...Option) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	s, err := New(backend, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func TestSetGetRoundTrip(t *testing.T) {
	s, _ := newTestStore(t, NewMemoryBackend(0))

	if !s.Set("a", record{Name: "x", Count: 3}, SetOptions{}) {
		t.Fatal("Set failed")
	}
	got, ok := GetAs[record](s, "a")
	if !ok || got.Name != "x" || got.Count != 3 {
		t.Errorf("got %+v, %v", got, ok)
	}

	if _, ok := GetAs[record](s, "missing"); ok {
		t.Error("missing key should not be found")
	}
}

func TestCompressionAboveThreshold(t *testing.T) {
	backend := NewMemoryBackend(0)
	s, _ := newTestStore(t, backend)

	big := strings.Repeat("speech ", 1000)
	s.Set("big", big, SetOptions{})
	s.Set("raw", big, SetOptions{Compress: Bool(false)})
	s.Set("small", "hi", SetOptions{})

	if info, _ := s.Peek("big"); !info.Compressed {
		t.Error("large value should be compressed")
	}
	if info, _ := s.Peek("raw"); info.Compressed {
		t.Error("compression was disabled")
	}
	if info, _ := s.Peek("small"); info.Compressed {
		t.Error("value under threshold should not be compressed")
	}

	bigInfo, _ := s.Peek("big")
	rawInfo, _ := s.Peek("raw")
	if bigInfo.StoredSize >= rawInfo.StoredSize {
		t.Errorf("compressed %d >= raw %d", bigInfo.StoredSize, rawInfo.StoredSize)
	}

	got, ok := GetAs[string](s, "big")
	if !ok || got != big {
		t.Error("compressed value did not round-trip")
	}
}

func TestExpiry(t *testing.T) {
	s, clock := newTestStore(t, NewMemoryBackend(0))

	s.Set("short", 1, SetOptions{MaxAge: time.Minute})
	s.Set("forever", 2, SetOptions{})

	clock.Advance(2 * time.Minute)
	if _, ok := GetAs[int](s, "short"); ok {
		t.Error("expired item returned")
	}
	if len(s.Keys("short")) != 0 {
		t.Error("expired item should be removed on read")
	}
	if _, ok := GetAs[int](s, "forever"); !ok {
		t.Error("item without max age expired")
	}
}

func TestCleanup(t *testing.T) {
	s, clock := newTestStore(t, NewMemoryBackend(0))
	for i, age := range []time.Duration{time.Second, time.Hour, 0} {
		s.Set(string(rune('a'+i)), i, SetOptions{MaxAge: age})
	}

	clock.Advance(time.Minute)
	if n := s.Cleanup(); n != 1 {
		t.Errorf("Cleanup removed %d, want 1", n)
	}
	if got := s.Stats().ItemCount; got != 2 {
		t.Errorf("ItemCount = %d, want 2", got)
	}
}

func TestCorruptEntryRemoved(t *testing.T) {
	backend := NewMemoryBackend(0)
	if err := backend.Set("bad", []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if err := backend.Set("badpayload", []byte(`{"payload":"abc","timestamp":1,"size":3}`)); err != nil {
		t.Fatal(err)
	}
	s, _ := newTestStore(t, backend)
	s.Set("good", 1, SetOptions{})

	if _, ok := backend.items["bad"]; ok {
		t.Error("unparseable envelope should be removed while indexing")
	}

	var n int
	if s.Get("badpayload", &n) {
		t.Error("corrupt payload returned")
	}
	if _, ok, _ := backend.Get("badpayload"); ok {
		t.Error("corrupt key should be deleted")
	}
}

func TestGraduatedReclamation(t *testing.T) {
	s, clock := newTestStore(t, NewMemoryBackend(0), WithCeiling(2000))
	s.MarkEssential("usage:records")

	payload := strings.Repeat("x", 300)
	s.Set("usage:records", payload, SetOptions{Compress: Bool(false)})
	for _, k := range []string{"old", "mid", "new"} {
		clock.Advance(time.Second)
		if !s.Set(k, payload, SetOptions{Compress: Bool(false)}) {
			t.Fatalf("Set %s failed", k)
		}
	}

	before := s.Stats().UsedBytes
	clock.Advance(time.Second)
	if !s.Set("incoming", strings.Repeat("y", 700), SetOptions{Compress: Bool(false)}) {
		t.Fatal("Set should succeed after reclamation")
	}

	keys := strings.Join(s.Keys(""), ",")
	if strings.Contains(keys, "old") {
		t.Errorf("oldest item should be reclaimed first: %s", keys)
	}
	if !strings.Contains(keys, "new") || !strings.Contains(keys, "usage:records") {
		t.Errorf("newest and essential items should survive: %s", keys)
	}

	st := s.Stats()
	if st.UsedBytes > st.QuotaBytes {
		t.Errorf("used %d exceeds quota %d (before %d)", st.UsedBytes, st.QuotaBytes, before)
	}
}

func TestReclamationKeepsEssential(t *testing.T) {
	s, clock := newTestStore(t, NewMemoryBackend(0), WithCeiling(1500))
	s.MarkEssential("usage:daily")

	s.Set("usage:daily", strings.Repeat("d", 200), SetOptions{Compress: Bool(false)})
	for i := 0; i < 4; i++ {
		clock.Advance(time.Second)
		s.Set(string(rune('a'+i)), strings.Repeat("x", 150), SetOptions{Compress: Bool(false)})
	}

	clock.Advance(time.Second)
	if !s.Set("huge", strings.Repeat("h", 1000), SetOptions{Compress: Bool(false)}) {
		t.Fatal("Set should succeed after emergency reclamation")
	}
	keys := s.Keys("")
	if len(keys) != 2 || keys[0] != "huge" || keys[1] != "usage:daily" {
		t.Errorf("keys = %v, want [huge usage:daily]", keys)
	}
}

func TestEmergencyReclamationRemovesUnindexedKeys(t *testing.T) {
	backend := NewMemoryBackend(0)
	s, _ := newTestStore(t, backend, WithCeiling(1000))
	s.MarkEssential("usage:daily")
	s.Set("usage:daily", 1, SetOptions{})

	// Written behind the store's back after its index was built.
	stray := []byte(`{"payload":"` + strings.Repeat("s", 600) + `","timestamp":1,"size":602}`)
	if err := backend.Set("stray", stray); err != nil {
		t.Fatal(err)
	}
	backend.SetQuota(1000)

	if !s.Set("next", strings.Repeat("n", 500), SetOptions{Compress: Bool(false)}) {
		t.Fatal("Set should succeed after emergency reclamation")
	}
	if _, ok, _ := backend.Get("stray"); ok {
		t.Error("stray key should be reclaimed")
	}
	if _, ok := GetAs[int](s, "usage:daily"); !ok {
		t.Error("essential key should survive")
	}
}

func TestSetFailsCleanlyWhenNothingFits(t *testing.T) {
	s, _ := newTestStore(t, NewMemoryBackend(0), WithCeiling(500))
	s.MarkEssential("usage:limits")
	s.Set("usage:limits", strings.Repeat("l", 300), SetOptions{Compress: Bool(false)})

	if s.Set("big", strings.Repeat("b", 400), SetOptions{Compress: Bool(false)}) {
		t.Error("write exceeding quota after reclamation should fail")
	}
	if _, ok := GetAs[string](s, "usage:limits"); !ok {
		t.Error("essential key should survive")
	}
	if st := s.Stats(); st.UsedBytes > st.QuotaBytes {
		t.Errorf("used %d > quota %d", st.UsedBytes, st.QuotaBytes)
	}
}

// quotaOnceBackend rejects compressed envelopes with a quota error.
type quotaOnceBackend struct {
	*MemoryBackend
	rejected int
}

func (b *quotaOnceBackend) Set(key string, value []byte) error {
	if bytes.Contains(value, []byte(`"compressed":true`)) {
		b.rejected++
		return ErrQuotaExceeded
	}
	return b.MemoryBackend.Set(key, value)
}

func TestBackendQuotaRetriesUncompressed(t *testing.T) {
	backend := &quotaOnceBackend{MemoryBackend: NewMemoryBackend(0)}
	s, _ := newTestStore(t, backend)

	value := strings.Repeat("retry ", 500)
	if !s.Set("k", value, SetOptions{}) {
		t.Fatal("Set should succeed on the uncompressed retry")
	}
	if backend.rejected != 1 {
		t.Errorf("rejected = %d, want 1", backend.rejected)
	}
	if got, ok := GetAs[string](s, "k"); !ok || got != value {
		t.Error("value did not round-trip")
	}
}

func TestBackendQuotaBoundsBudget(t *testing.T) {
	s, _ := newTestStore(t, NewMemoryBackend(800), WithCeiling(10_000))
	if got := s.Stats().QuotaBytes; got != 800 {
		t.Errorf("QuotaBytes = %d, want backend quota 800", got)
	}
}

func TestStats(t *testing.T) {
	s, clock := newTestStore(t, NewMemoryBackend(0), WithCeiling(10_000))
	s.Set("first", "a", SetOptions{})
	clock.Advance(time.Hour)
	s.Set("second", strings.Repeat("b", 200), SetOptions{Compress: Bool(false)})

	st := s.Stats()
	if st.ItemCount != 2 {
		t.Errorf("ItemCount = %d", st.ItemCount)
	}
	if st.OldestItemAge != time.Hour {
		t.Errorf("OldestItemAge = %v, want 1h", st.OldestItemAge)
	}
	if st.Largest.Key != "second" {
		t.Errorf("Largest = %+v", st.Largest)
	}
	if st.UsagePercent <= 0 || st.UsagePercent > 100 {
		t.Errorf("UsagePercent = %v", st.UsagePercent)
	}
}

func TestClear(t *testing.T) {
	s, _ := newTestStore(t, NewMemoryBackend(0))
	s.MarkEssential("usage:records")
	s.Set("usage:records", 1, SetOptions{})
	s.Set("other", 2, SetOptions{})

	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	if n := s.Stats().ItemCount; n != 0 {
		t.Errorf("ItemCount = %d after Clear", n)
	}
}

func TestNilBackendIsNoop(t *testing.T) {
	s, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.Set("k", 1, SetOptions{}) {
		t.Error("Set should report false without a backend")
	}
	var v int
	if s.Get("k", &v) {
		t.Error("Get should miss without a backend")
	}
	if s.Cleanup() != 0 || s.Stats().ItemCount != 0 || s.Keys("") != nil {
		t.Error("no-op store reported data")
	}
	if err := s.Clear(); err != nil {
		t.Error(err)
	}
	if err := s.Close(); err != nil {
		t.Error(err)
	}
}
