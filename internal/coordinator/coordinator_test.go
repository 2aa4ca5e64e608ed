package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/speechkit/internal/metrics"
	"github.com/dgnsrekt/speechkit/internal/ttypes"
)

func TestAdmissionBound(t *testing.T) {
	c := New(Config{MaxConcurrent: 3})
	ctx := context.Background()

	var ops []*Operation
	for i := 0; i < 3; i++ {
		op, err := c.Admit(ctx, ttypes.KindSynthesize)
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		ops = append(ops, op)
	}

	if _, err := c.Admit(ctx, ttypes.KindTranscribe); !errors.Is(err, ttypes.ErrAdmissionRejected) {
		t.Fatalf("fourth admit: got %v, want ErrAdmissionRejected", err)
	}
	if got := c.Status().Total; got != 3 {
		t.Errorf("live = %d after rejection, want 3", got)
	}

	c.Release(ops[0].ID)
	if _, err := c.Admit(ctx, ttypes.KindTranscribe); err != nil {
		t.Errorf("admit after release: %v", err)
	}
}

func TestAdmissionBoundConcurrent(t *testing.T) {
	c := New(Config{MaxConcurrent: 3})

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted, rejected := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Admit(context.Background(), ttypes.KindSynthesize)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rejected++
				return
			}
			admitted++
		}()
	}
	wg.Wait()

	if admitted != 3 || rejected != 17 {
		t.Errorf("admitted=%d rejected=%d, want 3/17", admitted, rejected)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	c := New(DefaultConfig())
	op, err := c.Admit(context.Background(), ttypes.KindTranscribe)
	if err != nil {
		t.Fatal(err)
	}

	c.Release(op.ID)
	c.Release(op.ID)
	c.Release("unknown")

	if got := c.Status().Total; got != 0 {
		t.Errorf("live = %d, want 0", got)
	}
	if op.Context().Err() == nil {
		t.Error("released operation context should be done")
	}
}

func TestCancelByKindAndID(t *testing.T) {
	c := New(Config{MaxConcurrent: 5})
	ctx := context.Background()

	t1, _ := c.Admit(ctx, ttypes.KindTranscribe)
	s1, _ := c.Admit(ctx, ttypes.KindSynthesize)
	s2, _ := c.Admit(ctx, ttypes.KindSynthesize)

	if n := c.Cancel(ttypes.KindSynthesize, s1.ID); n != 1 {
		t.Fatalf("cancel by id = %d, want 1", n)
	}
	if !errors.Is(s1.Err(), ttypes.ErrCanceled) {
		t.Errorf("s1 err = %v, want ErrCanceled", s1.Err())
	}
	if s2.Err() != nil {
		t.Errorf("s2 should still be live, got %v", s2.Err())
	}

	if n := c.Cancel(ttypes.KindSynthesize, ""); n != 1 {
		t.Errorf("cancel by kind = %d, want 1", n)
	}
	st := c.Status()
	if st.Total != 1 || st.ByKind[ttypes.KindTranscribe] != 1 {
		t.Errorf("status = %+v, want only the transcription", st)
	}

	if n := c.Cancel(ttypes.KindAny, ""); n != 1 {
		t.Errorf("cancel all = %d, want 1", n)
	}
	if !ttypes.IsCancellation(t1.Err()) {
		t.Errorf("t1 err = %v, want cancellation", t1.Err())
	}
}

func TestOperationTimeout(t *testing.T) {
	c := New(Config{SynthesizeTimeout: 20 * time.Millisecond})
	op, err := c.Admit(context.Background(), ttypes.KindSynthesize)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Release(op.ID)

	select {
	case <-op.Context().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("operation did not time out")
	}

	err = op.Err()
	if !errors.Is(err, ttypes.ErrTimeout) || errors.Is(err, ttypes.ErrCanceled) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestCallerCancellationPropagates(t *testing.T) {
	c := New(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	op, err := c.Admit(ctx, ttypes.KindTranscribe)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Release(op.ID)

	cancel()
	<-op.Context().Done()
	if !ttypes.IsCancellation(op.Err()) {
		t.Errorf("err = %v, want cancellation", op.Err())
	}
}

func TestSweepRemovesStale(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	c := New(Config{TranscribeTimeout: time.Hour, SynthesizeTimeout: time.Hour}, WithClock(clock), WithMetrics(metrics.New()))
	old, _ := c.Admit(context.Background(), ttypes.KindTranscribe)

	now = now.Add(30 * time.Minute)
	fresh, _ := c.Admit(context.Background(), ttypes.KindSynthesize)

	now = now.Add(time.Hour - 30*time.Minute + 11*time.Second)
	if n := c.Sweep(); n != 1 {
		t.Fatalf("sweep removed %d, want 1", n)
	}
	if !errors.Is(old.Err(), ttypes.ErrTimeout) {
		t.Errorf("stale op err = %v, want ErrTimeout", old.Err())
	}
	if fresh.Err() != nil {
		t.Errorf("fresh op should be live, got %v", fresh.Err())
	}
	if got := c.Status().Total; got != 1 {
		t.Errorf("live = %d, want 1", got)
	}
}

func TestStartStop(t *testing.T) {
	c := New(Config{SweepInterval: 5 * time.Millisecond})
	op, _ := c.Admit(context.Background(), ttypes.KindSynthesize)

	c.Start()
	c.Start()
	time.Sleep(20 * time.Millisecond)
	c.Stop()

	if c.Status().Total != 0 {
		t.Error("Stop should cancel live operations")
	}
	if op.Err() == nil {
		t.Error("operation context should be done after Stop")
	}
}

func TestAdmitRejectsUnknownKind(t *testing.T) {
	c := New(DefaultConfig())
	if _, err := c.Admit(context.Background(), ttypes.KindAny); !errors.Is(err, ttypes.ErrValidation) {
		t.Errorf("got %v, want ErrValidation", err)
	}
}
