package audio

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dgnsrekt/speechkit/internal/ttypes"
)

// MockPlayer simulates playback without producing sound. Playback lasts for
// the decoded duration of the payload multiplied by DelayFactor.
type MockPlayer struct {
	// DelayFactor scales simulated playback time; 0 returns immediately.
	DelayFactor float64
	// Err, when set, is returned by every Play call.
	Err error
	// OnPlay is called with each payload before playback starts.
	OnPlay func(wav []byte)

	mu        sync.Mutex
	played    [][]byte
	cancelled int
}

func NewMockPlayer() *MockPlayer {
	return &MockPlayer{}
}

func (mp *MockPlayer) Play(ctx context.Context, wav []byte) error {
	if len(wav) == 0 {
		return errors.New("audio data is empty")
	}
	if mp.Err != nil {
		return mp.Err
	}
	if err := ttypes.ContextError(ctx); err != nil {
		return err
	}
	if mp.OnPlay != nil {
		mp.OnPlay(wav)
	}

	data := make([]byte, len(wav))
	copy(data, wav)
	mp.mu.Lock()
	mp.played = append(mp.played, data)
	mp.mu.Unlock()

	var duration time.Duration
	if buf, err := (WAVDecoder{}).Decode(ctx, wav); err == nil {
		duration = time.Duration(float64(buf.Duration()) * mp.DelayFactor)
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		mp.mu.Lock()
		mp.cancelled++
		mp.mu.Unlock()
		return ttypes.ContextError(ctx)
	case <-timer.C:
		return nil
	}
}

// Played returns a copy of every payload passed to Play.
func (mp *MockPlayer) Played() [][]byte {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	out := make([][]byte, len(mp.played))
	copy(out, mp.played)
	return out
}

// Cancelled returns how many playbacks were halted by their context.
func (mp *MockPlayer) Cancelled() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.cancelled
}
