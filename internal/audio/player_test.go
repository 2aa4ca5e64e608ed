package audio

import (
	"encoding/binary"
	"testing"
)

func TestDevicePCMUpmixesAndResamples(t *testing.T) {
	cfg := PlayerConfig{SampleRate: 44100, Channels: 2}
	pcm := devicePCM(sine(22050, 1, 22050), cfg)

	if want := 44100 * 2 * 2; len(pcm) != want {
		t.Fatalf("pcm length = %d, want %d", len(pcm), want)
	}
	for _, frame := range []int{0, 1000, 44099} {
		off := frame * 4
		left := binary.LittleEndian.Uint16(pcm[off:])
		right := binary.LittleEndian.Uint16(pcm[off+2:])
		if left != right {
			t.Errorf("frame %d: left %d != right %d", frame, left, right)
		}
	}
}

func TestDevicePCMDownmixes(t *testing.T) {
	cfg := PlayerConfig{SampleRate: 44100, Channels: 1}
	pcm := devicePCM(sine(44100, 2, 441), cfg)
	if len(pcm) != 441*2 {
		t.Errorf("pcm length = %d, want %d", len(pcm), 441*2)
	}
}
