package audio

import (
	"bytes"
	"math"
	"testing"
	"time"
)

func int16LE(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func TestResampleMono16SameRate(t *testing.T) {
	t.Parallel()
	in := int16LE(100, 200, 300)
	got := ResampleMono16(in, 16000, 16000)
	if !bytes.Equal(got, in) {
		t.Errorf("same-rate resample should return input unchanged")
	}
}

func TestResampleMono16Downsample(t *testing.T) {
	t.Parallel()
	// 8 samples at 32kHz -> 4 samples at 16kHz.
	in := int16LE(0, 1000, 2000, 3000, 4000, 5000, 6000, 7000)
	got := ResampleMono16(in, 32000, 16000)
	if len(got) != 8 {
		t.Fatalf("expected 4 samples (8 bytes), got %d bytes", len(got))
	}
	// First output sample maps exactly onto input sample 0.
	first := int16(got[0]) | int16(got[1])<<8
	if first != 0 {
		t.Errorf("first sample = %d, want 0", first)
	}
}

func TestResampleMono16Upsample(t *testing.T) {
	t.Parallel()
	in := int16LE(0, 1000)
	got := ResampleMono16(in, 8000, 16000)
	if len(got) != 8 {
		t.Fatalf("expected 4 samples (8 bytes), got %d bytes", len(got))
	}
	// Interpolated midpoint between 0 and 1000.
	mid := int16(got[2]) | int16(got[3])<<8
	if mid < 400 || mid > 600 {
		t.Errorf("interpolated sample = %d, want ≈500", mid)
	}
}

func TestStereoToMonoAveragesAndClamps(t *testing.T) {
	t.Parallel()
	in := int16LE(1000, 3000, 32767, 32767, -32768, -32768)
	got := StereoToMono(in)
	want := []int16{2000, 32767, -32768}
	if len(got) != len(want)*2 {
		t.Fatalf("expected %d bytes, got %d", len(want)*2, len(got))
	}
	for i, w := range want {
		s := int16(got[i*2]) | int16(got[i*2+1])<<8
		if s != w {
			t.Errorf("sample %d = %d, want %d", i, s, w)
		}
	}
}

func TestPCMFloat32RoundTrip(t *testing.T) {
	t.Parallel()
	in := int16LE(0, 16384, -16384, 32767, -32768)
	floats := PCMToFloat32(in)
	if len(floats) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(floats))
	}
	if floats[0] != 0 {
		t.Errorf("floats[0] = %v, want 0", floats[0])
	}
	if math.Abs(float64(floats[1])-0.5) > 0.001 {
		t.Errorf("floats[1] = %v, want ≈0.5", floats[1])
	}
	back := Float32ToPCM(floats)
	if !bytes.Equal(back, in) {
		t.Errorf("round trip mismatch:\n in  %v\n out %v", in, back)
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	silence := int16LE(0, 0, 0, 0)
	if got := RMS(silence); got != 0 {
		t.Errorf("RMS(silence) = %v, want 0", got)
	}
	loud := int16LE(16384, -16384, 16384, -16384)
	got := RMS(loud)
	if math.Abs(got-0.5) > 0.001 {
		t.Errorf("RMS(half scale) = %v, want ≈0.5", got)
	}
}

func TestPCMDuration(t *testing.T) {
	t.Parallel()
	// 16000 samples of mono int16 at 16kHz is exactly one second.
	if got := PCMDuration(32000, 16000); got != time.Second {
		t.Errorf("PCMDuration = %v, want 1s", got)
	}
	if got := PCMDuration(100, 0); got != 0 {
		t.Errorf("PCMDuration with zero rate = %v, want 0", got)
	}
}
