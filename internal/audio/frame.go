// Package audio implements the fixed-size PCM frame codec and mixing
// arithmetic for the relay. One Frame is exactly 20 ms of 16 kHz, 16-bit
// signed little-endian mono audio: 320 samples, 640 bytes.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// SampleRate is the fixed input/output sample rate in Hz.
	SampleRate = 16000
	// SamplesPerFrame is 20ms of audio at SampleRate.
	SamplesPerFrame = 320
	// FrameBytes is the wire size of one frame: 16-bit samples, mono.
	FrameBytes = SamplesPerFrame * 2
)

// Frame is one decoded 20ms block in float32 sample space, each sample in
// [-1, 1].
type Frame [SamplesPerFrame]float32

// Decode parses a 640-byte little-endian PCM16 buffer into a Frame. It
// returns an error for any other length; callers on the ingress path treat
// that as a silent drop per the wire contract, not a protocol error.
func Decode(b []byte) (Frame, error) {
	var f Frame
	if len(b) != FrameBytes {
		return f, fmt.Errorf("audio: frame must be %d bytes, got %d", FrameBytes, len(b))
	}
	for i := 0; i < SamplesPerFrame; i++ {
		s := int16(binary.LittleEndian.Uint16(b[i*2 : i*2+2]))
		f[i] = float32(s) / 32768
	}
	return f, nil
}

// Encode renders a Frame back to a 640-byte PCM16 buffer, clamping each
// sample to [-1, 1] and saturating the cast at ±32767.
func Encode(f Frame) []byte {
	b := make([]byte, FrameBytes)
	for i, s := range f {
		binary.LittleEndian.PutUint16(b[i*2:i*2+2], uint16(floatToInt16(s)))
	}
	return b
}

// floatToInt16 clamps to [-1, 1] then rescales by 32767, saturating at the
// int16 boundaries per §4.1.
func floatToInt16(t float32) int16 {
	if t > 1 {
		t = 1
	} else if t < -1 {
		t = -1
	}
	v := t * 32767
	if v > 32767 {
		return 32767
	}
	if v < -32767 {
		return -32767
	}
	return int16(v)
}

// Gain implements the duck-mix policy of §4.1: unity gain for zero or one
// contributor, otherwise 0.7/k to keep the sum bounded as speakers
// accumulate.
func Gain(contributors int) float32 {
	if contributors <= 1 {
		return 1.0
	}
	return 0.7 / float32(contributors)
}

// Mix sums the given frames sample-wise, applies gain, and soft-clips with
// tanh before returning the mixed frame. An empty input yields silence.
func Mix(frames []Frame) Frame {
	var out Frame
	if len(frames) == 0 {
		return out
	}
	gain := Gain(len(frames))
	for i := 0; i < SamplesPerFrame; i++ {
		var sum float32
		for _, f := range frames {
			sum += f[i]
		}
		out[i] = float32(math.Tanh(float64(sum * gain)))
	}
	return out
}
