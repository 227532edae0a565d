// Package audio provides PCM16 helpers for the HiRA voice relay.
//
// The relay carries little-endian 16-bit mono PCM end to end: clients may
// capture at 48 kHz while the upstream conversational API expects 24 kHz, so
// inbound frames are folded to mono and resampled before forwarding. All
// functions operate on raw byte slices and never retain their input.
package audio

import "fmt"

// UpstreamSampleRate is the sample rate the upstream real-time API expects
// for both inbound and outbound PCM16 audio.
const UpstreamSampleRate = 24000

// Format describes the sample rate and channel count of a PCM16 stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Valid reports whether pcm is a well-formed PCM16 buffer for the format:
// the byte count must divide evenly into whole frames.
func Valid(pcm []byte, f Format) bool {
	if f.Channels <= 0 {
		return false
	}
	frameBytes := 2 * f.Channels
	return len(pcm)%frameBytes == 0
}

// ToUpstream converts a client PCM16 buffer in format src to the mono
// 24 kHz format the upstream API expects. The input is returned unchanged
// (zero allocation) when it already matches. Malformed buffers (odd byte
// counts) yield nil.
func ToUpstream(pcm []byte, src Format) []byte {
	if !Valid(pcm, src) {
		return nil
	}
	if src.Channels == 2 {
		pcm = StereoToMono(pcm)
	}
	if src.SampleRate != UpstreamSampleRate {
		pcm = ResampleMono16(pcm, src.SampleRate, UpstreamSampleRate)
	}
	return pcm
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono
// output. Uses int32 arithmetic to prevent overflow and clamps to the int16
// range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2

		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples. If
// srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := 0; i < dstSamples; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}
