package audio

import (
	"fmt"
	"math"
)

// DecodePCM16 converts little-endian 16-bit PCM bytes to samples
func DecodePCM16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}

	samples := make([]int16, len(data)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples, nil
}

// EncodePCM16 converts samples to little-endian 16-bit PCM bytes
func EncodePCM16(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, sample := range samples {
		data[i*2] = byte(sample)
		data[i*2+1] = byte(sample >> 8)
	}
	return data
}

// Resample performs simple linear interpolation resampling
// This is a basic implementation - for production quality, consider
// sinc interpolation
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio

		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// RMSLevel calculates the root mean square of the samples normalized to
// [0, 1], where 1.0 corresponds to a full-scale signal. Used to drive the
// volume meter.
func RMSLevel(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	rms := math.Sqrt(sum / float64(len(samples)))
	level := rms / 32768.0
	if level > 1.0 {
		level = 1.0
	}
	return level
}

// ApplyGain scales samples by gain in [0, 1], clamping to the int16 range
func ApplyGain(samples []int16, gain float64) []int16 {
	if gain >= 1.0 {
		return samples
	}
	if gain < 0 {
		gain = 0
	}

	out := make([]int16, len(samples))
	for i, sample := range samples {
		scaled := float64(sample) * gain
		if scaled > math.MaxInt16 {
			scaled = math.MaxInt16
		} else if scaled < math.MinInt16 {
			scaled = math.MinInt16
		}
		out[i] = int16(scaled)
	}
	return out
}
