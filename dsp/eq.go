package dsp

import "math"

// Band indices within a ThreeBandEQ.
const (
	BandLow = iota
	BandMid
	BandHigh
	NumBands
)

// Default band frequencies and slopes.
const (
	DefaultLowShelfHz  = 200.0
	DefaultMidPeakHz   = 1000.0
	DefaultHighShelfHz = 3500.0

	shelfQ   = 0.707
	midPeakQ = 0.707

	// MinGainDB and MaxGainDB bound every band's gain.
	MinGainDB = -12.0
	MaxGainDB = 12.0

	// bypassWindowDB: a band this close to 0 dB gets identity
	// coefficients. At 0 dB the cookbook equations already collapse to
	// identity after a0 normalization, so the shortcut is numerically
	// indistinguishable from a computed-unity band.
	bypassWindowDB = 0.1
)

// ThreeBandEQ is a stereo cascade of three biquad sections: low shelf,
// mid peak, high shelf. Coefficients are shared across channels; delay
// state is per channel and persists across calls within a session.
//
// Process runs on the render thread; the Set methods are control-plane
// calls and must be externally serialized with Process (the engine
// applies them at the top of the render callback).
type ThreeBandEQ struct {
	sampleRate  float64
	channels    int
	frequencies [NumBands]float64
	gains       [NumBands]float64 // dB
	bands       [NumBands]BiquadSection
}

// NewThreeBandEQ creates an equalizer for the given format with all
// bands flat at the default frequencies.
func NewThreeBandEQ(sampleRate float64, channels int) *ThreeBandEQ {
	return NewThreeBandEQAt(sampleRate, channels,
		DefaultLowShelfHz, DefaultMidPeakHz, DefaultHighShelfHz)
}

// NewThreeBandEQAt creates an equalizer with explicit band frequencies.
// Non-positive frequencies fall back to the defaults.
func NewThreeBandEQAt(sampleRate float64, channels int, lowHz, midHz, highHz float64) *ThreeBandEQ {
	if channels < 1 {
		channels = 1
	}
	if channels > maxChannels {
		channels = maxChannels
	}
	if lowHz <= 0 {
		lowHz = DefaultLowShelfHz
	}
	if midHz <= 0 {
		midHz = DefaultMidPeakHz
	}
	if highHz <= 0 {
		highHz = DefaultHighShelfHz
	}
	eq := &ThreeBandEQ{
		sampleRate:  sampleRate,
		channels:    channels,
		frequencies: [NumBands]float64{lowHz, midHz, highHz},
	}
	for band := range eq.bands {
		eq.recompute(band)
	}
	return eq
}

// Channels returns the channel count the equalizer was built for.
func (eq *ThreeBandEQ) Channels() int {
	return eq.channels
}

// BandGain returns the current gain of a band in dB.
func (eq *ThreeBandEQ) BandGain(band int) float64 {
	if band < 0 || band >= NumBands {
		return 0
	}
	return eq.gains[band]
}

// SetBandGain sets one band's gain in dB, clamped to ±12. Only that
// band's coefficients are recomputed; no delay register is reset, so
// the other bands stay numerically continuous.
func (eq *ThreeBandEQ) SetBandGain(band int, gainDB float64) {
	if band < 0 || band >= NumBands {
		return
	}
	eq.gains[band] = clampGain(gainDB)
	eq.recompute(band)
}

// SetSampleRate recomputes all three bands for a new rate. Delay
// registers are preserved.
func (eq *ThreeBandEQ) SetSampleRate(sampleRate float64) {
	if sampleRate <= 0 || sampleRate == eq.sampleRate {
		return
	}
	eq.sampleRate = sampleRate
	for band := range eq.bands {
		eq.recompute(band)
	}
}

// Process runs the cascade in place over an interleaved buffer.
func (eq *ThreeBandEQ) Process(buf []float32) {
	ch := 0
	for i := range buf {
		x := float64(buf[i])
		x = eq.bands[BandLow].ProcessSample(ch, x)
		x = eq.bands[BandMid].ProcessSample(ch, x)
		x = eq.bands[BandHigh].ProcessSample(ch, x)
		buf[i] = float32(x)
		ch++
		if ch == eq.channels {
			ch = 0
		}
	}
}

// Reset clears all delay state, for example when a client is
// re-created and must not inherit filter memory from a previous
// process instance.
func (eq *ThreeBandEQ) Reset() {
	for band := range eq.bands {
		eq.bands[band].Reset()
	}
}

func (eq *ThreeBandEQ) recompute(band int) {
	gain := eq.gains[band]
	if math.Abs(gain) < bypassWindowDB {
		eq.bands[band].SetIdentity()
		return
	}
	switch band {
	case BandLow:
		eq.bands[band].SetLowShelf(eq.sampleRate, eq.frequencies[band], shelfQ, gain)
	case BandMid:
		eq.bands[band].SetPeaking(eq.sampleRate, eq.frequencies[band], midPeakQ, gain)
	case BandHigh:
		eq.bands[band].SetHighShelf(eq.sampleRate, eq.frequencies[band], shelfQ, gain)
	}
}

func clampGain(gainDB float64) float64 {
	if gainDB < MinGainDB {
		return MinGainDB
	}
	if gainDB > MaxGainDB {
		return MaxGainDB
	}
	return gainDB
}
