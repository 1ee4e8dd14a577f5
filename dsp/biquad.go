package dsp

import "math"

// maxChannels bounds the per-channel delay state; the engine is a
// stereo design.
const maxChannels = 2

// BiquadSection is a single second-order IIR filter stage with
// a0-normalized coefficients and two delay registers per channel.
//
// Processing uses the transposed direct form II recurrence:
//
//	y  = b0·x + d0
//	d0 = b1·x − a1·y + d1
//	d1 = b2·x − a2·y
//
// Recomputing coefficients never touches the delay registers, so a
// gain change produces no discontinuity beyond the inherent transient
// of the coefficient change itself.
type BiquadSection struct {
	b0, b1, b2 float64
	a1, a2     float64
	d0, d1     [maxChannels]float64
}

// SetIdentity configures the section to pass samples through unchanged.
func (s *BiquadSection) SetIdentity() {
	s.b0, s.b1, s.b2 = 1, 0, 0
	s.a1, s.a2 = 0, 0
}

// setNormalized stores the coefficients divided by a0.
func (s *BiquadSection) setNormalized(b0, b1, b2, a0, a1, a2 float64) {
	inv := 1.0 / a0
	s.b0 = b0 * inv
	s.b1 = b1 * inv
	s.b2 = b2 * inv
	s.a1 = a1 * inv
	s.a2 = a2 * inv
}

// SetLowShelf configures a low-shelf stage boosting or attenuating
// everything below frequency by gainDB.
func (s *BiquadSection) SetLowShelf(sampleRate, frequency, q, gainDB float64) {
	omega := 2.0 * math.Pi * frequency / sampleRate
	sinOmega := math.Sin(omega)
	cosOmega := math.Cos(omega)
	A := math.Pow(10.0, gainDB/40.0)
	alpha := sinOmega / (2.0 * q)

	sqrtAAlpha := 2.0 * math.Sqrt(A) * alpha

	b0 := A * ((A + 1) - (A-1)*cosOmega + sqrtAAlpha)
	b1 := 2.0 * A * ((A - 1) - (A+1)*cosOmega)
	b2 := A * ((A + 1) - (A-1)*cosOmega - sqrtAAlpha)
	a0 := (A + 1) + (A-1)*cosOmega + sqrtAAlpha
	a1 := -2.0 * ((A - 1) + (A+1)*cosOmega)
	a2 := (A + 1) + (A-1)*cosOmega - sqrtAAlpha

	s.setNormalized(b0, b1, b2, a0, a1, a2)
}

// SetPeaking configures a peaking stage boosting or attenuating a band
// around frequency by gainDB.
func (s *BiquadSection) SetPeaking(sampleRate, frequency, q, gainDB float64) {
	omega := 2.0 * math.Pi * frequency / sampleRate
	sinOmega := math.Sin(omega)
	cosOmega := math.Cos(omega)
	A := math.Pow(10.0, gainDB/40.0)
	alpha := sinOmega / (2.0 * q)

	b0 := 1.0 + alpha*A
	b1 := -2.0 * cosOmega
	b2 := 1.0 - alpha*A
	a0 := 1.0 + alpha/A
	a1 := -2.0 * cosOmega
	a2 := 1.0 - alpha/A

	s.setNormalized(b0, b1, b2, a0, a1, a2)
}

// SetHighShelf configures a high-shelf stage boosting or attenuating
// everything above frequency by gainDB.
func (s *BiquadSection) SetHighShelf(sampleRate, frequency, q, gainDB float64) {
	omega := 2.0 * math.Pi * frequency / sampleRate
	sinOmega := math.Sin(omega)
	cosOmega := math.Cos(omega)
	A := math.Pow(10.0, gainDB/40.0)
	alpha := sinOmega / (2.0 * q)

	sqrtAAlpha := 2.0 * math.Sqrt(A) * alpha

	b0 := A * ((A + 1) + (A-1)*cosOmega + sqrtAAlpha)
	b1 := -2.0 * A * ((A - 1) + (A+1)*cosOmega)
	b2 := A * ((A + 1) + (A-1)*cosOmega - sqrtAAlpha)
	a0 := (A + 1) - (A-1)*cosOmega + sqrtAAlpha
	a1 := 2.0 * ((A - 1) - (A+1)*cosOmega)
	a2 := (A + 1) - (A-1)*cosOmega - sqrtAAlpha

	s.setNormalized(b0, b1, b2, a0, a1, a2)
}

// ProcessSample runs one sample of the given channel through the stage.
func (s *BiquadSection) ProcessSample(channel int, x float64) float64 {
	y := s.b0*x + s.d0[channel]
	s.d0[channel] = s.b1*x - s.a1*y + s.d1[channel]
	s.d1[channel] = s.b2*x - s.a2*y
	return y
}

// Reset clears the delay registers for all channels. Coefficients are
// untouched.
func (s *BiquadSection) Reset() {
	for ch := 0; ch < maxChannels; ch++ {
		s.d0[ch] = 0
		s.d1[ch] = 0
	}
}
