// Package gain converts between the normalized float control domain
// and the discrete raw values of the device control protocol, for
// volume, pan and EQ band gain.
package gain

import "math"

// Raw protocol constants. UnityRaw sits strictly inside
// [MinRaw, MaxRaw]: raw values above unity encode permitted electrical
// boost up to VolumeCeiling.
const (
	MinRaw      = 0
	MaxRaw      = 150
	UnityRaw    = 100
	PanLeftRaw  = -100
	PanRightRaw = 100

	// VolumeCeiling is the maximum volume scalar (1.0 = unity).
	VolumeCeiling = 1.5

	// EQ band gain travels as tenths of a dB.
	EQMinRaw    = -120
	EQMaxRaw    = 120
	EQMinGainDB = -12.0
	EQMaxGainDB = 12.0
)

// Mapper performs the float↔raw conversions. The zero value is not
// usable; construct with DefaultMapper or fill every field.
//
// Contract: Encode(Decode(raw)) == raw for every raw value reachable
// via the forward mapping. The float→raw direction quantizes.
type Mapper struct {
	MinRaw      int
	MaxRaw      int
	UnityRaw    int
	Ceiling     float64
	PanLeftRaw  int
	PanRightRaw int
}

// DefaultMapper returns a mapper over the standard raw domains.
func DefaultMapper() Mapper {
	return Mapper{
		MinRaw:      MinRaw,
		MaxRaw:      MaxRaw,
		UnityRaw:    UnityRaw,
		Ceiling:     VolumeCeiling,
		PanLeftRaw:  PanLeftRaw,
		PanRightRaw: PanRightRaw,
	}
}

// VolumeFromRaw decodes a raw volume into a scalar (unity = 1.0).
func (m Mapper) VolumeFromRaw(raw int) float64 {
	if raw < m.MinRaw {
		raw = m.MinRaw
	}
	if raw > m.MaxRaw {
		raw = m.MaxRaw
	}
	return float64(raw) / float64(m.UnityRaw)
}

// VolumeToRaw encodes a volume scalar into the raw domain, clamping to
// [0, Ceiling] and rounding to the nearest raw step.
func (m Mapper) VolumeToRaw(scalar float64) int {
	if scalar < 0 {
		scalar = 0
	}
	if scalar > m.Ceiling {
		scalar = m.Ceiling
	}
	raw := int(math.Round(scalar * float64(m.UnityRaw)))
	if raw < m.MinRaw {
		raw = m.MinRaw
	}
	if raw > m.MaxRaw {
		raw = m.MaxRaw
	}
	return raw
}

// PanFromRaw decodes a raw pan into [-1, 1], 0 = center. The mapping is
// symmetric around 0 even when the raw endpoints are asymmetric.
func (m Mapper) PanFromRaw(raw int) float64 {
	switch {
	case raw < 0:
		if raw < m.PanLeftRaw {
			raw = m.PanLeftRaw
		}
		return -float64(raw) / float64(m.PanLeftRaw)
	case raw > 0:
		if raw > m.PanRightRaw {
			raw = m.PanRightRaw
		}
		return float64(raw) / float64(m.PanRightRaw)
	default:
		return 0
	}
}

// PanToRaw encodes a pan scalar in [-1, 1] into the raw domain.
// -1 maps to PanLeftRaw exactly, 0 to 0, +1 to PanRightRaw.
func (m Mapper) PanToRaw(scalar float64) int {
	if scalar < -1 {
		scalar = -1
	}
	if scalar > 1 {
		scalar = 1
	}
	if scalar < 0 {
		return int(math.Round(-scalar * float64(m.PanLeftRaw)))
	}
	return int(math.Round(scalar * float64(m.PanRightRaw)))
}

// EQGainFromRaw decodes tenths-of-a-dB into dB, clamped to ±12.
func (m Mapper) EQGainFromRaw(raw int) float64 {
	if raw < EQMinRaw {
		raw = EQMinRaw
	}
	if raw > EQMaxRaw {
		raw = EQMaxRaw
	}
	return float64(raw) / 10.0
}

// EQGainToRaw encodes a dB gain into tenths-of-a-dB, clamped to ±120.
func (m Mapper) EQGainToRaw(gainDB float64) int {
	if gainDB < EQMinGainDB {
		gainDB = EQMinGainDB
	}
	if gainDB > EQMaxGainDB {
		gainDB = EQMaxGainDB
	}
	return int(math.Round(gainDB * 10.0))
}
