// Package devices provides audio device discovery, format negotiation
// and real-time I/O callback registration for the mixbus engine.
//
// The Registry interface is the only device surface the engine and
// control layer consume; the PortAudio-backed implementation lives in
// portaudio.go and a deterministic fake for tests lives in
// internal/testutil.
package devices

import "errors"

// Error taxonomy for device and property operations. Callers classify
// with errors.Is; implementations wrap these with context.
var (
	ErrDeviceNotFound           = errors.New("devices: device not found")
	ErrFormatNegotiationFailed  = errors.New("devices: format negotiation failed")
	ErrIOProcRegistrationFailed = errors.New("devices: io proc registration failed")
	ErrIOStartFailed            = errors.New("devices: io start failed")
	ErrPropertySetFailed        = errors.New("devices: property set failed")
	ErrPropertyNotFound         = errors.New("devices: property not found")
)

// Format is a negotiated stream format.
type Format struct {
	SampleRate float64 `json:"sampleRate"`
	Channels   int     `json:"channels"`
}

// Device describes one audio endpoint known to a Registry.
type Device struct {
	Name              string  `json:"name"`
	UID               string  `json:"uid"`
	MaxInputChannels  int     `json:"maxInputChannels"`
	MaxOutputChannels int     `json:"maxOutputChannels"`
	DefaultSampleRate float64 `json:"defaultSampleRate"`
	IsDefaultInput    bool    `json:"isDefaultInput"`
	IsDefaultOutput   bool    `json:"isDefaultOutput"`
	IsOnline          bool    `json:"isOnline"`
}

// Helper methods for capability checking
func (d Device) CanInput() bool {
	return d.MaxInputChannels > 0
}

func (d Device) CanOutput() bool {
	return d.MaxOutputChannels > 0
}

// Devices represents a slice of Device with filter methods
type Devices []Device

// Inputs returns only devices that can capture audio
func (ds Devices) Inputs() Devices {
	var inputs Devices
	for _, device := range ds {
		if device.CanInput() {
			inputs = append(inputs, device)
		}
	}
	return inputs
}

// Outputs returns only devices that can play audio
func (ds Devices) Outputs() Devices {
	var outputs Devices
	for _, device := range ds {
		if device.CanOutput() {
			outputs = append(outputs, device)
		}
	}
	return outputs
}

// Online returns only devices that are currently online/connected
func (ds Devices) Online() Devices {
	var online Devices
	for _, device := range ds {
		if device.IsOnline {
			online = append(online, device)
		}
	}
	return online
}

// ByUID returns the device with the given UID, or nil.
func (ds Devices) ByUID(uid string) *Device {
	for i := range ds {
		if ds[i].UID == uid {
			return &ds[i]
		}
	}
	return nil
}

// CaptureProc receives interleaved float32 samples delivered by a
// capture device at its own cadence. It runs on a real-time thread and
// must complete in bounded time without blocking or allocating.
type CaptureProc func(samples []float32)

// RenderProc fills out with interleaved float32 samples requested by a
// render device. Same real-time constraints as CaptureProc.
type RenderProc func(out []float32)

// IOProc is a registered I/O callback on a device. The registration
// context keeps a stable address for the lifetime of the proc; Destroy
// releases it only after the platform confirms no further invocation.
type IOProc interface {
	Start() error
	Stop() error
	Destroy() error
}

// Registry is the device discovery and callback registration surface.
//
// GetProperty/SetProperty address the named custom properties a device
// exposes to the control protocol (appVolumes, appRouting, appEQ,
// clientList).
type Registry interface {
	Devices() (Devices, error)
	DefaultOutput() (Device, error)
	SetDefaultOutput(uid string) error
	StreamFormat(uid string) (Format, error)

	GetProperty(uid, name string) ([]byte, error)
	SetProperty(uid, name string, value []byte) error

	CreateCaptureProc(uid string, framesPerBuffer int, proc CaptureProc) (IOProc, error)
	CreateRenderProc(uid string, framesPerBuffer int, proc RenderProc) (IOProc, error)
}
