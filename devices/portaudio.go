package devices

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioRegistry implements Registry on top of PortAudio.
//
// PortAudio exposes no stable device UID, so device names double as
// UIDs. It also has no per-device property store, so the named custom
// properties (the control-protocol surface a virtual driver would
// expose) are kept in an in-process store keyed by device UID.
type PortAudioRegistry struct {
	mu     sync.Mutex
	props  map[string]map[string][]byte
	defOut string // overrides the host default output when set
	closed bool
}

// NewPortAudioRegistry initializes PortAudio and returns a registry.
// Callers must Close it to release the host API.
func NewPortAudioRegistry() (*PortAudioRegistry, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return &PortAudioRegistry{
		props: make(map[string]map[string][]byte),
	}, nil
}

// Close terminates the PortAudio host API. The registry is unusable
// afterwards.
func (r *PortAudioRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return portaudio.Terminate()
}

// Devices enumerates all host devices.
func (r *PortAudioRegistry) Devices() (Devices, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	defaultIn, _ := portaudio.DefaultInputDevice()
	defaultOut, _ := portaudio.DefaultOutputDevice()

	result := make(Devices, 0, len(infos))
	for _, info := range infos {
		result = append(result, Device{
			Name:              info.Name,
			UID:               info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			IsDefaultInput:    info == defaultIn,
			IsDefaultOutput:   info == defaultOut,
			IsOnline:          true,
		})
	}
	return result, nil
}

// DefaultOutput returns the selected output device, falling back to the
// host default.
func (r *PortAudioRegistry) DefaultOutput() (Device, error) {
	r.mu.Lock()
	uid := r.defOut
	r.mu.Unlock()

	all, err := r.Devices()
	if err != nil {
		return Device{}, err
	}
	if uid != "" {
		if d := all.ByUID(uid); d != nil {
			return *d, nil
		}
		return Device{}, fmt.Errorf("default output %q: %w", uid, ErrDeviceNotFound)
	}
	for _, d := range all {
		if d.IsDefaultOutput {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("no default output: %w", ErrDeviceNotFound)
}

// SetDefaultOutput selects the output device returned by DefaultOutput.
// PortAudio cannot change the host's own default, so the selection is
// registry-local.
func (r *PortAudioRegistry) SetDefaultOutput(uid string) error {
	all, err := r.Devices()
	if err != nil {
		return err
	}
	d := all.ByUID(uid)
	if d == nil {
		return fmt.Errorf("set default output %q: %w", uid, ErrDeviceNotFound)
	}
	if !d.CanOutput() {
		return fmt.Errorf("set default output %q: device has no output channels: %w", uid, ErrPropertySetFailed)
	}
	r.mu.Lock()
	r.defOut = uid
	r.mu.Unlock()
	return nil
}

// StreamFormat returns the device's preferred stream format, clamped to
// stereo.
func (r *PortAudioRegistry) StreamFormat(uid string) (Format, error) {
	all, err := r.Devices()
	if err != nil {
		return Format{}, fmt.Errorf("%w: %v", ErrFormatNegotiationFailed, err)
	}
	d := all.ByUID(uid)
	if d == nil {
		return Format{}, fmt.Errorf("stream format for %q: %w", uid, ErrDeviceNotFound)
	}
	channels := d.MaxInputChannels
	if channels == 0 {
		channels = d.MaxOutputChannels
	}
	if channels > 2 {
		channels = 2
	}
	if channels == 0 || d.DefaultSampleRate <= 0 {
		return Format{}, fmt.Errorf("device %q reports no usable format: %w", uid, ErrFormatNegotiationFailed)
	}
	return Format{SampleRate: d.DefaultSampleRate, Channels: channels}, nil
}

// GetProperty reads a named custom property previously set on a device.
func (r *PortAudioRegistry) GetProperty(uid, name string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	value, ok := r.props[uid][name]
	if !ok {
		return nil, fmt.Errorf("property %q on %q: %w", name, uid, ErrPropertyNotFound)
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// SetProperty writes a named custom property on a device.
func (r *PortAudioRegistry) SetProperty(uid, name string, value []byte) error {
	if name == "" {
		return fmt.Errorf("empty property name: %w", ErrPropertySetFailed)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.props[uid] == nil {
		r.props[uid] = make(map[string][]byte)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	r.props[uid][name] = stored
	return nil
}

// CreateCaptureProc registers a capture callback on the named device.
func (r *PortAudioRegistry) CreateCaptureProc(uid string, framesPerBuffer int, proc CaptureProc) (IOProc, error) {
	info, err := r.deviceInfo(uid)
	if err != nil {
		return nil, err
	}
	channels := info.MaxInputChannels
	if channels > 2 {
		channels = 2
	}
	if channels == 0 {
		return nil, fmt.Errorf("device %q has no input channels: %w", uid, ErrIOProcRegistrationFailed)
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      info.DefaultSampleRate,
		FramesPerBuffer: framesPerBuffer,
	}, func(in []float32) {
		proc(in)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open capture stream on %q: %v", ErrIOProcRegistrationFailed, uid, err)
	}
	return &paIOProc{stream: stream}, nil
}

// CreateRenderProc registers a render callback on the named device.
func (r *PortAudioRegistry) CreateRenderProc(uid string, framesPerBuffer int, proc RenderProc) (IOProc, error) {
	info, err := r.deviceInfo(uid)
	if err != nil {
		return nil, err
	}
	channels := info.MaxOutputChannels
	if channels > 2 {
		channels = 2
	}
	if channels == 0 {
		return nil, fmt.Errorf("device %q has no output channels: %w", uid, ErrIOProcRegistrationFailed)
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: channels,
			Latency:  info.DefaultLowOutputLatency,
		},
		SampleRate:      info.DefaultSampleRate,
		FramesPerBuffer: framesPerBuffer,
	}, func(out []float32) {
		proc(out)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open render stream on %q: %v", ErrIOProcRegistrationFailed, uid, err)
	}
	return &paIOProc{stream: stream}, nil
}

func (r *PortAudioRegistry) deviceInfo(uid string) (*portaudio.DeviceInfo, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	for _, info := range infos {
		if info.Name == uid {
			return info, nil
		}
	}
	return nil, fmt.Errorf("device %q: %w", uid, ErrDeviceNotFound)
}

// paIOProc wraps a PortAudio stream as an IOProc registration.
type paIOProc struct {
	mu        sync.Mutex
	stream    *portaudio.Stream
	started   bool
	destroyed bool
}

func (p *paIOProc) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return fmt.Errorf("start destroyed io proc: %w", ErrIOStartFailed)
	}
	if p.started {
		return nil
	}
	if err := p.stream.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrIOStartFailed, err)
	}
	p.started = true
	return nil
}

func (p *paIOProc) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.destroyed {
		return nil
	}
	p.started = false
	// Stop blocks until in-flight callbacks complete; no further
	// invocation happens after it returns.
	return p.stream.Stop()
}

func (p *paIOProc) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return nil
	}
	if p.started {
		p.started = false
		if err := p.stream.Stop(); err != nil {
			return err
		}
	}
	p.destroyed = true
	return p.stream.Close()
}
