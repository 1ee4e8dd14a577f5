// Package testutil provides an in-memory device registry and helpers
// for exercising the engine and controller without real audio
// hardware.
package testutil

import (
	"fmt"
	"sync"

	"github.com/shaban/mixbus/devices"
)

// FakeRegistry implements devices.Registry entirely in memory. Tests
// drive the audio path by calling TriggerCapture and TriggerRender to
// invoke the registered callbacks directly.
type FakeRegistry struct {
	mu sync.Mutex

	DeviceList    devices.Devices
	DefaultOutUID string
	Formats       map[string]devices.Format
	Properties    map[string][]byte

	// Failure injection
	FailStreamFormat  bool
	FailCreateCapture bool
	FailCreateRender  bool
	FailCaptureStart  bool
	FailRenderStart   bool
	FailSetProperty   bool

	captureProcs []*FakeIOProc
	renderProcs  []*FakeIOProc
}

// NewFakeRegistry returns a registry with one virtual source and one
// output device, both stereo 48 kHz.
func NewFakeRegistry() *FakeRegistry {
	format := devices.Format{SampleRate: 48000, Channels: 2}
	return &FakeRegistry{
		DeviceList: devices.Devices{
			{UID: "virtual-source", Name: "Virtual Source", MaxInputChannels: 2, IsOnline: true, DefaultSampleRate: 48000},
			{UID: "output", Name: "Output", MaxOutputChannels: 2, IsOnline: true, IsDefaultOutput: true, DefaultSampleRate: 48000},
		},
		DefaultOutUID: "output",
		Formats: map[string]devices.Format{
			"virtual-source": format,
			"output":         format,
		},
		Properties: make(map[string][]byte),
	}
}

// FakeIOProc records lifecycle transitions and exposes the callback so
// tests can pump samples through it.
type FakeIOProc struct {
	UID             string
	FramesPerBuffer int
	Capture         devices.CaptureProc
	Render          devices.RenderProc

	mu        sync.Mutex
	failStart bool
	Started   bool
	Stopped   bool
	Destroyed bool
}

func (p *FakeIOProc) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failStart {
		return fmt.Errorf("injected start failure")
	}
	p.Started = true
	p.Stopped = false
	return nil
}

func (p *FakeIOProc) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Started = false
	p.Stopped = true
	return nil
}

func (p *FakeIOProc) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Destroyed = true
	return nil
}

// IsStarted reports whether the proc is currently running.
func (p *FakeIOProc) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Started
}

func (r *FakeRegistry) Devices() (devices.Devices, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(devices.Devices, len(r.DeviceList))
	copy(out, r.DeviceList)
	return out, nil
}

func (r *FakeRegistry) DefaultOutput() (devices.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d := r.DeviceList.ByUID(r.DefaultOutUID); d != nil {
		return *d, nil
	}
	return devices.Device{}, devices.ErrDeviceNotFound
}

func (r *FakeRegistry) SetDefaultOutput(uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.DeviceList.ByUID(uid) == nil {
		return devices.ErrDeviceNotFound
	}
	r.DefaultOutUID = uid
	return nil
}

func (r *FakeRegistry) StreamFormat(uid string) (devices.Format, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailStreamFormat {
		return devices.Format{}, devices.ErrFormatNegotiationFailed
	}
	f, ok := r.Formats[uid]
	if !ok {
		return devices.Format{}, devices.ErrDeviceNotFound
	}
	return f, nil
}

func (r *FakeRegistry) GetProperty(uid, name string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.Properties[uid+"/"+name]
	if !ok {
		return nil, devices.ErrPropertyNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (r *FakeRegistry) SetProperty(uid, name string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailSetProperty {
		return fmt.Errorf("injected property failure")
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	r.Properties[uid+"/"+name] = stored
	return nil
}

func (r *FakeRegistry) CreateCaptureProc(uid string, framesPerBuffer int, proc devices.CaptureProc) (devices.IOProc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailCreateCapture {
		return nil, devices.ErrIOProcRegistrationFailed
	}
	p := &FakeIOProc{
		UID:             uid,
		FramesPerBuffer: framesPerBuffer,
		Capture:         proc,
		failStart:       r.FailCaptureStart,
	}
	r.captureProcs = append(r.captureProcs, p)
	return p, nil
}

func (r *FakeRegistry) CreateRenderProc(uid string, framesPerBuffer int, proc devices.RenderProc) (devices.IOProc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailCreateRender {
		return nil, devices.ErrIOProcRegistrationFailed
	}
	p := &FakeIOProc{
		UID:             uid,
		FramesPerBuffer: framesPerBuffer,
		Render:          proc,
		failStart:       r.FailRenderStart,
	}
	r.renderProcs = append(r.renderProcs, p)
	return p, nil
}

// CaptureProcs returns all capture procs created so far.
func (r *FakeRegistry) CaptureProcs() []*FakeIOProc {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*FakeIOProc, len(r.captureProcs))
	copy(out, r.captureProcs)
	return out
}

// RenderProcs returns all render procs created so far.
func (r *FakeRegistry) RenderProcs() []*FakeIOProc {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*FakeIOProc, len(r.renderProcs))
	copy(out, r.renderProcs)
	return out
}

// TriggerCapture feeds samples through the most recent capture proc.
func (r *FakeRegistry) TriggerCapture(samples []float32) error {
	r.mu.Lock()
	var p *FakeIOProc
	if n := len(r.captureProcs); n > 0 {
		p = r.captureProcs[n-1]
	}
	r.mu.Unlock()
	if p == nil || p.Capture == nil {
		return fmt.Errorf("no capture proc registered")
	}
	p.Capture(samples)
	return nil
}

// TriggerRender pulls one buffer through the most recent render proc.
func (r *FakeRegistry) TriggerRender(out []float32) error {
	r.mu.Lock()
	var p *FakeIOProc
	if n := len(r.renderProcs); n > 0 {
		p = r.renderProcs[n-1]
	}
	r.mu.Unlock()
	if p == nil || p.Render == nil {
		return fmt.Errorf("no render proc registered")
	}
	p.Render(out)
	return nil
}
