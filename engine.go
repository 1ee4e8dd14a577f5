package mixbus

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shaban/mixbus/devices"
	"github.com/shaban/mixbus/dsp"
)

const (
	defaultRingBufferMillis = 100
	defaultFramesPerBuffer  = 512

	// volumeUnityWindow: a system volume this close to 1.0 skips the
	// per-sample multiply.
	volumeUnityWindow = 1e-4

	// renderLogInterval samples the render diagnostics once every N
	// callbacks; the steady-state path itself never logs.
	renderLogInterval = 1024
)

// RecordingSink receives fully processed render-path buffers when
// recording is active. WriteSamples is invoked on the render thread
// and must not block, allocate, or log.
type RecordingSink interface {
	WriteSamples(samples []float32, frames int)
}

// EngineConfig holds configuration for PassthroughEngine construction.
type EngineConfig struct {
	Registry         devices.Registry
	RingBufferMillis int        // ring capacity, default 100ms
	FramesPerBuffer  int        // callback granularity hint, default 512
	EQFrequencies    [3]float64 // low/mid/high band Hz, zero = defaults
	Logger           zerolog.Logger
	ErrorHandler     ErrorHandler
}

// PassthroughEngine moves audio from a virtual multi-client source
// endpoint to a physical output device. A running session owns one
// RingBuffer and one ThreeBandEQ, driven from two independently
// scheduled device callbacks: capture writes into the ring, render
// reads from it, equalizes in place, applies the system volume and
// tracks peak levels.
//
// Parameter setters (system volume, EQ gains) are plain atomic scalar
// writes consumed at the top of the next render callback; propagation
// delay of up to one callback cycle is expected.
type PassthroughEngine struct {
	id           uuid.UUID
	registry     devices.Registry
	log          zerolog.Logger
	errorHandler ErrorHandler
	ringMillis   int
	frames       int
	eqFreqs      [3]float64

	mu      sync.Mutex // guards session lifecycle
	session *passthroughSession

	systemVolume atomic.Uint64             // math.Float64bits, default 1.0
	eqGains      [dsp.NumBands]atomic.Int32 // tenths of a dB
	sink         atomic.Value               // sinkBox
}

// sinkBox wraps the recording sink so atomic.Value can hold "no sink".
type sinkBox struct {
	sink RecordingSink
}

// passthroughSession is the per-session context. Its address stays
// stable for the lifetime of the callback registrations and is freed
// only after both procs are confirmed destroyed.
type passthroughSession struct {
	id     uuid.UUID
	format devices.Format
	ring   *dsp.RingBuffer
	eq     *dsp.ThreeBandEQ

	captureProc devices.IOProc
	renderProc  devices.IOProc

	applied [dsp.NumBands]int32 // EQ gains last applied, tenths

	peaks       [2]atomic.Uint32 // math.Float32bits, max since reset
	renderCount atomic.Uint64
	underruns   atomic.Uint64
}

// NewPassthroughEngine creates a stopped engine bound to a registry.
func NewPassthroughEngine(config EngineConfig) (*PassthroughEngine, error) {
	if config.Registry == nil {
		return nil, fmt.Errorf("Registry is required in EngineConfig")
	}
	if config.RingBufferMillis <= 0 {
		config.RingBufferMillis = defaultRingBufferMillis
	}
	if config.FramesPerBuffer <= 0 {
		config.FramesPerBuffer = defaultFramesPerBuffer
	}
	if config.ErrorHandler == nil {
		config.ErrorHandler = NewLogErrorHandler(config.Logger)
	}

	e := &PassthroughEngine{
		id:           uuid.New(),
		registry:     config.Registry,
		log:          config.Logger,
		errorHandler: config.ErrorHandler,
		ringMillis:   config.RingBufferMillis,
		frames:       config.FramesPerBuffer,
		eqFreqs:      config.EQFrequencies,
	}
	e.systemVolume.Store(math.Float64bits(1.0))
	e.sink.Store(sinkBox{})
	return e, nil
}

// ID returns the engine's UUID.
func (e *PassthroughEngine) ID() uuid.UUID {
	return e.id
}

// IsRunning reports whether a passthrough session is active.
func (e *PassthroughEngine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session != nil
}

// Format returns the negotiated stream format of the running session.
func (e *PassthroughEngine) Format() (devices.Format, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return devices.Format{}, false
	}
	return e.session.format, true
}

// Start negotiates the source format, sizes the ring buffer, registers
// a capture proc on the source and a render proc on the destination,
// and starts capture then render. Any failure rolls back all partial
// state and reports a single error; no half-started session survives.
// Starting while already running is a no-op success.
func (e *PassthroughEngine) Start(sourceUID, destUID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		return nil
	}

	format, err := e.registry.StreamFormat(sourceUID)
	if err != nil {
		return fmt.Errorf("negotiate format for %s: %w", sourceUID, err)
	}
	if format.Channels > 2 {
		format.Channels = 2
	}
	if format.Channels < 1 || format.SampleRate <= 0 {
		return fmt.Errorf("negotiate format for %s: unusable format %+v: %w",
			sourceUID, format, devices.ErrFormatNegotiationFailed)
	}

	capacity := int(float64(e.ringMillis)/1000.0*format.SampleRate) * format.Channels
	s := &passthroughSession{
		id:     uuid.New(),
		format: format,
		ring:   dsp.NewRingBuffer(capacity),
		eq: dsp.NewThreeBandEQAt(format.SampleRate, format.Channels,
			e.eqFreqs[0], e.eqFreqs[1], e.eqFreqs[2]),
	}
	// Seed the EQ from the pending control values so a session picks
	// up gains set while stopped.
	for band := range s.applied {
		tenths := e.eqGains[band].Load()
		s.applied[band] = tenths
		s.eq.SetBandGain(band, float64(tenths)/10.0)
	}

	captureProc, err := e.registry.CreateCaptureProc(sourceUID, e.frames, s.capture)
	if err != nil {
		return fmt.Errorf("register capture proc on %s: %w", sourceUID, err)
	}
	renderProc, err := e.registry.CreateRenderProc(destUID, e.frames, func(out []float32) {
		e.render(s, out)
	})
	if err != nil {
		_ = captureProc.Destroy()
		return fmt.Errorf("register render proc on %s: %w", destUID, err)
	}
	if err := captureProc.Start(); err != nil {
		_ = captureProc.Destroy()
		_ = renderProc.Destroy()
		return fmt.Errorf("start capture on %s: %w", sourceUID, err)
	}
	if err := renderProc.Start(); err != nil {
		_ = captureProc.Stop()
		_ = captureProc.Destroy()
		_ = renderProc.Destroy()
		return fmt.Errorf("start render on %s: %w", destUID, err)
	}

	s.captureProc = captureProc
	s.renderProc = renderProc
	e.session = s

	e.log.Info().
		Str("session", s.id.String()).
		Str("source", sourceUID).
		Str("destination", destUID).
		Float64("sampleRate", format.SampleRate).
		Int("channels", format.Channels).
		Int("ringCapacity", capacity).
		Msg("passthrough started")
	return nil
}

// Stop deregisters both callbacks and tears down the session.
// Idempotent: stopping while stopped is a no-op.
func (e *PassthroughEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	if s == nil {
		return nil
	}

	// Reverse start order. The registry guarantees no further callback
	// invocation after Stop returns, so the session context can be
	// released afterwards.
	if err := s.renderProc.Stop(); err != nil {
		e.errorHandler.HandleError(fmt.Errorf("stop render proc: %w", err))
	}
	if err := s.captureProc.Stop(); err != nil {
		e.errorHandler.HandleError(fmt.Errorf("stop capture proc: %w", err))
	}
	if err := s.renderProc.Destroy(); err != nil {
		e.errorHandler.HandleError(fmt.Errorf("destroy render proc: %w", err))
	}
	if err := s.captureProc.Destroy(); err != nil {
		e.errorHandler.HandleError(fmt.Errorf("destroy capture proc: %w", err))
	}
	e.session = nil

	e.log.Info().
		Str("session", s.id.String()).
		Uint64("renders", s.renderCount.Load()).
		Uint64("underruns", s.underruns.Load()).
		Msg("passthrough stopped")
	return nil
}

// SetSystemVolume sets the scalar applied to the processed render
// buffer. Values within the unity window skip the multiply entirely.
func (e *PassthroughEngine) SetSystemVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	e.systemVolume.Store(math.Float64bits(volume))
}

// SystemVolume returns the current system volume scalar.
func (e *PassthroughEngine) SystemVolume() float64 {
	return math.Float64frombits(e.systemVolume.Load())
}

// SetEQLowGain sets the low-shelf gain in dB, clamped to ±12. Consumed
// at the top of the next render callback.
func (e *PassthroughEngine) SetEQLowGain(gainDB float64) {
	e.setEQGain(dsp.BandLow, gainDB)
}

// SetEQMidGain sets the mid-peak gain in dB, clamped to ±12.
func (e *PassthroughEngine) SetEQMidGain(gainDB float64) {
	e.setEQGain(dsp.BandMid, gainDB)
}

// SetEQHighGain sets the high-shelf gain in dB, clamped to ±12.
func (e *PassthroughEngine) SetEQHighGain(gainDB float64) {
	e.setEQGain(dsp.BandHigh, gainDB)
}

// SetEQBandGain sets one band's gain in dB by index.
func (e *PassthroughEngine) SetEQBandGain(band int, gainDB float64) {
	e.setEQGain(band, gainDB)
}

func (e *PassthroughEngine) setEQGain(band int, gainDB float64) {
	if band < 0 || band >= dsp.NumBands {
		return
	}
	if gainDB < dsp.MinGainDB {
		gainDB = dsp.MinGainDB
	}
	if gainDB > dsp.MaxGainDB {
		gainDB = dsp.MaxGainDB
	}
	e.eqGains[band].Store(int32(math.Round(gainDB * 10)))
}

// SetRecordingSink installs (or, with nil, removes) the recording sink
// that receives fully processed render buffers.
func (e *PassthroughEngine) SetRecordingSink(sink RecordingSink) {
	e.sink.Store(sinkBox{sink: sink})
}

// GetPeakLevelsAndReset returns the per-channel peak absolute sample
// value observed since the previous call, then resets the accumulators.
func (e *PassthroughEngine) GetPeakLevelsAndReset() [2]float32 {
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()

	var peaks [2]float32
	if s == nil {
		return peaks
	}
	for ch := range s.peaks {
		peaks[ch] = math.Float32frombits(s.peaks[ch].Swap(0))
	}
	return peaks
}

// Underruns reports how many render callbacks found fewer samples than
// requested in the running session. Diagnostic only.
func (e *PassthroughEngine) Underruns() uint64 {
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()
	if s == nil {
		return 0
	}
	return s.underruns.Load()
}

// capture runs on the source device's real-time thread. A malformed
// invocation degrades to a dropped cycle, never a crash.
func (s *passthroughSession) capture(in []float32) {
	if len(in) == 0 {
		return
	}
	s.ring.Write(in)
}

// render runs on the destination device's real-time thread: drain the
// ring (silence on underrun), equalize in place, apply the system
// volume, track peaks, and hand the processed buffer to the recording
// sink when one is installed.
func (e *PassthroughEngine) render(s *passthroughSession, out []float32) {
	if len(out) == 0 {
		return
	}

	// Consume pending control-plane parameter writes.
	for band := range s.applied {
		tenths := e.eqGains[band].Load()
		if tenths != s.applied[band] {
			s.applied[band] = tenths
			s.eq.SetBandGain(band, float64(tenths)/10.0)
		}
	}

	read := s.ring.Read(out)
	if read < len(out) {
		s.underruns.Add(1)
	}

	s.eq.Process(out)

	volume := math.Float64frombits(e.systemVolume.Load())
	if math.Abs(volume-1.0) >= volumeUnityWindow {
		v := float32(volume)
		for i := range out {
			out[i] *= v
		}
	}

	s.trackPeaks(out)

	if box, ok := e.sink.Load().(sinkBox); ok && box.sink != nil {
		box.sink.WriteSamples(out, len(out)/s.format.Channels)
	}

	if count := s.renderCount.Add(1); count%renderLogInterval == 0 {
		// Sampled diagnostics; cheap enough for the exception the
		// steady-state path allows.
		e.log.Debug().
			Uint64("renders", count).
			Uint64("underruns", s.underruns.Load()).
			Int("available", s.ring.AvailableToRead()).
			Msg("render diagnostics")
	}
}

// trackPeaks folds the buffer into the per-channel rolling peak
// accumulators with a lock-free CAS max. The bit patterns of
// non-negative float32 values order the same as the values themselves.
func (s *passthroughSession) trackPeaks(out []float32) {
	channels := s.format.Channels
	ch := 0
	for _, sample := range out {
		abs := sample
		if abs < 0 {
			abs = -abs
		}
		bits := math.Float32bits(abs)
		for {
			old := s.peaks[ch].Load()
			if bits <= old || s.peaks[ch].CompareAndSwap(old, bits) {
				break
			}
		}
		ch++
		if ch == channels {
			ch = 0
		}
	}
}
