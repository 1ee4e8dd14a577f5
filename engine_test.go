package mixbus

import (
	"math"
	"testing"

	"github.com/shaban/mixbus/internal/testutil"
)

func newTestEngine(t *testing.T, reg *testutil.FakeRegistry) *PassthroughEngine {
	t.Helper()
	engine, err := NewPassthroughEngine(EngineConfig{
		Registry:     reg,
		ErrorHandler: &PanicErrorHandler{},
	})
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	return engine
}

func TestEngineRequiresRegistry(t *testing.T) {
	if _, err := NewPassthroughEngine(EngineConfig{}); err == nil {
		t.Fatal("expected error without registry")
	}
}

func TestEngineStartStop(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	engine := newTestEngine(t, reg)

	if engine.IsRunning() {
		t.Fatal("engine running before Start")
	}
	if err := engine.Start("virtual-source", "output"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !engine.IsRunning() {
		t.Fatal("engine not running after Start")
	}

	format, ok := engine.Format()
	if !ok || format.SampleRate != 48000 || format.Channels != 2 {
		t.Fatalf("unexpected format %+v", format)
	}

	captures := reg.CaptureProcs()
	renders := reg.RenderProcs()
	if len(captures) != 1 || len(renders) != 1 {
		t.Fatalf("procs created: %d capture, %d render", len(captures), len(renders))
	}
	if !captures[0].IsStarted() || !renders[0].IsStarted() {
		t.Fatal("procs not started")
	}

	if err := engine.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if engine.IsRunning() {
		t.Fatal("engine still running after Stop")
	}
	if !captures[0].Destroyed || !renders[0].Destroyed {
		t.Fatal("procs not destroyed on Stop")
	}
}

func TestEngineStartWhileRunningIsNoOp(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	engine := newTestEngine(t, reg)

	if err := engine.Start("virtual-source", "output"); err != nil {
		t.Fatal(err)
	}
	if err := engine.Start("virtual-source", "output"); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if len(reg.CaptureProcs()) != 1 {
		t.Fatalf("second start created procs: %d", len(reg.CaptureProcs()))
	}
}

func TestEngineStopWhileStoppedIsNoOp(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	engine := newTestEngine(t, reg)
	if err := engine.Stop(); err != nil {
		t.Fatalf("stop while stopped: %v", err)
	}
}

func TestEngineStartFormatFailure(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.FailStreamFormat = true
	engine := newTestEngine(t, reg)

	if err := engine.Start("virtual-source", "output"); err == nil {
		t.Fatal("expected format negotiation failure")
	}
	if engine.IsRunning() {
		t.Fatal("engine running after failed start")
	}
}

func TestEngineStartRenderProcFailureRollsBack(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.FailCreateRender = true
	engine := newTestEngine(t, reg)

	if err := engine.Start("virtual-source", "output"); err == nil {
		t.Fatal("expected render proc registration failure")
	}
	captures := reg.CaptureProcs()
	if len(captures) != 1 || !captures[0].Destroyed {
		t.Fatal("capture proc not destroyed on rollback")
	}
	if engine.IsRunning() {
		t.Fatal("engine running after failed start")
	}
}

func TestEngineStartCaptureStartFailureRollsBack(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.FailCaptureStart = true
	engine := newTestEngine(t, reg)

	if err := engine.Start("virtual-source", "output"); err == nil {
		t.Fatal("expected capture start failure")
	}
	if !reg.CaptureProcs()[0].Destroyed || !reg.RenderProcs()[0].Destroyed {
		t.Fatal("procs not destroyed on rollback")
	}
}

func TestEngineStartRenderStartFailureRollsBack(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	reg.FailRenderStart = true
	engine := newTestEngine(t, reg)

	if err := engine.Start("virtual-source", "output"); err == nil {
		t.Fatal("expected render start failure")
	}
	capture := reg.CaptureProcs()[0]
	if !capture.Stopped || !capture.Destroyed {
		t.Fatal("capture proc not stopped and destroyed on rollback")
	}
	if !reg.RenderProcs()[0].Destroyed {
		t.Fatal("render proc not destroyed on rollback")
	}
}

// Samples written by the capture callback come back out of the render
// callback unchanged when volume is unity and the EQ is flat.
func TestEnginePassthroughIntegrity(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	engine := newTestEngine(t, reg)
	if err := engine.Start("virtual-source", "output"); err != nil {
		t.Fatal(err)
	}

	in := make([]float32, 64)
	for i := range in {
		in[i] = float32(i) / 64
	}
	if err := reg.TriggerCapture(in); err != nil {
		t.Fatal(err)
	}

	out := make([]float32, 64)
	if err := reg.TriggerRender(out); err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if diff := math.Abs(float64(out[i] - in[i])); diff > 1e-5 {
			t.Fatalf("sample %d: got %f, want %f", i, out[i], in[i])
		}
	}
	if engine.Underruns() != 0 {
		t.Errorf("unexpected underruns: %d", engine.Underruns())
	}
}

// A render with no captured samples produces silence and counts one
// underrun.
func TestEngineUnderrunProducesSilence(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	engine := newTestEngine(t, reg)
	if err := engine.Start("virtual-source", "output"); err != nil {
		t.Fatal(err)
	}

	out := make([]float32, 32)
	for i := range out {
		out[i] = 99
	}
	if err := reg.TriggerRender(out); err != nil {
		t.Fatal(err)
	}
	for i, v := range out {
		if v != 0 {
			t.Fatalf("sample %d: expected silence, got %f", i, v)
		}
	}
	if engine.Underruns() != 1 {
		t.Errorf("underruns %d, want 1", engine.Underruns())
	}
}

func TestEngineSystemVolumeApplied(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	engine := newTestEngine(t, reg)
	if err := engine.Start("virtual-source", "output"); err != nil {
		t.Fatal(err)
	}

	engine.SetSystemVolume(0.5)
	if got := engine.SystemVolume(); got != 0.5 {
		t.Fatalf("system volume %f, want 0.5", got)
	}

	in := []float32{0.8, 0.8, 0.8, 0.8}
	if err := reg.TriggerCapture(in); err != nil {
		t.Fatal(err)
	}
	out := make([]float32, 4)
	if err := reg.TriggerRender(out); err != nil {
		t.Fatal(err)
	}
	for i := range out {
		if diff := math.Abs(float64(out[i] - 0.4)); diff > 1e-5 {
			t.Fatalf("sample %d: got %f, want 0.4", i, out[i])
		}
	}
}

func TestEngineNegativeVolumeClampsToZero(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	engine := newTestEngine(t, reg)
	engine.SetSystemVolume(-1.0)
	if got := engine.SystemVolume(); got != 0 {
		t.Fatalf("volume %f, want 0", got)
	}
}

// An EQ gain set between callbacks is consumed at the top of the next
// render and audibly changes the output.
func TestEngineEQGainConsumedNextRender(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	engine := newTestEngine(t, reg)
	if err := engine.Start("virtual-source", "output"); err != nil {
		t.Fatal(err)
	}

	signal := make([]float32, 256)
	for i := range signal {
		signal[i] = float32(0.5 * math.Sin(2*math.Pi*100*float64(i/2)/48000))
	}

	// Flat pass first.
	if err := reg.TriggerCapture(signal); err != nil {
		t.Fatal(err)
	}
	flat := make([]float32, 256)
	if err := reg.TriggerRender(flat); err != nil {
		t.Fatal(err)
	}

	engine.SetEQLowGain(12.0)

	if err := reg.TriggerCapture(signal); err != nil {
		t.Fatal(err)
	}
	boosted := make([]float32, 256)
	if err := reg.TriggerRender(boosted); err != nil {
		t.Fatal(err)
	}

	changed := false
	for i := range boosted {
		if math.Abs(float64(boosted[i]-flat[i])) > 1e-4 {
			changed = true
			break
		}
	}
	if !changed {
		t.Fatal("low shelf boost had no effect on render output")
	}
}

// EQ gains set while stopped seed the next session.
func TestEngineEQGainSeedsNewSession(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	engine := newTestEngine(t, reg)
	engine.SetEQLowGain(12.0)

	if err := engine.Start("virtual-source", "output"); err != nil {
		t.Fatal(err)
	}

	signal := make([]float32, 256)
	for i := range signal {
		signal[i] = float32(0.5 * math.Sin(2*math.Pi*100*float64(i/2)/48000))
	}
	if err := reg.TriggerCapture(signal); err != nil {
		t.Fatal(err)
	}
	out := make([]float32, 256)
	if err := reg.TriggerRender(out); err != nil {
		t.Fatal(err)
	}

	changed := false
	for i := range out {
		if math.Abs(float64(out[i]-signal[i])) > 1e-4 {
			changed = true
			break
		}
	}
	if !changed {
		t.Fatal("pre-start EQ gain not applied to new session")
	}
}

func TestEnginePeakLevelsAndReset(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	engine := newTestEngine(t, reg)
	if err := engine.Start("virtual-source", "output"); err != nil {
		t.Fatal(err)
	}

	// Interleaved stereo: left peaks at 0.9, right at -0.6.
	in := []float32{0.1, 0.2, 0.9, -0.6, -0.3, 0.1}
	if err := reg.TriggerCapture(in); err != nil {
		t.Fatal(err)
	}
	out := make([]float32, 6)
	if err := reg.TriggerRender(out); err != nil {
		t.Fatal(err)
	}

	peaks := engine.GetPeakLevelsAndReset()
	if diff := math.Abs(float64(peaks[0] - 0.9)); diff > 1e-5 {
		t.Errorf("left peak %f, want 0.9", peaks[0])
	}
	if diff := math.Abs(float64(peaks[1] - 0.6)); diff > 1e-5 {
		t.Errorf("right peak %f, want 0.6", peaks[1])
	}

	// Second read reports the reset accumulators.
	peaks = engine.GetPeakLevelsAndReset()
	if peaks[0] != 0 || peaks[1] != 0 {
		t.Errorf("peaks not reset: %v", peaks)
	}
}

type captureSink struct {
	samples []float32
	frames  int
}

func (s *captureSink) WriteSamples(samples []float32, frames int) {
	s.samples = append(s.samples[:0], samples...)
	s.frames = frames
}

func TestEngineRecordingSink(t *testing.T) {
	reg := testutil.NewFakeRegistry()
	engine := newTestEngine(t, reg)
	if err := engine.Start("virtual-source", "output"); err != nil {
		t.Fatal(err)
	}

	sink := &captureSink{}
	engine.SetRecordingSink(sink)

	in := []float32{0.5, 0.5, 0.5, 0.5}
	if err := reg.TriggerCapture(in); err != nil {
		t.Fatal(err)
	}
	out := make([]float32, 4)
	if err := reg.TriggerRender(out); err != nil {
		t.Fatal(err)
	}

	if sink.frames != 2 {
		t.Errorf("sink frames %d, want 2", sink.frames)
	}
	if len(sink.samples) != 4 {
		t.Fatalf("sink samples %d, want 4", len(sink.samples))
	}

	// Removing the sink stops delivery.
	engine.SetRecordingSink(nil)
	sink.frames = 0
	if err := reg.TriggerRender(out); err != nil {
		t.Fatal(err)
	}
	if sink.frames != 0 {
		t.Error("sink still receiving after removal")
	}
}
