package mixbus

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shaban/mixbus/devices"
	"github.com/shaban/mixbus/gain"
)

// ControllerConfig holds configuration for Controller construction.
type ControllerConfig struct {
	Registry devices.Registry

	// DeviceUID names the virtual multi-client source endpoint that
	// also carries the control-protocol properties.
	DeviceUID string

	// OutputUID names the physical output device; empty selects the
	// registry's default output at connect time.
	OutputUID string

	// Aliases maps a bundle key to dependent helper-process bundle
	// keys; a change to the main key fans out to all of them.
	Aliases map[string][]string

	Mapper           gain.Mapper // zero value selects gain.DefaultMapper
	RingBufferMillis int
	FramesPerBuffer  int
	EQFrequencies    [3]float64
	Logger           zerolog.Logger
	ErrorHandler     ErrorHandler
}

// Controller owns the control plane: it validates and serializes
// volume/pan/EQ/route commands, converts them through the gain mapper,
// writes them to the device property surface, and only then commits
// them to the local routing graph — a failed property write leaves the
// local cache unchanged.
//
// A failed connect puts the controller into a terminal unavailable
// state: mutation requests become logged no-ops until a fresh Connect
// succeeds.
type Controller struct {
	registry     devices.Registry
	deviceUID    string
	outputUID    string
	aliases      map[string][]string
	mapper       gain.Mapper
	log          zerolog.Logger
	errorHandler ErrorHandler

	engine     *PassthroughEngine
	graph      *RoutingGraph
	dispatcher *Dispatcher

	mu          sync.RWMutex
	connected   bool
	unavailable bool
}

// NewController wires up a controller and starts its dispatcher. The
// audio path stays down until Connect.
func NewController(config ControllerConfig) (*Controller, error) {
	if config.Registry == nil {
		return nil, fmt.Errorf("Registry is required in ControllerConfig")
	}
	if config.DeviceUID == "" {
		return nil, fmt.Errorf("DeviceUID is required in ControllerConfig")
	}
	if config.Mapper == (gain.Mapper{}) {
		config.Mapper = gain.DefaultMapper()
	}
	if config.ErrorHandler == nil {
		config.ErrorHandler = NewLogErrorHandler(config.Logger)
	}

	engine, err := NewPassthroughEngine(EngineConfig{
		Registry:         config.Registry,
		RingBufferMillis: config.RingBufferMillis,
		FramesPerBuffer:  config.FramesPerBuffer,
		EQFrequencies:    config.EQFrequencies,
		Logger:           config.Logger,
		ErrorHandler:     config.ErrorHandler,
	})
	if err != nil {
		return nil, fmt.Errorf("create passthrough engine: %w", err)
	}

	c := &Controller{
		registry:     config.Registry,
		deviceUID:    config.DeviceUID,
		outputUID:    config.OutputUID,
		aliases:      config.Aliases,
		mapper:       config.Mapper,
		log:          config.Logger,
		errorHandler: config.ErrorHandler,
		engine:       engine,
	}
	c.graph = NewRoutingGraph(config.Mapper, GainSinkFunc(c.pushMasterGain), config.ErrorHandler)
	c.dispatcher = NewDispatcher(c)
	if err := c.dispatcher.Start(); err != nil {
		return nil, fmt.Errorf("start dispatcher: %w", err)
	}
	return c, nil
}

// Engine exposes the passthrough engine for metering and output EQ.
func (c *Controller) Engine() *PassthroughEngine {
	return c.engine
}

// Graph exposes the routing graph for read-side inspection.
func (c *Controller) Graph() *RoutingGraph {
	return c.graph
}

// Connect verifies the source endpoint, resolves the output device and
// starts the passthrough session. On failure the controller enters the
// unavailable state and stays there until a fresh Connect succeeds.
func (c *Controller) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	if err := c.connectLocked(); err != nil {
		c.unavailable = true
		c.log.Error().Err(err).Msg("connect failed; control surface unavailable")
		return err
	}
	c.unavailable = false
	c.connected = true
	return nil
}

func (c *Controller) connectLocked() error {
	all, err := c.registry.Devices()
	if err != nil {
		return fmt.Errorf("enumerate devices: %w", err)
	}
	if all.ByUID(c.deviceUID) == nil {
		return fmt.Errorf("source endpoint %q: %w", c.deviceUID, devices.ErrDeviceNotFound)
	}

	outputUID := c.outputUID
	if outputUID == "" {
		output, err := c.registry.DefaultOutput()
		if err != nil {
			return fmt.Errorf("resolve default output: %w", err)
		}
		outputUID = output.UID
	}

	return c.engine.Start(c.deviceUID, outputUID)
}

// Disconnect stops the passthrough session. Idempotent.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	c.connected = false
	return c.engine.Stop()
}

// Close disconnects and stops the control thread. The controller is
// unusable afterwards.
func (c *Controller) Close() error {
	err := c.Disconnect()
	if stopErr := c.dispatcher.Stop(); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}

// IsUnavailable reports whether the controller is in the terminal
// unavailable state after a failed connect.
func (c *Controller) IsUnavailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unavailable
}

// Control surface. Every mutation is serialized through the dispatcher;
// while unavailable each becomes a logged no-op.

// ManageClient starts managing an observed audio-producing client.
func (c *Controller) ManageClient(key string) error {
	return c.dispatch(OpAddClient, ClientData{Key: key})
}

// UnmanageClient stops managing a client and tears down its routes.
func (c *Controller) UnmanageClient(key string) error {
	return c.dispatch(OpRemoveClient, ClientData{Key: key})
}

// SetAppVolume sets a client's relative volume scalar (unity 1.0).
func (c *Controller) SetAppVolume(key string, volume float64) error {
	return c.dispatch(OpSetVolume, SetVolumeData{Key: key, Volume: volume})
}

// SetAppPan sets a client's pan position in [-1, 1].
func (c *Controller) SetAppPan(key string, pan float64) error {
	return c.dispatch(OpSetPan, SetPanData{Key: key, Pan: pan})
}

// SetAppMute sets a client's mute flag.
func (c *Controller) SetAppMute(key string, muted bool) error {
	return c.dispatch(OpSetMute, SetMuteData{Key: key, Muted: muted})
}

// SetAppSolo sets a client's solo flag.
func (c *Controller) SetAppSolo(key string, solo bool) error {
	return c.dispatch(OpSetSolo, SetSoloData{Key: key, Solo: solo})
}

// SetAppEQGain sets one of a client's EQ band gains in dB.
func (c *Controller) SetAppEQGain(key string, band int, gainDB float64) error {
	return c.dispatch(OpSetEQ, SetEQData{Key: key, Band: band, GainDB: gainDB})
}

// SetRoute enables or disables a directed send between clients.
func (c *Controller) SetRoute(source, dest string, channel int, enabled bool) error {
	return c.dispatch(OpSetRoute, SetRouteData{Source: source, Dest: dest, Channel: channel, Enabled: enabled})
}

// SetRouteGain adjusts an existing route's gain.
func (c *Controller) SetRouteGain(source, dest string, channel int, routeGain float64) error {
	return c.dispatch(OpSetRouteGain, SetRouteGainData{Source: source, Dest: dest, Channel: channel, Gain: routeGain})
}

// RemoveRoute removes a directed send between clients.
func (c *Controller) RemoveRoute(source, dest string, channel int) error {
	return c.dispatch(OpRemoveRoute, RemoveRouteData{Source: source, Dest: dest, Channel: channel})
}

// SetMasterVolume sets the master bus volume scalar.
func (c *Controller) SetMasterVolume(volume float64) error {
	return c.dispatch(OpSetMasterVolume, SetMasterVolumeData{Volume: volume})
}

// SetMasterMute mutes or unmutes the master bus.
func (c *Controller) SetMasterMute(muted bool) error {
	return c.dispatch(OpSetMasterMute, SetMasterMuteData{Muted: muted})
}

// SetOutputVolume sets the engine's system volume scalar. This is a
// render-path parameter, not protocol state, so it goes straight to
// the engine.
func (c *Controller) SetOutputVolume(volume float64) {
	c.engine.SetSystemVolume(volume)
}

// SetOutputEQGain sets one band of the output bus EQ in dB.
func (c *Controller) SetOutputEQGain(band int, gainDB float64) {
	c.engine.SetEQBandGain(band, gainDB)
}

// ClientList returns snapshots of every managed client.
func (c *Controller) ClientList() []ClientState {
	return c.graph.Clients()
}

func (c *Controller) dispatch(opType OperationType, data interface{}) error {
	c.mu.RLock()
	unavailable := c.unavailable
	c.mu.RUnlock()
	if unavailable {
		c.log.Warn().
			Str("operation", string(opType)).
			Msg("control surface unavailable; request ignored")
		return nil
	}
	return c.dispatcher.Do(opType, data)
}

// fanOut returns the key plus its dependent helper-process keys.
func (c *Controller) fanOut(key string) []string {
	keys := []string{key}
	return append(keys, c.aliases[key]...)
}

// pushMasterGain is the graph's device boundary: derived master-bus
// gains land on the property surface as volume records.
func (c *Controller) pushMasterGain(clientKey string, raw int) error {
	payload, err := EncodeVolumeRecord(VolumeRecord{
		BundleID:       clientKey,
		RelativeVolume: &raw,
	})
	if err != nil {
		return err
	}
	if err := c.registry.SetProperty(c.deviceUID, PropertyAppVolumes, payload); err != nil {
		return fmt.Errorf("%w: push %s for %s: %v",
			devices.ErrPropertySetFailed, PropertyAppVolumes, clientKey, err)
	}
	return nil
}

// Internal implementation methods (executed on the dispatcher thread).
// Each writes the property record first and commits the local graph
// only on success, so a failed write leaves no partial state behind.

func (c *Controller) applyAddClient(key string) error {
	c.graph.AddClient(key)
	c.publishClientList()
	return nil
}

func (c *Controller) applyRemoveClient(key string) error {
	c.graph.RemoveClient(key)
	c.publishClientList()
	return nil
}

func (c *Controller) applySetVolume(key string, volume float64) error {
	if !c.graph.HasClient(key) {
		return fmt.Errorf("client %s not managed", key)
	}
	raw := c.mapper.VolumeToRaw(volume)
	for _, k := range c.fanOut(key) {
		if err := c.writeProperty(PropertyAppVolumes, VolumeRecord{
			BundleID:       k,
			RelativeVolume: &raw,
		}); err != nil {
			return err
		}
	}
	for _, k := range c.fanOut(key) {
		if !c.graph.HasClient(k) {
			continue
		}
		if err := c.graph.SetVolume(k, c.mapper.VolumeFromRaw(raw)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) applySetPan(key string, pan float64) error {
	if !c.graph.HasClient(key) {
		return fmt.Errorf("client %s not managed", key)
	}
	raw := c.mapper.PanToRaw(pan)
	for _, k := range c.fanOut(key) {
		if err := c.writeProperty(PropertyAppVolumes, VolumeRecord{
			BundleID:    k,
			PanPosition: &raw,
		}); err != nil {
			return err
		}
	}
	for _, k := range c.fanOut(key) {
		if !c.graph.HasClient(k) {
			continue
		}
		if err := c.graph.SetPan(k, c.mapper.PanFromRaw(raw)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) applySetMute(key string, muted bool) error {
	if err := c.graph.SetMute(key, muted); err != nil {
		return err
	}
	c.publishClientList()
	return nil
}

func (c *Controller) applySetSolo(key string, solo bool) error {
	if err := c.graph.SetSolo(key, solo); err != nil {
		return err
	}
	c.publishClientList()
	return nil
}

func (c *Controller) applySetEQ(key string, band int, gainDB float64) error {
	if !c.graph.HasClient(key) {
		return fmt.Errorf("client %s not managed", key)
	}
	raw := c.mapper.EQGainToRaw(gainDB)
	record := EQRecord{BundleID: key}
	switch band {
	case 0:
		record.LowGain = &raw
	case 1:
		record.MidGain = &raw
	case 2:
		record.HighGain = &raw
	default:
		return fmt.Errorf("eq band %d out of range", band)
	}
	for _, k := range c.fanOut(key) {
		record.BundleID = k
		if err := c.writeProperty(PropertyAppEQ, record); err != nil {
			return err
		}
	}
	for _, k := range c.fanOut(key) {
		if !c.graph.HasClient(k) {
			continue
		}
		if err := c.graph.SetEQGain(k, band, c.mapper.EQGainFromRaw(raw)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) applySetRoute(source, dest string, channel int, enabled bool) error {
	if err := c.writeProperty(PropertyAppRouting, RouteRecord{
		SourceBundleID:      source,
		DestinationBundleID: dest,
		InputChannel:        channel,
		Enabled:             &enabled,
	}); err != nil {
		return err
	}
	return c.graph.SetRoute(source, dest, channel, enabled)
}

func (c *Controller) applySetRouteGain(source, dest string, channel int, routeGain float64) error {
	raw := c.mapper.VolumeToRaw(routeGain)
	if err := c.writeProperty(PropertyAppRouting, RouteRecord{
		SourceBundleID:      source,
		DestinationBundleID: dest,
		InputChannel:        channel,
		Gain:                &raw,
	}); err != nil {
		return err
	}
	return c.graph.SetRouteGain(source, dest, channel, c.mapper.VolumeFromRaw(raw))
}

func (c *Controller) applyRemoveRoute(source, dest string, channel int) error {
	disabled := false
	if err := c.writeProperty(PropertyAppRouting, RouteRecord{
		SourceBundleID:      source,
		DestinationBundleID: dest,
		InputChannel:        channel,
		Enabled:             &disabled,
	}); err != nil {
		return err
	}
	return c.graph.RemoveRoute(source, dest, channel)
}

func (c *Controller) applySetMasterVolume(volume float64) error {
	c.graph.SetMasterVolume(volume)
	return nil
}

func (c *Controller) applySetMasterMute(muted bool) error {
	c.graph.SetMasterMute(muted)
	return nil
}

func (c *Controller) writeProperty(name string, record interface{}) error {
	var payload []byte
	var err error
	switch r := record.(type) {
	case VolumeRecord:
		payload, err = EncodeVolumeRecord(r)
	case EQRecord:
		payload, err = EncodeEQRecord(r)
	case RouteRecord:
		payload, err = EncodeRouteRecord(r)
	case ClientListRecord:
		payload, err = EncodeClientList(r)
	default:
		err = fmt.Errorf("unknown record type %T", record)
	}
	if err != nil {
		return err
	}
	if err := c.registry.SetProperty(c.deviceUID, name, payload); err != nil {
		wrapped := fmt.Errorf("%w: write %s: %v", devices.ErrPropertySetFailed, name, err)
		c.log.Error().Err(wrapped).Str("property", name).Msg("property write failed")
		return wrapped
	}
	return nil
}

// publishClientList pushes the full read-side snapshot so a control
// surface can resync. Failures are logged; the local state is already
// authoritative.
func (c *Controller) publishClientList() {
	states := c.graph.Clients()
	records := make([]ClientRecord, 0, len(states))
	for _, s := range states {
		records = append(records, ClientRecord{
			BundleID:       s.Key,
			RelativeVolume: c.mapper.VolumeToRaw(s.Volume),
			PanPosition:    c.mapper.PanToRaw(s.Pan),
			Muted:          s.Muted,
			Solo:           s.Solo,
			LowGain:        c.mapper.EQGainToRaw(s.EQGains[0]),
			MidGain:        c.mapper.EQGainToRaw(s.EQGains[1]),
			HighGain:       c.mapper.EQGainToRaw(s.EQGains[2]),
			SendToMaster:   s.SendToMaster,
			Routes:         s.Routes,
		})
	}
	if err := c.writeProperty(PropertyClientList, ClientListRecord{Clients: records}); err != nil {
		c.errorHandler.HandleError(fmt.Errorf("publish client list: %w", err))
	}
}
