package mixbus

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shaban/mixbus/dsp"
	"github.com/shaban/mixbus/gain"
)

// GainSink is the device boundary the routing graph pushes derived
// master-bus gains to. raw is already converted to the control
// protocol's raw volume domain.
type GainSink interface {
	SetMasterGain(clientKey string, raw int) error
}

// GainSinkFunc adapts a function to GainSink.
type GainSinkFunc func(clientKey string, raw int) error

// SetMasterGain implements GainSink.
func (f GainSinkFunc) SetMasterGain(clientKey string, raw int) error {
	return f(clientKey, raw)
}

// RoutingGraph tracks per-client mixer state and the inter-client
// route set, and keeps the derived master-bus gains consistent at the
// device boundary: every mutation synchronously recomputes the
// affected clients' effective master gain and pushes it to the sink,
// so no stale audible state survives a change.
//
// All mutations arrive from the single control thread (the dispatcher
// serializes them); the mutex additionally makes reads from other
// goroutines safe.
type RoutingGraph struct {
	mu           sync.Mutex
	mapper       gain.Mapper
	sink         GainSink
	errorHandler ErrorHandler
	clients      map[string]*client
	masterVolume float64
	masterMuted  bool
}

// NewRoutingGraph creates an empty graph. sink may be nil, in which
// case derived gains are tracked but not pushed anywhere.
func NewRoutingGraph(mapper gain.Mapper, sink GainSink, handler ErrorHandler) *RoutingGraph {
	if handler == nil {
		handler = &LogErrorHandler{Logger: NewLogger(nil)}
	}
	return &RoutingGraph{
		mapper:       mapper,
		sink:         sink,
		errorHandler: handler,
		clients:      make(map[string]*client),
		masterVolume: 1.0,
	}
}

// AddClient starts managing a client. Adding an existing key is a
// no-op; a re-created client starts from defaults with fresh state.
func (g *RoutingGraph) AddClient(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.clients[key]; exists {
		return
	}
	c := newClient(key)
	g.clients[key] = c
	g.push(c)
}

// RemoveClient stops managing a client and tears down every route
// where it is source or destination. Sources whose last enabled route
// pointed at the removed client revert to the master bus.
func (g *RoutingGraph) RemoveClient(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, exists := g.clients[key]
	if !exists {
		return
	}
	delete(g.clients, key)

	// Silence the departing client at the device boundary.
	if err := g.pushRaw(key, g.mapper.VolumeToRaw(0)); err != nil {
		g.errorHandler.HandleError(fmt.Errorf("silence removed client %s: %w", key, err))
	}

	hadSolo := c.solo
	for _, source := range g.clients {
		changed := false
		for rk := range source.routes {
			if rk.Destination == key {
				delete(source.routes, rk)
				changed = true
			}
		}
		if changed {
			source.recomputeSendToMaster()
		}
	}
	// Removing a soloed client can unmute everyone else; route
	// teardown can flip sendToMaster. Re-derive the whole boundary.
	if hadSolo {
		g.pushAll()
		return
	}
	for _, source := range g.clients {
		g.push(source)
	}
}

// HasClient reports whether key is currently managed.
func (g *RoutingGraph) HasClient(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.clients[key]
	return ok
}

// Client returns a snapshot of one client's state.
func (g *RoutingGraph) Client(key string) (ClientState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.clients[key]
	if !ok {
		return ClientState{}, false
	}
	return c.snapshot(), true
}

// Clients returns snapshots of every managed client, sorted by key.
func (g *RoutingGraph) Clients() []ClientState {
	g.mu.Lock()
	defer g.mu.Unlock()
	states := make([]ClientState, 0, len(g.clients))
	for _, c := range g.clients {
		states = append(states, c.snapshot())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Key < states[j].Key })
	return states
}

// SetVolume sets a client's volume scalar (unity 1.0, clamped to the
// mapper's ceiling).
func (g *RoutingGraph) SetVolume(key string, volume float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, err := g.clientLocked(key)
	if err != nil {
		return err
	}
	if volume < 0 {
		volume = 0
	}
	if volume > g.mapper.Ceiling {
		volume = g.mapper.Ceiling
	}
	c.volume = volume
	g.push(c)
	return nil
}

// SetPan sets a client's pan position in [-1, 1].
func (g *RoutingGraph) SetPan(key string, pan float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, err := g.clientLocked(key)
	if err != nil {
		return err
	}
	if pan < -1 {
		pan = -1
	}
	if pan > 1 {
		pan = 1
	}
	c.pan = pan
	return nil
}

// SetMute sets a client's mute flag.
func (g *RoutingGraph) SetMute(key string, muted bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, err := g.clientLocked(key)
	if err != nil {
		return err
	}
	c.muted = muted
	g.push(c)
	return nil
}

// SetSolo sets a client's solo flag. While any client is soloed,
// non-soloed clients contribute nothing to the master bus, so solo
// changes re-derive every client's boundary gain.
func (g *RoutingGraph) SetSolo(key string, solo bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, err := g.clientLocked(key)
	if err != nil {
		return err
	}
	c.solo = solo
	g.pushAll()
	return nil
}

// SetEQGain caches a client's per-band EQ gain in dB (clamped ±12).
func (g *RoutingGraph) SetEQGain(key string, band int, gainDB float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, err := g.clientLocked(key)
	if err != nil {
		return err
	}
	if band < 0 || band >= dsp.NumBands {
		return fmt.Errorf("eq band %d out of range", band)
	}
	if gainDB < dsp.MinGainDB {
		gainDB = dsp.MinGainDB
	}
	if gainDB > dsp.MaxGainDB {
		gainDB = dsp.MaxGainDB
	}
	c.eqGains[band] = gainDB
	return nil
}

// SetRoute enables or disables the route source → (dest, channel),
// creating it with unity gain on first use. The derived sendToMaster
// flag is recomputed immediately.
func (g *RoutingGraph) SetRoute(source, dest string, channel int, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, err := g.clientLocked(source)
	if err != nil {
		return err
	}
	if _, ok := g.clients[dest]; !ok {
		return fmt.Errorf("route destination %s not managed", dest)
	}
	rk := RouteKey{Destination: dest, InputChannel: channel}
	r, ok := c.routes[rk]
	if !ok {
		r = &Route{Destination: dest, InputChannel: channel, Gain: 1.0}
		c.routes[rk] = r
	}
	r.Enabled = enabled
	c.recomputeSendToMaster()
	g.push(c)
	return nil
}

// SetRouteGain sets the gain of an existing route.
func (g *RoutingGraph) SetRouteGain(source, dest string, channel int, routeGain float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, err := g.clientLocked(source)
	if err != nil {
		return err
	}
	r, ok := c.routes[RouteKey{Destination: dest, InputChannel: channel}]
	if !ok {
		return fmt.Errorf("route %s -> %s ch %d not found", source, dest, channel)
	}
	if routeGain < 0 {
		routeGain = 0
	}
	r.Gain = routeGain
	return nil
}

// RemoveRoute deletes the route source → (dest, channel). Removing the
// last route restores sendToMaster.
func (g *RoutingGraph) RemoveRoute(source, dest string, channel int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, err := g.clientLocked(source)
	if err != nil {
		return err
	}
	rk := RouteKey{Destination: dest, InputChannel: channel}
	if _, ok := c.routes[rk]; !ok {
		return fmt.Errorf("route %s -> %s ch %d not found", source, dest, channel)
	}
	delete(c.routes, rk)
	c.recomputeSendToMaster()
	g.push(c)
	return nil
}

// SetMasterVolume sets the master bus volume scalar.
func (g *RoutingGraph) SetMasterVolume(volume float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if volume < 0 {
		volume = 0
	}
	g.masterVolume = volume
	g.pushAll()
}

// SetMasterMute mutes or unmutes the master bus.
func (g *RoutingGraph) SetMasterMute(muted bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.masterMuted = muted
	g.pushAll()
}

// EffectiveMasterGain returns a client's current contribution to the
// master bus: 0 when muted, routed away from the master bus, or
// shadowed by another client's solo; otherwise volume × masterVolume
// (masterVolume itself 0 while master is muted).
func (g *RoutingGraph) EffectiveMasterGain(key string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.clients[key]
	if !ok {
		return 0
	}
	return g.effectiveMasterGainLocked(c)
}

// EffectiveRouteGain returns the current contribution of the route
// source → (dest, channel): volume × route gain while enabled and the
// source is unmuted, bypassing the master bus entirely.
func (g *RoutingGraph) EffectiveRouteGain(source, dest string, channel int) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.clients[source]
	if !ok || c.muted {
		return 0
	}
	r, ok := c.routes[RouteKey{Destination: dest, InputChannel: channel}]
	if !ok || !r.Enabled {
		return 0
	}
	return c.volume * r.Gain
}

func (g *RoutingGraph) clientLocked(key string) (*client, error) {
	c, ok := g.clients[key]
	if !ok {
		return nil, fmt.Errorf("client %s not managed", key)
	}
	return c, nil
}

func (g *RoutingGraph) effectiveMasterGainLocked(c *client) float64 {
	if c.muted || !c.sendToMaster {
		return 0
	}
	if g.anySoloLocked() && !c.solo {
		return 0
	}
	master := g.masterVolume
	if g.masterMuted {
		master = 0
	}
	return c.volume * master
}

func (g *RoutingGraph) anySoloLocked() bool {
	for _, c := range g.clients {
		if c.solo {
			return true
		}
	}
	return false
}

// push recomputes one client's master gain and writes it to the device
// boundary. Called with the mutex held.
func (g *RoutingGraph) push(c *client) {
	raw := g.mapper.VolumeToRaw(g.effectiveMasterGainLocked(c))
	if err := g.pushRaw(c.key, raw); err != nil {
		g.errorHandler.HandleError(fmt.Errorf("push master gain for %s: %w", c.key, err))
	}
}

func (g *RoutingGraph) pushAll() {
	for _, c := range g.clients {
		g.push(c)
	}
}

func (g *RoutingGraph) pushRaw(key string, raw int) error {
	if g.sink == nil {
		return nil
	}
	return g.sink.SetMasterGain(key, raw)
}
