package mixbus

import "github.com/shaban/mixbus/dsp"

// RouteKey identifies a directed send from a source client to one
// input channel of a destination client. Left and right inputs of the
// same destination are independent routes.
type RouteKey struct {
	Destination  string
	InputChannel int
}

// Route is a directed audio send bypassing the master bus.
type Route struct {
	Destination  string  `json:"destination"`
	InputChannel int     `json:"inputChannel"`
	Gain         float64 `json:"gain"`
	Enabled      bool    `json:"enabled"`
}

// client is the mutable per-client mixer state owned by the
// RoutingGraph. All access goes through the graph's mutex.
type client struct {
	key          string
	volume       float64 // unity = 1.0, ceiling per gain.Mapper
	pan          float64 // -1..1, 0 = center
	muted        bool
	solo         bool
	eqGains      [dsp.NumBands]float64 // dB
	routes       map[RouteKey]*Route
	sendToMaster bool // derived: true iff no enabled route exists
}

func newClient(key string) *client {
	return &client{
		key:          key,
		volume:       1.0,
		routes:       make(map[RouteKey]*Route),
		sendToMaster: true,
	}
}

// recomputeSendToMaster derives the master-bus flag from the enabled
// route set. Enabling any route suppresses the master bus; clearing
// the last one restores it.
func (c *client) recomputeSendToMaster() {
	for _, r := range c.routes {
		if r.Enabled {
			c.sendToMaster = false
			return
		}
	}
	c.sendToMaster = true
}

// ClientState is an immutable snapshot of one client's mixer state.
type ClientState struct {
	Key          string                `json:"key"`
	Volume       float64               `json:"volume"`
	Pan          float64               `json:"pan"`
	Muted        bool                  `json:"muted"`
	Solo         bool                  `json:"solo"`
	EQGains      [dsp.NumBands]float64 `json:"eqGains"`
	Routes       []Route               `json:"routes"`
	SendToMaster bool                  `json:"sendToMaster"`
}

func (c *client) snapshot() ClientState {
	routes := make([]Route, 0, len(c.routes))
	for _, r := range c.routes {
		routes = append(routes, *r)
	}
	return ClientState{
		Key:          c.key,
		Volume:       c.volume,
		Pan:          c.pan,
		Muted:        c.muted,
		Solo:         c.solo,
		EQGains:      c.eqGains,
		Routes:       routes,
		SendToMaster: c.sendToMaster,
	}
}
