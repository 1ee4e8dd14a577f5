package mixbus

import (
	"encoding/json"
	"fmt"
)

// Property identifiers of the device control surface. Each carries a
// JSON-encoded record; identity fields are always present, value
// fields only when being set.
const (
	PropertyAppVolumes = "appVolumes"
	PropertyAppRouting = "appRouting"
	PropertyAppEQ      = "appEQ"
	PropertyClientList = "clientList"
)

// VolumeRecord sets a client's relative volume and/or pan position in
// the raw protocol domain.
type VolumeRecord struct {
	BundleID       string `json:"bundleID"`
	RelativeVolume *int   `json:"relativeVolume,omitempty"` // raw, unity per gain.Mapper
	PanPosition    *int   `json:"panPosition,omitempty"`    // raw, panLeft..panRight
}

// EQRecord sets a client's per-band EQ gains in tenths of a dB.
type EQRecord struct {
	BundleID string `json:"bundleID"`
	LowGain  *int   `json:"lowGain,omitempty"`
	MidGain  *int   `json:"midGain,omitempty"`
	HighGain *int   `json:"highGain,omitempty"`
}

// RouteRecord sets one directed send from a source client to one input
// channel of a destination client.
type RouteRecord struct {
	SourceBundleID      string `json:"sourceBundleID"`
	DestinationBundleID string `json:"destinationBundleID"`
	InputChannel        int    `json:"inputChannel"`
	Gain                *int   `json:"gain,omitempty"` // raw volume domain
	Enabled             *bool  `json:"enabled,omitempty"`
}

// ClientRecord is the read-side snapshot published under clientList so
// a reconnecting control surface can resync. All values present.
type ClientRecord struct {
	BundleID       string  `json:"bundleID"`
	RelativeVolume int     `json:"relativeVolume"`
	PanPosition    int     `json:"panPosition"`
	Muted          bool    `json:"muted"`
	Solo           bool    `json:"solo"`
	LowGain        int     `json:"lowGain"`
	MidGain        int     `json:"midGain"`
	HighGain       int     `json:"highGain"`
	SendToMaster   bool    `json:"sendToMaster"`
	Routes         []Route `json:"routes,omitempty"`
}

// ClientListRecord wraps the full client snapshot list.
type ClientListRecord struct {
	Clients []ClientRecord `json:"clients"`
}

// EncodeVolumeRecord serializes a volume record for the property
// surface.
func EncodeVolumeRecord(r VolumeRecord) ([]byte, error) {
	if r.BundleID == "" {
		return nil, fmt.Errorf("volume record: bundleID is required")
	}
	return json.Marshal(r)
}

// DecodeVolumeRecord parses a volume record, requiring identity.
func DecodeVolumeRecord(data []byte) (VolumeRecord, error) {
	var r VolumeRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return VolumeRecord{}, fmt.Errorf("decode volume record: %w", err)
	}
	if r.BundleID == "" {
		return VolumeRecord{}, fmt.Errorf("volume record: bundleID is required")
	}
	return r, nil
}

// EncodeEQRecord serializes an EQ record.
func EncodeEQRecord(r EQRecord) ([]byte, error) {
	if r.BundleID == "" {
		return nil, fmt.Errorf("eq record: bundleID is required")
	}
	return json.Marshal(r)
}

// DecodeEQRecord parses an EQ record, requiring identity.
func DecodeEQRecord(data []byte) (EQRecord, error) {
	var r EQRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return EQRecord{}, fmt.Errorf("decode eq record: %w", err)
	}
	if r.BundleID == "" {
		return EQRecord{}, fmt.Errorf("eq record: bundleID is required")
	}
	return r, nil
}

// EncodeRouteRecord serializes a route record.
func EncodeRouteRecord(r RouteRecord) ([]byte, error) {
	if r.SourceBundleID == "" || r.DestinationBundleID == "" {
		return nil, fmt.Errorf("route record: source and destination bundleIDs are required")
	}
	return json.Marshal(r)
}

// DecodeRouteRecord parses a route record, requiring both identities.
func DecodeRouteRecord(data []byte) (RouteRecord, error) {
	var r RouteRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return RouteRecord{}, fmt.Errorf("decode route record: %w", err)
	}
	if r.SourceBundleID == "" || r.DestinationBundleID == "" {
		return RouteRecord{}, fmt.Errorf("route record: source and destination bundleIDs are required")
	}
	return r, nil
}

// EncodeClientList serializes the full client snapshot list.
func EncodeClientList(r ClientListRecord) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeClientList parses a client list record.
func DecodeClientList(data []byte) (ClientListRecord, error) {
	var r ClientListRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return ClientListRecord{}, fmt.Errorf("decode client list: %w", err)
	}
	return r, nil
}
