package presence

import (
	"encoding/json"
	"fmt"
	"math"
)

// Exchange space bounds. Producers normalise their native coordinates into
// this range before writing; consumers map back out of it.
const (
	ExchangeMin float64 = 0
	ExchangeMax float64 = 100
)

type DeviceClass int8

const (
	DeviceUnknown DeviceClass = iota
	DeviceDesktop
	DeviceHeadset
)

func (d DeviceClass) String() string {
	switch d {
	case DeviceDesktop:
		return "desktop"
	case DeviceHeadset:
		return "headset"
	default:
		return "unknown"
	}
}

// ParseDeviceClass maps a wire tag back to a DeviceClass. Unrecognised tags
// (including "") parse as DeviceUnknown, which filters treat as "any".
func ParseDeviceClass(s string) DeviceClass {
	switch s {
	case "desktop":
		return DeviceDesktop
	case "headset":
		return DeviceHeadset
	default:
		return DeviceUnknown
	}
}

func (d DeviceClass) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *DeviceClass) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*d = ParseDeviceClass(s)
	return nil
}

// Record is one client's latest position in a room. Overwrite semantics: a
// room holds at most one Record per client id and no history.
type Record struct {
	ClientID    string      `json:"clientId"`
	DisplayName string      `json:"displayName,omitempty"`
	X           float64     `json:"x"`
	Y           float64     `json:"y"`
	Color       string      `json:"color,omitempty"`
	UpdatedAt   int64       `json:"updatedAt"`
	DeviceClass DeviceClass `json:"deviceClass,omitempty"`
}

// Validate checks the record at the write boundary, before it can reach
// shared state.
func (rec Record) Validate() error {
	if rec.ClientID == "" {
		return ErrInvalidClient
	}
	if !inExchangeRange(rec.X) || !inExchangeRange(rec.Y) {
		return fmt.Errorf("%w: (%v,%v)", ErrInvalidPosition, rec.X, rec.Y)
	}
	return nil
}

func inExchangeRange(v float64) bool {
	return !math.IsNaN(v) && v >= ExchangeMin && v <= ExchangeMax
}

// Filter selects records on read. The zero value matches everything.
type Filter struct {
	// ExcludeClient drops the record for this client id (self-echo suppression).
	ExcludeClient string
	// DeviceClass, when not DeviceUnknown, keeps only records of that class.
	DeviceClass DeviceClass
	// LeaderOnly keeps only the authoritative records for a shared target:
	// the current leader's, or desktop-class records while no control
	// message has named a leader yet.
	LeaderOnly bool
}

func (f Filter) matches(rec Record, leaderID string) bool {
	if f.ExcludeClient != "" && rec.ClientID == f.ExcludeClient {
		return false
	}
	if f.DeviceClass != DeviceUnknown && rec.DeviceClass != f.DeviceClass {
		return false
	}
	if f.LeaderOnly {
		if leaderID == "" {
			// A room starts with the desktop side authoritative.
			return rec.DeviceClass == DeviceDesktop
		}
		return rec.ClientID == leaderID
	}
	return true
}
