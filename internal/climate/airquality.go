package climate

import (
	"fmt"
	"slices"
	"sync"
)

// AirQuality is an air quality sensor bound to a system zone.
type AirQuality struct {
	deviceBase
	systemNumber int
	zoneNumber   int

	linkMu    sync.RWMutex
	systemIDs []string
	zoneIDs   []string
}

// NewAirQuality builds an AirQuality sensor from its discovery payload.
func NewAirQuality(instID, wsID string, data map[string]any) (*AirQuality, error) {
	ds, err := newDeviceState(KindAirQuality, instID, wsID, data)
	if err != nil {
		return nil, err
	}
	sub := subData(data)
	sysNum, err := requireInt(sub, KeySystemNumber)
	if err != nil {
		return nil, err
	}
	zoneNum, err := requireInt(sub, KeyZoneNumber)
	if err != nil {
		return nil, err
	}
	if name, ok := getString(data, KeyName); ok {
		ds.Name = name
	} else {
		ds.Name = fmt.Sprintf("Air Quality %d:%d", sysNum, zoneNum)
	}
	aq := &AirQuality{systemNumber: sysNum, zoneNumber: zoneNum}
	aq.ds = ds
	return aq, nil
}

// SystemNumber returns the system index the sensor belongs to.
func (aq *AirQuality) SystemNumber() int { return aq.systemNumber }

// ZoneNumber returns the zone index the sensor belongs to.
func (aq *AirQuality) ZoneNumber() int { return aq.zoneNumber }

// Apply applies u if it is not older than the current state.
func (aq *AirQuality) Apply(u Update) bool {
	return aq.apply(u, func(data map[string]any) {
		decodeDevice(&aq.ds, data)
	})
}

// LinkSystem records a system sharing the sensor's system number.
func (aq *AirQuality) LinkSystem(s *System) {
	aq.linkMu.Lock()
	defer aq.linkMu.Unlock()
	if !slices.Contains(aq.systemIDs, s.ID()) {
		aq.systemIDs = append(aq.systemIDs, s.ID())
	}
}

// LinkZone records a zone sharing the sensor's system and zone numbers.
func (aq *AirQuality) LinkZone(z *Zone) {
	aq.linkMu.Lock()
	defer aq.linkMu.Unlock()
	if !slices.Contains(aq.zoneIDs, z.ID()) {
		aq.zoneIDs = append(aq.zoneIDs, z.ID())
	}
}

// Links returns the linked system and zone ids.
func (aq *AirQuality) Links() (systemIDs, zoneIDs []string) {
	aq.linkMu.RLock()
	defer aq.linkMu.RUnlock()
	return slices.Clone(aq.systemIDs), slices.Clone(aq.zoneIDs)
}

// Data returns a JSON-ready snapshot.
func (aq *AirQuality) Data() map[string]any {
	systems, zones := aq.Links()
	data := make(map[string]any)
	aq.DeviceState().fill(data)
	data["system"] = aq.systemNumber
	data["zone"] = aq.zoneNumber
	if len(systems) > 0 {
		data["systems"] = systems
	}
	if len(zones) > 0 {
		data["zones"] = zones
	}
	return data
}

// SetParam rejects all parameters; sensors are read-only.
func (aq *AirQuality) SetParam(param string, _ any) error {
	return unsupported(aq.ds.ID, param)
}
