package climate

import (
	"fmt"
	"sync"
)

// ZoneState is a point-in-time copy of a Zone.
type ZoneState struct {
	HVACState
	SystemNumber int
	ZoneNumber   int
	Master       *bool
	SystemID     string
}

// Zone is one thermostat-controlled room of a System.
//
// A master zone owns mode selection for its system; slave zones inherit
// the system's mode list.
type Zone struct {
	hvacBase
	systemNumber int
	zoneNumber   int
	master       *bool

	linkMu     sync.RWMutex
	system     *System
	airQuality *AirQuality
}

// NewZone builds a Zone from its discovery payload.
func NewZone(instID, wsID string, data map[string]any) (*Zone, error) {
	ds, err := newDeviceState(KindZone, instID, wsID, data)
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
		ds.Name = fmt.Sprintf("Zone %d:%d", sysNum, zoneNum)
	}
	z := &Zone{systemNumber: sysNum, zoneNumber: zoneNum}
	z.ds = ds
	return z, nil
}

// SystemNumber returns the system index within the web server.
func (z *Zone) SystemNumber() int { return z.systemNumber }

// ZoneNumber returns the zone index within the system.
func (z *Zone) ZoneNumber() int { return z.zoneNumber }

// Apply applies u if it is not older than the current state.
func (z *Zone) Apply(u Update) bool {
	return z.apply(u, func(data map[string]any) {
		z.decodeHVAC(u, data)
		// Master status is only knowable from a polled full snapshot.
		if u.Origin == OriginPollFull {
			if _, ok := data[KeyModeAvailable]; ok {
				modes, _ := getInts(data, KeyModeAvailable)
				z.master = ptr(len(modes) > 0)
			} else {
				z.master = nil
			}
		}
	})
}

// Master reports whether the zone selects the system mode.
func (z *Zone) Master() bool {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.master != nil && *z.master
}

// System returns the linked system, or nil.
func (z *Zone) System() *System {
	z.linkMu.RLock()
	defer z.linkMu.RUnlock()
	return z.system
}

// SetSystem links the zone to its owning system.
func (z *Zone) SetSystem(s *System) {
	z.linkMu.Lock()
	defer z.linkMu.Unlock()
	z.system = s
}

// SetAirQuality links the air quality sensor of the zone.
func (z *Zone) SetAirQuality(aq *AirQuality) {
	z.linkMu.Lock()
	defer z.linkMu.Unlock()
	z.airQuality = aq
}

// AirQuality returns the linked air quality sensor, or nil.
func (z *Zone) AirQuality() *AirQuality {
	z.linkMu.RLock()
	defer z.linkMu.RUnlock()
	return z.airQuality
}

// State returns a copy of the zone state.
func (z *Zone) State() ZoneState {
	sys := z.System()
	z.mu.RLock()
	defer z.mu.RUnlock()
	st := ZoneState{
		HVACState:    z.stateLocked(),
		SystemNumber: z.systemNumber,
		ZoneNumber:   z.zoneNumber,
	}
	if z.master != nil {
		st.Master = ptr(*z.master)
	}
	if sys != nil {
		st.SystemID = sys.ID()
	}
	return st
}

// Data returns a JSON-ready snapshot.
func (z *Zone) Data() map[string]any {
	st := z.State()
	data := make(map[string]any)
	st.fill(data)
	data["master"] = st.Master != nil && *st.Master
	data["system"] = st.SystemNumber
	data["zone"] = st.ZoneNumber
	putPtr(data, "air-demand", st.AirDemand)
	putPtr(data, "floor-demand", st.FloorDemand)
	if st.SystemID != "" {
		data["system-id"] = st.SystemID
	}
	if aq := z.AirQuality(); aq != nil {
		data["air-quality-id"] = aq.ID()
	}
	return data
}

// SetParam updates local state for a command. Mode changes are redirected
// to the owning system, which propagates them to all of its zones.
func (z *Zone) SetParam(param string, value any) error {
	if param == KeyMode {
		if sys := z.System(); sys != nil {
			return sys.SetParam(param, value)
		}
	}

	z.mu.Lock()
	defer z.mu.Unlock()

	switch param {
	case KeyMode:
		return z.setModeParamLocked(value)
	case KeyAQModeConf:
		return z.setAQModeLocked(value)
	case KeyPower:
		return z.setPowerLocked(value)
	case KeySetpoint:
		return z.setSetpointLocked(value)
	case KeySpeedConf:
		return z.setSpeedLocked(value)
	}
	if c, ok := paramCategories[param]; ok {
		return z.setCategorySetpointLocked(c, value)
	}
	return unsupported(z.ds.ID, param)
}
