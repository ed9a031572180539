package climate

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// System payload keys.
const (
	KeySystemFW   = "system_fw"
	KeySystemType = "system_type"
)

// SystemState is a point-in-time copy of a System.
type SystemState struct {
	DeviceState
	SystemNumber int
	Firmware     *string
	Model        *string
	ZoneIDs      []string
}

// System is the controller that owns a set of zones.
type System struct {
	deviceBase
	systemNumber int
	firmware     *string
	model        *string

	linkMu     sync.RWMutex
	zones      []*Zone
	airQuality *AirQuality
}

// NewSystem builds a System from its discovery payload.
func NewSystem(instID, wsID string, data map[string]any) (*System, error) {
	ds, err := newDeviceState(KindSystem, instID, wsID, data)
	if err != nil {
		return nil, err
	}
	sysNum, err := requireInt(subData(data), KeySystemNumber)
	if err != nil {
		return nil, err
	}
	ds.Name = fmt.Sprintf("System %d", sysNum)
	s := &System{systemNumber: sysNum}
	s.ds = ds
	return s, nil
}

// SystemNumber returns the system index within the web server.
func (s *System) SystemNumber() int { return s.systemNumber }

// Apply applies u if it is not older than the current state.
func (s *System) Apply(u Update) bool {
	return s.apply(u, func(data map[string]any) {
		decodeDevice(&s.ds, data)
		if v, ok := getString(data, KeySystemFW); ok {
			s.firmware = ptr(v)
		}
		if v, ok := getString(data, KeySystemType); ok {
			s.model = ptr(v)
		}
	})
}

// AddZone links z to the system. Adding the same zone twice is a no-op.
func (s *System) AddZone(z *Zone) {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()
	for _, existing := range s.zones {
		if existing.ID() == z.ID() {
			return
		}
	}
	s.zones = append(s.zones, z)
}

// SetAirQuality links the air quality sensor of the system.
func (s *System) SetAirQuality(aq *AirQuality) {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()
	s.airQuality = aq
}

// AirQuality returns the linked air quality sensor, or nil.
func (s *System) AirQuality() *AirQuality {
	s.linkMu.RLock()
	defer s.linkMu.RUnlock()
	return s.airQuality
}

// Zones returns the linked zones in link order.
func (s *System) Zones() []*Zone {
	s.linkMu.RLock()
	defer s.linkMu.RUnlock()
	return slices.Clone(s.zones)
}

// State returns a copy of the system state.
func (s *System) State() SystemState {
	zones := s.Zones()
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := SystemState{
		DeviceState:  s.ds.clone(),
		SystemNumber: s.systemNumber,
		Firmware:     s.firmware,
		Model:        s.model,
	}
	for _, z := range zones {
		st.ZoneIDs = append(st.ZoneIDs, z.ID())
	}
	return st
}

// Data returns a JSON-ready snapshot.
func (s *System) Data() map[string]any {
	st := s.State()
	data := make(map[string]any)
	st.fill(data)
	data["system"] = st.SystemNumber
	putPtr(data, "firmware", st.Firmware)
	putPtr(data, "model", st.Model)
	if len(st.ZoneIDs) > 0 {
		data["zones"] = st.ZoneIDs
	}
	if aq := s.AirQuality(); aq != nil {
		data["air-quality-id"] = aq.ID()
	}
	return data
}

// SetParam updates local state for a command. A mode change applies to
// the system and every linked zone.
func (s *System) SetParam(param string, value any) error {
	if param != KeyMode {
		return unsupported(s.ds.ID, param)
	}
	n, err := intParam(value)
	if err != nil {
		return err
	}
	mode := Mode(n)
	errs := []error{s.SetMode(mode)}
	for _, z := range s.Zones() {
		errs = append(errs, z.SetMode(mode))
	}
	return errors.Join(errs...)
}
