package climate

import (
	"fmt"
	"slices"
)

// Cloud payload keys shared by all device kinds.
const (
	KeyDeviceID      = "device_id"
	KeyDeviceType    = "type"
	KeyWebServerID   = "ws_id"
	KeyInstallation  = "installation_id"
	KeyName          = "name"
	KeyMeta          = "meta"
	KeyConfig        = "config"
	KeySystemNumber  = "system_number"
	KeyZoneNumber    = "zone_number"
	KeyIsConnected   = "isConnected"
	KeyWSConnected   = "ws_connected"
	KeyMode          = "mode"
	KeyModeAvailable = "mode_available"
	KeyAutoMode      = "auto_mode"
	KeyErrors        = "errors"
	KeyWarnings      = "warnings"
	KeyAQPM1         = "aq_pm_1"
	KeyAQPM25        = "aq_pm_2_5"
	KeyAQPM10        = "aq_pm_10"
	KeyAQPresent     = "aq_present"
	KeyAQQuality     = "aq_quality"
	KeyValue         = "value"
)

// DeviceState is the state common to every device kind.
type DeviceState struct {
	ID             string
	Kind           Kind
	InstallationID string
	WebServerID    string
	Name           string

	Connected   bool
	WSConnected bool

	Mode     *Mode
	Modes    []Mode
	AutoMode *Mode

	Errors   []string
	Warnings []string

	AQPM1     *int
	AQPM25    *int
	AQPM10    *int
	AQPresent *bool
	AQQuality *string
}

// Available reports whether both the device and its web server are online.
func (s DeviceState) Available() bool {
	return s.Connected && s.WSConnected
}

// Problems reports whether the device has errors or warnings.
func (s DeviceState) Problems() bool {
	return len(s.Errors) > 0 || len(s.Warnings) > 0
}

func (s DeviceState) clone() DeviceState {
	s.Modes = slices.Clone(s.Modes)
	s.Errors = slices.Clone(s.Errors)
	s.Warnings = slices.Clone(s.Warnings)
	return s
}

func (s DeviceState) fill(data map[string]any) {
	data["id"] = s.ID
	data["type"] = s.Kind.String()
	data["installation"] = s.InstallationID
	data["web-server"] = s.WebServerID
	data["name"] = s.Name
	data["available"] = s.Available()
	data["is-connected"] = s.Connected
	data["ws-connected"] = s.WSConnected
	data["problems"] = s.Problems()
	if s.Mode != nil {
		data["mode"] = int(*s.Mode)
	}
	if len(s.Modes) > 0 {
		modes := make([]int, len(s.Modes))
		for i, m := range s.Modes {
			modes[i] = int(m)
		}
		data["modes"] = modes
	}
	if s.AutoMode != nil {
		data["mode-auto"] = int(*s.AutoMode)
	}
	if len(s.Errors) > 0 {
		data["errors"] = s.Errors
	}
	if len(s.Warnings) > 0 {
		data["warnings"] = s.Warnings
	}
	putPtr(data, "aq-pm-1", s.AQPM1)
	putPtr(data, "aq-pm-2.5", s.AQPM25)
	putPtr(data, "aq-pm-10", s.AQPM10)
	putPtr(data, "aq-present", s.AQPresent)
	putPtr(data, "aq-status", s.AQQuality)
}

func putPtr[T any](data map[string]any, key string, v *T) {
	if v != nil {
		data[key] = *v
	}
}

func decodeDevice(s *DeviceState, data map[string]any) {
	if b, ok := getBool(data, KeyIsConnected); ok {
		s.Connected = b
	}
	if b, ok := getBool(data, KeyWSConnected); ok {
		s.WSConnected = b
	}
	if v, ok := getInt(data, KeyAQPM1); ok {
		s.AQPM1 = ptr(v)
	}
	if v, ok := getInt(data, KeyAQPM25); ok {
		s.AQPM25 = ptr(v)
	}
	if v, ok := getInt(data, KeyAQPM10); ok {
		s.AQPM10 = ptr(v)
	}
	if v, ok := getBool(data, KeyAQPresent); ok {
		s.AQPresent = ptr(v)
	}
	if v, ok := getString(data, KeyAQQuality); ok {
		s.AQQuality = ptr(v)
	}
	if v, ok := getStrings(data, KeyErrors); ok {
		s.Errors = v
	}
	if v, ok := getInt(data, KeyMode); ok {
		s.Mode = ptr(Mode(v))
	}
	if v, ok := getInt(data, KeyAutoMode); ok {
		s.AutoMode = ptr(Mode(v))
	}
	if v, ok := getInts(data, KeyModeAvailable); ok && len(v) > 0 {
		modes := make([]Mode, len(v))
		for i, m := range v {
			modes[i] = Mode(m)
		}
		s.Modes = modes
	}
	if v, ok := getStrings(data, KeyWarnings); ok {
		s.Warnings = v
	}
}

// deviceBase holds the identity and common state of a device.
type deviceBase struct {
	record
	ds DeviceState
}

// newDeviceState reads identity fields from a discovery payload.
func newDeviceState(kind Kind, instID, wsID string, data map[string]any) (DeviceState, error) {
	id, ok := getString(data, KeyDeviceID)
	if !ok || id == "" {
		return DeviceState{}, fmt.Errorf("%w: %s", ErrMissingField, KeyDeviceID)
	}
	connected := true
	if v, ok := getBool(data, KeyIsConnected); ok {
		connected = v
	}
	return DeviceState{
		ID:             id,
		Kind:           kind,
		InstallationID: instID,
		WebServerID:    wsID,
		Name:           "Device",
		Connected:      connected,
		WSConnected:    true,
	}, nil
}

// subData returns the map carrying system/zone numbers: meta first, then
// config, then the payload itself.
func subData(data map[string]any) map[string]any {
	if meta := getMap(data, KeyMeta); meta != nil {
		if _, ok := meta[KeySystemNumber]; ok {
			return meta
		}
	}
	if cfg := getMap(data, KeyConfig); cfg != nil {
		if _, ok := cfg[KeySystemNumber]; ok {
			return cfg
		}
	}
	return data
}

func requireInt(data map[string]any, key string) (int, error) {
	v, ok := getInt(data, key)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	return v, nil
}

// ID returns the cloud device id.
func (d *deviceBase) ID() string { return d.ds.ID }

// Kind returns the device kind.
func (d *deviceBase) Kind() Kind { return d.ds.Kind }

// InstallationID returns the owning installation id.
func (d *deviceBase) InstallationID() string { return d.ds.InstallationID }

// WebServerID returns the owning web server id.
func (d *deviceBase) WebServerID() string { return d.ds.WebServerID }

// Name returns the display name.
func (d *deviceBase) Name() string { return d.ds.Name }

// Available reports whether the device and its web server are online.
func (d *deviceBase) Available() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ds.Available()
}

// Mode returns the current mode, if known.
func (d *deviceBase) Mode() (Mode, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.ds.Mode == nil {
		return ModeStop, false
	}
	return *d.ds.Mode, true
}

// Modes returns the selectable modes.
func (d *deviceBase) Modes() []Mode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.ds.Modes)
}

// SetModes replaces the selectable modes. Used for slave zones, which
// inherit the list from their system.
func (d *deviceBase) SetModes(modes []Mode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ds.Modes = slices.Clone(modes)
}

// SetMode changes the mode if it is one of the selectable modes.
func (d *deviceBase) SetMode(m Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setModeLocked(m)
}

func (d *deviceBase) setModeLocked(m Mode) error {
	if !slices.Contains(d.ds.Modes, m) {
		return fmt.Errorf("%w: %s not in %v for %s", ErrModeUnavailable, m, d.ds.Modes, d.ds.ID)
	}
	d.ds.Mode = ptr(m)
	return nil
}

// DeviceState returns a copy of the common device state.
func (d *deviceBase) DeviceState() DeviceState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ds.clone()
}

// Parameter value coercion for SetParam.

func boolParam(v any) (bool, error) {
	b, ok := boolValue(v)
	if !ok {
		return false, fmt.Errorf("%w: %v is not a boolean", ErrInvalidValue, v)
	}
	return b, nil
}

func floatParam(v any) (float64, error) {
	f, ok := floatValue(v)
	if !ok {
		return 0, fmt.Errorf("%w: %v is not a number", ErrInvalidValue, v)
	}
	return f, nil
}

func intParam(v any) (int, error) {
	f, err := floatParam(v)
	return int(f), err
}

func unsupported(id, param string) error {
	return fmt.Errorf("%w: %s on %s", ErrUnsupportedParam, param, id)
}
