package climate

import (
	"maps"
	"slices"
	"sort"
)

// HVAC payload keys.
const (
	KeyActive       = "active"
	KeyAirActive    = "air_active"
	KeyRadActive    = "rad_active"
	KeyAQActive     = "aq_active"
	KeyAQModeConf   = "aq_mode_conf"
	KeyAQModeValues = "aq_mode_values"
	KeyHumidity     = "humidity"
	KeyLocalTemp    = "local_temp"
	KeyPower        = "power"
	KeySetpoint     = "setpoint"
	KeyRangeMaxAir  = "range_max_air"
	KeyRangeMinAir  = "range_min_air"
	KeySpeedConf    = "speed_conf"
	KeySpeedType    = "speed_type"
	KeySpeedValues  = "speed_values"
	KeyStep         = "step"
)

// DefaultTempStep is the setpoint increment used when the cloud does not
// report one.
const DefaultTempStep = 0.5

// Wire names for the per-mode setpoint and range keys.
var (
	setpointKeys = map[setpointCategory]string{
		categoryAuto: "setpoint_air_auto",
		categoryCool: "setpoint_air_cool",
		categoryDry:  "setpoint_air_dry",
		categoryHeat: "setpoint_air_heat",
		categoryStop: "setpoint_air_stop",
		categoryVent: "setpoint_air_vent",
	}
	rangeCategories = map[setpointCategory]string{
		categoryAuto:     "auto",
		categoryCool:     "cool",
		categoryDry:      "dry",
		categoryEmerHeat: "emerheat",
		categoryHeat:     "hot",
		categoryStop:     "stop",
		categoryVent:     "vent",
	}
)

func rangeKey(c setpointCategory, bound string) string {
	return "range_sp_" + rangeCategories[c] + "_air_" + bound
}

// paramCategories maps setpoint parameter names to their category.
var paramCategories = func() map[string]setpointCategory {
	m := make(map[string]setpointCategory, len(setpointKeys))
	for c, k := range setpointKeys {
		m[k] = c
	}
	return m
}()

// HVACFields is the state added by air conditioning devices.
type HVACFields struct {
	Active      *bool
	AirDemand   *bool
	FloorDemand *bool

	AQActive     *bool
	AQModeConf   *AirQualityMode
	AQModeValues []AirQualityMode

	Power    *bool
	Humidity *int
	Temp     *float64

	Speed     *int
	SpeedType *SpeedType
	Speeds    map[int]int
	TempStep  *float64

	setpoints   map[setpointCategory]float64
	rangeMax    map[setpointCategory]float64
	rangeMin    map[setpointCategory]float64
	rangeMaxAir *float64
	rangeMinAir *float64
}

func (f HVACFields) clone() HVACFields {
	f.AQModeValues = slices.Clone(f.AQModeValues)
	f.Speeds = maps.Clone(f.Speeds)
	f.setpoints = maps.Clone(f.setpoints)
	f.rangeMax = maps.Clone(f.rangeMax)
	f.rangeMin = maps.Clone(f.rangeMin)
	return f
}

// HVACState is a point-in-time copy of an HVAC device.
type HVACState struct {
	DeviceState
	HVACFields
}

// Temperature returns the measured temperature rounded to one decimal.
func (s HVACState) Temperature() *float64 {
	return roundPtr(s.Temp)
}

// Setpoint returns the setpoint for mode m's category.
func (s HVACState) Setpoint(m Mode) *float64 {
	v, ok := s.setpoints[m.category()]
	if !ok {
		return nil
	}
	return ptr(round1(v))
}

// TempSet returns the setpoint that applies to the current mode.
func (s HVACState) TempSet() *float64 {
	if s.Mode == nil {
		return nil
	}
	return s.Setpoint(*s.Mode)
}

// TempSetMax returns the highest setpoint bound across all modes.
func (s HVACState) TempSetMax() *float64 {
	var out *float64
	consider := func(v float64) {
		v = round1(v)
		if out == nil || v > *out {
			out = ptr(v)
		}
	}
	if s.rangeMaxAir != nil {
		consider(*s.rangeMaxAir)
	}
	for _, v := range s.rangeMax {
		consider(v)
	}
	return out
}

// TempSetMin returns the lowest setpoint bound across all modes.
func (s HVACState) TempSetMin() *float64 {
	var out *float64
	consider := func(v float64) {
		v = round1(v)
		if out == nil || v < *out {
			out = ptr(v)
		}
	}
	if s.rangeMinAir != nil {
		consider(*s.rangeMinAir)
	}
	for _, v := range s.rangeMin {
		consider(v)
	}
	return out
}

// Step returns the setpoint increment.
func (s HVACState) Step() float64 {
	if s.TempStep == nil {
		return DefaultTempStep
	}
	return round1(*s.TempStep)
}

// Action derives what the device is doing from power, demand and mode.
//
// Power off (or unknown) is ActionOff; powered without demand is
// ActionIdle. Otherwise the mode decides; auto defers to the mode the
// device chose automatically.
func (s HVACState) Action() Action {
	if s.Power == nil || !*s.Power {
		return ActionOff
	}
	if s.Active == nil || !*s.Active {
		return ActionIdle
	}
	mode := ModeStop
	if s.Mode != nil {
		mode = *s.Mode
	}
	if a, ok := actionForMode(mode); ok {
		return a
	}
	if mode.IsAuto() {
		return s.autoAction()
	}
	return ActionOff
}

func (s HVACState) autoAction() Action {
	if s.AutoMode == nil {
		return ActionIdle
	}
	if a, ok := actionForMode(*s.AutoMode); ok {
		return a
	}
	return ActionIdle
}

func (s HVACState) fill(data map[string]any) {
	s.DeviceState.fill(data)
	data["action"] = int(s.Action())
	data["temperature-step"] = s.Step()
	putPtr(data, "active", s.Active)
	putPtr(data, "power", s.Power)
	putPtr(data, "humidity", s.Humidity)
	putPtr(data, "temperature", s.Temperature())
	putPtr(data, "temperature-setpoint", s.TempSet())
	putPtr(data, "temperature-setpoint-max", s.TempSetMax())
	putPtr(data, "temperature-setpoint-min", s.TempSetMin())
	putPtr(data, "aq-active", s.AQActive)
	putPtr(data, "aq-mode-conf", s.AQModeConf)
	if len(s.AQModeValues) > 0 {
		data["aq-mode-values"] = s.AQModeValues
	}
	putPtr(data, "speed", s.Speed)
	if len(s.Speeds) > 0 {
		data["speeds"] = s.Speeds
	}
	for c := range setpointKeys {
		if v, ok := s.setpoints[c]; ok {
			data["temperature-setpoint-"+string(c)+"-air"] = round1(v)
		}
	}
}

func decodeHVAC(f *HVACFields, origin Origin, data map[string]any) {
	decodeTriState(&f.Active, data, KeyActive, origin)
	decodeTriState(&f.AirDemand, data, KeyAirActive, origin)
	decodeTriState(&f.FloorDemand, data, KeyRadActive, origin)

	if v, ok := getBool(data, KeyAQActive); ok {
		f.AQActive = ptr(v)
	}
	if v, ok := getString(data, KeyAQModeConf); ok {
		f.AQModeConf = ptr(parseAirQualityMode(v))
	}
	if v, ok := getStrings(data, KeyAQModeValues); ok {
		values := make([]AirQualityMode, len(v))
		for i, s := range v {
			values[i] = parseAirQualityMode(s)
		}
		f.AQModeValues = values
	}
	if v, ok := getInt(data, KeyHumidity); ok {
		f.Humidity = ptr(v)
	}
	if v, ok := getCelsius(data, KeyLocalTemp); ok {
		f.Temp = ptr(v)
	}
	if v, ok := getBool(data, KeyPower); ok {
		f.Power = ptr(v)
	}

	if v, ok := getCelsius(data, KeyRangeMaxAir); ok {
		f.rangeMaxAir = ptr(v)
	}
	if v, ok := getCelsius(data, KeyRangeMinAir); ok {
		f.rangeMinAir = ptr(v)
	}
	for c := range rangeCategories {
		if v, ok := getCelsius(data, rangeKey(c, "max")); ok {
			f.rangeMax = setCategory(f.rangeMax, c, v)
		}
		if v, ok := getCelsius(data, rangeKey(c, "min")); ok {
			f.rangeMin = setCategory(f.rangeMin, c, v)
		}
	}
	for c, key := range setpointKeys {
		if v, ok := getCelsius(data, key); ok {
			f.setpoints = setCategory(f.setpoints, c, v)
		}
	}

	if v, ok := getInt(data, KeySpeedConf); ok {
		f.Speed = ptr(v)
	}
	if v, ok := getInt(data, KeySpeedType); ok {
		f.SpeedType = ptr(SpeedType(v))
	}
	if v, ok := getInts(data, KeySpeedValues); ok {
		f.Speeds = buildSpeeds(v)
	}
	if v, ok := getCelsius(data, KeyStep); ok {
		f.TempStep = ptr(v)
	}
}

func setCategory(m map[setpointCategory]float64, c setpointCategory, v float64) map[setpointCategory]float64 {
	if m == nil {
		m = make(map[setpointCategory]float64)
	}
	m[c] = v
	return m
}

// buildSpeeds numbers the positive speed values 1..n in ascending order.
// A zero value is kept as speed 0 (automatic).
func buildSpeeds(values []int) map[int]int {
	speeds := make(map[int]int, len(values))
	sorted := slices.Clone(values)
	sort.Ints(sorted)
	n := 1
	for _, v := range sorted {
		if v == 0 {
			speeds[0] = 0
			continue
		}
		if v > 0 {
			speeds[n] = v
			n++
		}
	}
	return speeds
}

// hvacBase is embedded by the air conditioning kinds.
type hvacBase struct {
	deviceBase
	hv HVACFields
}

func (h *hvacBase) decodeHVAC(u Update, data map[string]any) {
	decodeDevice(&h.ds, data)
	decodeHVAC(&h.hv, u.Origin, data)
}

// HVACState returns a copy of the device state.
func (h *hvacBase) HVACState() HVACState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stateLocked()
}

func (h *hvacBase) stateLocked() HVACState {
	return HVACState{DeviceState: h.ds.clone(), HVACFields: h.hv.clone()}
}

func (h *hvacBase) setPowerLocked(v any) error {
	b, err := boolParam(v)
	if err != nil {
		return err
	}
	h.hv.Power = ptr(b)
	return nil
}

// setSetpointLocked writes the setpoint for the current mode.
func (h *hvacBase) setSetpointLocked(v any) error {
	if h.ds.Mode == nil {
		return nil
	}
	return h.setCategorySetpointLocked(h.ds.Mode.category(), v)
}

// setCategorySetpointLocked only overwrites setpoints the device reports.
func (h *hvacBase) setCategorySetpointLocked(c setpointCategory, v any) error {
	f, err := floatParam(v)
	if err != nil {
		return err
	}
	if _, ok := h.hv.setpoints[c]; ok {
		h.hv.setpoints[c] = f
	}
	return nil
}

func (h *hvacBase) setSpeedLocked(v any) error {
	n, err := intParam(v)
	if err != nil {
		return err
	}
	if h.hv.Speed != nil {
		h.hv.Speed = ptr(n)
	}
	return nil
}

func (h *hvacBase) setAQModeLocked(v any) error {
	s, ok := stringValue(v)
	if !ok {
		return ErrInvalidValue
	}
	m := parseAirQualityMode(s)
	h.hv.AQModeConf = &m
	return nil
}

func (h *hvacBase) setModeParamLocked(v any) error {
	n, err := intParam(v)
	if err != nil {
		return err
	}
	return h.setModeLocked(Mode(n))
}
