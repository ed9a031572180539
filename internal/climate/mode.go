package climate

import "strconv"

// Mode is the operating mode reported by the cloud.
type Mode int

// Operating modes, numbered as on the wire.
const (
	ModeStop            Mode = 0
	ModeAuto            Mode = 1
	ModeCooling         Mode = 2
	ModeHeating         Mode = 3
	ModeVentilation     Mode = 4
	ModeDry             Mode = 5
	ModeEmergencyHeat   Mode = 6
	ModeHeatAir         Mode = 7
	ModeHeatRadiant     Mode = 8
	ModeHeatCombined    Mode = 9
	ModeCoolingAir      Mode = 10
	ModeCoolingRadiant  Mode = 11
	ModeCoolingCombined Mode = 12
)

var modeNames = map[Mode]string{
	ModeStop:            "stop",
	ModeAuto:            "auto",
	ModeCooling:         "cooling",
	ModeHeating:         "heating",
	ModeVentilation:     "ventilation",
	ModeDry:             "dry",
	ModeEmergencyHeat:   "emergency_heat",
	ModeHeatAir:         "heat_air",
	ModeHeatRadiant:     "heat_radiant",
	ModeHeatCombined:    "heat_combined",
	ModeCoolingAir:      "cooling_air",
	ModeCoolingRadiant:  "cooling_radiant",
	ModeCoolingCombined: "cooling_combined",
}

// String returns the lowercase mode name.
func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "mode(" + strconv.Itoa(int(m)) + ")"
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

// IsAuto reports whether m is the auto mode.
func (m Mode) IsAuto() bool { return m == ModeAuto }

// IsCool reports whether m is any cooling variant.
func (m Mode) IsCool() bool {
	switch m {
	case ModeCooling, ModeCoolingAir, ModeCoolingCombined, ModeCoolingRadiant:
		return true
	}
	return false
}

// IsHeat reports whether m is any heating variant.
func (m Mode) IsHeat() bool {
	switch m {
	case ModeHeating, ModeEmergencyHeat, ModeHeatAir, ModeHeatCombined, ModeHeatRadiant:
		return true
	}
	return false
}

// IsDry reports whether m is the dry mode.
func (m Mode) IsDry() bool { return m == ModeDry }

// IsStop reports whether m is the stop mode.
func (m Mode) IsStop() bool { return m == ModeStop }

// IsVent reports whether m is the ventilation mode.
func (m Mode) IsVent() bool { return m == ModeVentilation }

// category returns the setpoint family used for m.
func (m Mode) category() setpointCategory {
	switch {
	case m.IsAuto():
		return categoryAuto
	case m.IsCool():
		return categoryCool
	case m.IsDry():
		return categoryDry
	case m.IsHeat():
		return categoryHeat
	case m.IsStop():
		return categoryStop
	case m.IsVent():
		return categoryVent
	}
	return ""
}

// Action is the derived HVAC activity.
type Action int

// HVAC actions.
const (
	ActionCooling Action = 1
	ActionDrying  Action = 2
	ActionFan     Action = 3
	ActionHeating Action = 4
	ActionIdle    Action = 5
	ActionOff     Action = 6
)

// String returns the lowercase action name.
func (a Action) String() string {
	switch a {
	case ActionCooling:
		return "cooling"
	case ActionDrying:
		return "drying"
	case ActionFan:
		return "fan"
	case ActionHeating:
		return "heating"
	case ActionIdle:
		return "idle"
	case ActionOff:
		return "off"
	}
	return "action(" + strconv.Itoa(int(a)) + ")"
}

// actionForMode maps an active mode to its action.
// Auto and unknown modes return ok=false.
func actionForMode(m Mode) (Action, bool) {
	switch {
	case m.IsCool():
		return ActionCooling, true
	case m.IsHeat():
		return ActionHeating, true
	case m.IsVent():
		return ActionFan, true
	case m.IsDry():
		return ActionDrying, true
	}
	return 0, false
}

// AirQualityMode is the air purifier operating mode.
type AirQualityMode string

// Air quality modes.
const (
	AirQualityUnknown AirQualityMode = "unknown"
	AirQualityOff     AirQualityMode = "off"
	AirQualityOn      AirQualityMode = "on"
	AirQualityAuto    AirQualityMode = "auto"
)

func parseAirQualityMode(s string) AirQualityMode {
	switch AirQualityMode(s) {
	case AirQualityOff, AirQualityOn, AirQualityAuto:
		return AirQualityMode(s)
	}
	return AirQualityUnknown
}

// HotWaterOperation is the domestic hot water operating state.
type HotWaterOperation int

// Hot water operations.
const (
	HotWaterUnknown  HotWaterOperation = -1
	HotWaterOff      HotWaterOperation = 0
	HotWaterOn       HotWaterOperation = 1
	HotWaterPowerful HotWaterOperation = 2
)

// String returns the operation name.
func (o HotWaterOperation) String() string {
	switch o {
	case HotWaterOff:
		return "off"
	case HotWaterOn:
		return "on"
	case HotWaterPowerful:
		return "powerful"
	}
	return "unknown"
}

// UserAccess is the account's permission level on an installation.
type UserAccess string

// Access levels.
const (
	AccessUnknown  UserAccess = "unknown"
	AccessAdmin    UserAccess = "admin"
	AccessAdvanced UserAccess = "advanced"
	AccessBasic    UserAccess = "basic"
)

// IsAdmin reports whether the access level grants administrator requests.
func (a UserAccess) IsAdmin() bool { return a == AccessAdmin }

func parseUserAccess(s string) UserAccess {
	switch UserAccess(s) {
	case AccessAdmin, AccessAdvanced, AccessBasic:
		return UserAccess(s)
	}
	return AccessUnknown
}

// SpeedType distinguishes fan speed scales.
type SpeedType int

// Fan speed scales.
const (
	SpeedNormal  SpeedType = 0
	SpeedAirflow SpeedType = 1
)

type setpointCategory string

const (
	categoryAuto     setpointCategory = "auto"
	categoryCool     setpointCategory = "cool"
	categoryDry      setpointCategory = "dry"
	categoryEmerHeat setpointCategory = "emerheat"
	categoryHeat     setpointCategory = "heat"
	categoryStop     setpointCategory = "stop"
	categoryVent     setpointCategory = "vent"
)
