package climate

import "fmt"

// Kind is the closed set of device kinds the engine understands.
type Kind int

// Device kinds.
const (
	KindUnknown Kind = iota
	KindZone
	KindSystem
	KindAidoo
	KindHotWater
	KindAirQuality
	KindOutput
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindZone:
		return "zone"
	case KindSystem:
		return "system"
	case KindAidoo:
		return "aidoo"
	case KindHotWater:
		return "hot-water"
	case KindAirQuality:
		return "air-quality"
	case KindOutput:
		return "output"
	}
	return "unknown"
}

// KindFromType maps a cloud device type tag to a Kind.
func KindFromType(deviceType string) Kind {
	switch deviceType {
	case "az_zone":
		return KindZone
	case "az_system":
		return KindSystem
	case "aidoo", "aidoo_pro":
		return KindAidoo
	case "az_acs", "aidoo_acs":
		return KindHotWater
	case "az_airqsensor":
		return KindAirQuality
	case "az_outputs":
		return KindOutput
	}
	return KindUnknown
}

// NewDevice builds the device for a discovery payload.
//
// Unknown type tags return ErrUnknownKind; callers log and skip them so
// that one unsupported device never fails discovery.
func NewDevice(instID, wsID string, data map[string]any) (Device, error) {
	deviceType, _ := getString(data, KeyDeviceType)
	switch KindFromType(deviceType) {
	case KindZone:
		return NewZone(instID, wsID, data)
	case KindSystem:
		return NewSystem(instID, wsID, data)
	case KindAidoo:
		return NewAidoo(instID, wsID, data)
	case KindHotWater:
		return NewHotWater(instID, wsID, data)
	case KindAirQuality:
		return NewAirQuality(instID, wsID, data)
	case KindOutput:
		return NewOutput(instID, wsID, data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, deviceType)
}
