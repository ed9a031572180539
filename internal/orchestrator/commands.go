package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/nerrad567/gray-logic-climate/internal/climate"
)

// Command body keys.
const (
	keyParam = "param"
	keyValue = "value"
	keyOpts  = "opts"
	keyUnits = "units"
)

// Temperature units accepted in command options.
const (
	UnitsCelsius    = 0
	UnitsFahrenheit = 1
)

// Param is a device command value carrying request options, such as the
// temperature unit of a setpoint. A decoded JSON object with "value" and
// "opts" keys is read the same way.
type Param struct {
	Value any
	Opts  map[string]any
}

// CelsiusParam returns v tagged with Celsius units.
func CelsiusParam(v any) Param {
	return Param{Value: v, Opts: map[string]any{keyUnits: UnitsCelsius}}
}

// FahrenheitParam returns v tagged with Fahrenheit units.
func FahrenheitParam(v any) Param {
	return Param{Value: v, Opts: map[string]any{keyUnits: UnitsFahrenheit}}
}

// splitParam separates a command value from its options.
func splitParam(v any) (any, map[string]any) {
	switch p := v.(type) {
	case Param:
		return p.Value, p.Opts
	case *Param:
		return p.Value, p.Opts
	case map[string]any:
		if value, ok := p[keyValue]; ok {
			opts, _ := p[keyOpts].(map[string]any)
			return value, opts
		}
	}
	return v, nil
}

// splitOpts removes a top-level "opts" object from group or installation
// params. The input map is not modified.
func splitOpts(params map[string]any) (map[string]any, map[string]any) {
	raw, ok := params[keyOpts]
	if !ok {
		return params, nil
	}
	out := maps.Clone(params)
	delete(out, keyOpts)
	opts, _ := raw.(map[string]any)
	return out, opts
}

// commandBody builds a group or installation request body.
func commandBody(params, opts map[string]any) map[string]any {
	body := map[string]any{keyParams: params}
	if opts != nil {
		body[keyOpts] = opts
	}
	return body
}

// specialModes lists, per generic mode, the device-specific variants to
// try in order when a device does not offer the generic one.
var specialModes = map[climate.Mode][]climate.Mode{
	climate.ModeCooling: {
		climate.ModeCoolingCombined,
		climate.ModeCoolingAir,
		climate.ModeCoolingRadiant,
	},
	climate.ModeHeating: {
		climate.ModeHeatCombined,
		climate.ModeHeatAir,
		climate.ModeHeatRadiant,
		climate.ModeEmergencyHeat,
	},
}

// convertSpecialMode maps a generic heating or cooling request onto the
// first variant the device offers. Other modes are returned unchanged.
func convertSpecialMode(modes []climate.Mode, m climate.Mode) climate.Mode {
	for _, candidate := range specialModes[m] {
		if slices.Contains(modes, candidate) {
			return candidate
		}
	}
	return m
}

// modeParam decodes a mode command value.
func modeParam(v any) (climate.Mode, error) {
	switch n := v.(type) {
	case climate.Mode:
		return n, nil
	case int:
		return climate.Mode(n), nil
	case int64:
		return climate.Mode(n), nil
	case float64:
		if n == math.Trunc(n) {
			return climate.Mode(n), nil
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return climate.Mode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: mode %v", climate.ErrInvalidValue, v)
}

// resolveMode converts a requested mode against the offered modes.
func resolveMode(modes []climate.Mode, v any) (int, error) {
	m, err := modeParam(v)
	if err != nil {
		return 0, err
	}
	if !slices.Contains(modes, m) {
		m = convertSpecialMode(modes, m)
	}
	return int(m), nil
}

type modeLister interface {
	Modes() []climate.Mode
}

// SetDeviceParams sends one command per parameter, concurrently, applies
// each accepted value locally and then polls the affected devices to
// confirm the new state.
//
// A value may be a Param, or an object with "value" and "opts" keys, to
// send request options alongside it. A mode command on a slave zone is
// sent to its system, because only the master zone can change the
// system mode.
func (o *Orchestrator) SetDeviceParams(ctx context.Context, devID string, params map[string]any) error {
	dev, ok := o.DeviceByID(devID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, devID)
	}

	keys := slices.Sorted(maps.Keys(params))
	cmdErr := fanOut(ctx, keys, func(ctx context.Context, param string) error {
		return o.setDeviceParam(ctx, dev, param, params[param])
	})

	confirmErr := o.UpdateDevices(ctx, affectedDevices(dev, params))
	return errors.Join(cmdErr, confirmErr)
}

func (o *Orchestrator) setDeviceParam(ctx context.Context, dev climate.Device, param string, raw any) error {
	value, opts := splitParam(raw)
	target := dev
	if param == climate.KeyMode {
		var modes []climate.Mode
		if ml, ok := dev.(modeLister); ok {
			modes = ml.Modes()
		}
		m, err := resolveMode(modes, value)
		if err != nil {
			return err
		}
		value = m
		if z, ok := dev.(*climate.Zone); ok && !z.Master() {
			if sys := z.System(); sys != nil {
				target = sys
			}
		}
	}

	body := map[string]any{
		keyParam:                param,
		keyValue:                value,
		climate.KeyInstallation: target.InstallationID(),
	}
	if opts != nil {
		body[keyOpts] = opts
	}
	_, err := o.call(ctx, func(ctx context.Context) (map[string]any, error) {
		return o.api.PatchDevice(ctx, target.ID(), body)
	})
	if err != nil {
		return fmt.Errorf("setting %s on %s: %w", param, target.ID(), err)
	}
	o.logger.Info("device parameter set", "device_id", target.ID(), "param", param)

	if err := target.SetParam(param, value); err != nil && !errors.Is(err, climate.ErrUnsupportedParam) {
		return err
	}
	return nil
}

// affectedDevices returns dev plus, for mode commands, the system and
// zones that share the mode.
func affectedDevices(dev climate.Device, params map[string]any) []climate.Device {
	out := []climate.Device{dev}
	if _, ok := params[climate.KeyMode]; !ok {
		return out
	}
	var sys *climate.System
	switch v := dev.(type) {
	case *climate.Zone:
		sys = v.System()
	case *climate.System:
		sys = v
	}
	if sys == nil {
		return out
	}
	seen := map[string]bool{dev.ID(): true}
	add := func(d climate.Device) {
		if !seen[d.ID()] {
			seen[d.ID()] = true
			out = append(out, d)
		}
	}
	add(sys)
	for _, z := range sys.Zones() {
		add(z)
	}
	return out
}

// convertModeParams returns params with a mode entry converted against
// the given modes. The input map is not modified.
func convertModeParams(params map[string]any, modes []climate.Mode) (map[string]any, error) {
	v, ok := params[climate.KeyMode]
	if !ok {
		return params, nil
	}
	m, err := resolveMode(modes, v)
	if err != nil {
		return nil, err
	}
	out := maps.Clone(params)
	out[climate.KeyMode] = m
	return out, nil
}

// SetGroupParams sends a group command, applies it to every member
// locally and polls the members to confirm. An "opts" entry in params is
// sent as the request options rather than as a parameter.
func (o *Orchestrator) SetGroupParams(ctx context.Context, groupID string, params map[string]any) error {
	g, ok := o.Group(groupID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	params, opts := splitOpts(params)
	params, err := convertModeParams(params, g.Summary().Modes)
	if err != nil {
		return err
	}

	_, err = o.call(ctx, func(ctx context.Context) (map[string]any, error) {
		return o.api.PutGroup(ctx, g.InstallationID(), g.ID(), commandBody(params, opts))
	})
	if err != nil {
		return fmt.Errorf("setting params on group %s: %w", g.ID(), err)
	}
	o.logger.Info("group parameters set", "group_id", g.ID(), "params", len(params))

	return errors.Join(g.SetParams(params), o.UpdateDevices(ctx, g.Devices()))
}

// SetInstallationParams sends an installation-wide command, applies it to
// every device locally and polls them to confirm. Options are taken from
// params the same way as in SetGroupParams.
func (o *Orchestrator) SetInstallationParams(ctx context.Context, instID string, params map[string]any) error {
	inst, ok := o.Installation(instID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstallation, instID)
	}
	params, opts := splitOpts(params)
	params, err := convertModeParams(params, inst.Summary().Modes)
	if err != nil {
		return err
	}

	_, err = o.call(ctx, func(ctx context.Context) (map[string]any, error) {
		return o.api.PutInstallation(ctx, inst.ID(), commandBody(params, opts))
	})
	if err != nil {
		return fmt.Errorf("setting params on installation %s: %w", inst.ID(), err)
	}
	o.logger.Info("installation parameters set", "installation_id", inst.ID(), "params", len(params))

	return errors.Join(inst.SetParams(params), o.UpdateDevices(ctx, inst.Devices()))
}
