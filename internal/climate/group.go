package climate

import (
	"errors"
	"slices"
	"sort"
	"sync"
)

// Climatic is a device with HVAC state. Groups aggregate over these.
type Climatic interface {
	Device
	HVACState() HVACState
}

// Summary is the aggregated view of a set of HVAC devices.
type Summary struct {
	Mode       Mode
	Modes      []Mode
	Action     Action
	Active     *bool
	Power      *bool
	Available  bool
	Humidity   *int
	Temp       *float64
	TempSet    *float64
	TempSetMax *float64
	TempSetMin *float64
	TempStep   float64
	NumDevices int
}

// Summarize aggregates member states in the given order.
//
// Order matters only for ties: the mode and action votes pick the value
// seen first among equally frequent candidates.
func Summarize(states []HVACState) Summary {
	sum := Summary{
		Mode:       ModeStop,
		Action:     ActionOff,
		TempStep:   DefaultTempStep,
		NumDevices: len(states),
	}

	var (
		modes    []Mode
		actions  []Action
		active   []bool
		power    []bool
		humidity []float64
		temp     []float64
		tempSet  []float64
		setMax   []float64
		setMin   []float64
	)

	for _, st := range states {
		if st.Mode != nil {
			modes = append(modes, *st.Mode)
		}
		actions = append(actions, st.Action())
		if st.Active != nil {
			active = append(active, *st.Active)
		}
		if st.Power != nil {
			power = append(power, *st.Power)
		}
		if st.Humidity != nil {
			humidity = append(humidity, float64(*st.Humidity))
		}
		appendPtr(&temp, st.Temperature())
		appendPtr(&tempSet, st.TempSet())
		appendPtr(&setMax, st.TempSetMax())
		appendPtr(&setMin, st.TempSetMin())
		for _, m := range st.Modes {
			if !slices.Contains(sum.Modes, m) {
				sum.Modes = append(sum.Modes, m)
			}
		}
		if st.Available() {
			sum.Available = true
		}
	}

	if m, ok := mostCommon(modes, func(m Mode) bool { return m == ModeStop }); ok {
		sum.Mode = m
	}

	if a, ok := mostCommon(actions, func(a Action) bool { return a == ActionIdle || a == ActionOff }); ok {
		sum.Action = a
	} else if slices.Contains(actions, ActionIdle) {
		sum.Action = ActionIdle
	}

	sum.Active = anyTrue(active)
	sum.Power = anyTrue(power)

	if mean, ok := average(humidity); ok {
		sum.Humidity = ptr(int(mean))
	}
	sum.Temp = averageRounded(temp)
	sum.TempSet = averageRounded(tempSet)
	sum.TempSetMax = averageRounded(setMax)
	sum.TempSetMin = averageRounded(setMin)

	return sum
}

// mostCommon returns the most frequent value not excluded by skip.
// Ties go to the value seen first.
func mostCommon[T comparable](values []T, skip func(T) bool) (T, bool) {
	var (
		best  T
		count int
	)
	counts := make(map[T]int)
	var order []T
	for _, v := range values {
		if skip(v) {
			continue
		}
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}
	for _, v := range order {
		if counts[v] > count {
			best, count = v, counts[v]
		}
	}
	return best, count > 0
}

func anyTrue(values []bool) *bool {
	if len(values) == 0 {
		return nil
	}
	return ptr(slices.Contains(values, true))
}

func average(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values)), true
}

func averageRounded(values []float64) *float64 {
	mean, ok := average(values)
	if !ok {
		return nil
	}
	return ptr(round1(mean))
}

func appendPtr(dst *[]float64, v *float64) {
	if v != nil {
		*dst = append(*dst, *v)
	}
}

// Group is a named collection of devices within an installation.
//
// Members are referenced, not owned: the same device may belong to the
// installation and to several groups. A Group keeps no state of its own;
// every summary is computed from current member state.
type Group struct {
	id             string
	name           string
	installationID string

	mu      sync.RWMutex
	aidoos  []*Aidoo
	zones   []*Zone
	systems []*System
	dhws    []*HotWater
}

// NewGroup creates an empty group.
func NewGroup(id, name, instID string) *Group {
	if name == "" {
		name = "Group"
	}
	return &Group{id: id, name: name, installationID: instID}
}

// ID returns the group id.
func (g *Group) ID() string { return g.id }

// Name returns the display name.
func (g *Group) Name() string { return g.name }

// InstallationID returns the owning installation id.
func (g *Group) InstallationID() string { return g.installationID }

// Add adds d to the group. Kinds that do not take part in aggregation
// (air quality sensors, outputs) are ignored. Adding twice is a no-op.
func (g *Group) Add(d Device) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch v := d.(type) {
	case *Aidoo:
		g.aidoos = addUnique(g.aidoos, v)
	case *Zone:
		g.zones = addUnique(g.zones, v)
	case *System:
		g.systems = addUnique(g.systems, v)
	case *HotWater:
		g.dhws = addUnique(g.dhws, v)
	}
}

func addUnique[T interface{ ID() string }](list []T, d T) []T {
	for _, existing := range list {
		if existing.ID() == d.ID() {
			return list
		}
	}
	return append(list, d)
}

// Members returns the aggregated members: aidoos first, then zones.
func (g *Group) Members() []Climatic {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Climatic, 0, len(g.aidoos)+len(g.zones))
	for _, a := range g.aidoos {
		out = append(out, a)
	}
	for _, z := range g.zones {
		out = append(out, z)
	}
	return out
}

// Devices returns every member device, including systems and hot water.
func (g *Group) Devices() []Device {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Device, 0, len(g.aidoos)+len(g.zones)+len(g.systems)+len(g.dhws))
	for _, a := range g.aidoos {
		out = append(out, a)
	}
	for _, s := range g.systems {
		out = append(out, s)
	}
	for _, z := range g.zones {
		out = append(out, z)
	}
	for _, h := range g.dhws {
		out = append(out, h)
	}
	return out
}

// Summary aggregates the current state of the HVAC members.
func (g *Group) Summary() Summary {
	members := g.Members()
	states := make([]HVACState, len(members))
	for i, m := range members {
		states[i] = m.HVACState()
	}
	return Summarize(states)
}

// SetParams applies each parameter to every HVAC member through the
// member's own setter. Parameters a member does not support are skipped.
// No remote command is sent; the caller does that.
func (g *Group) SetParams(params map[string]any) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, k := range keys {
		for _, m := range g.Members() {
			if err := m.SetParam(k, params[k]); err != nil && !errors.Is(err, ErrUnsupportedParam) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Data returns a JSON-ready snapshot.
func (g *Group) Data() map[string]any {
	data := g.summaryData()
	data["installation"] = g.installationID
	return data
}

func (g *Group) summaryData() map[string]any {
	sum := g.Summary()
	data := map[string]any{
		"id":               g.id,
		"name":             g.name,
		"mode":             int(sum.Mode),
		"action":           int(sum.Action),
		"available":        sum.Available,
		"num-devices":      sum.NumDevices,
		"temperature-step": sum.TempStep,
	}
	putPtr(data, "active", sum.Active)
	putPtr(data, "power", sum.Power)
	putPtr(data, "humidity", sum.Humidity)
	putPtr(data, "temperature", sum.Temp)
	putPtr(data, "temperature-setpoint", sum.TempSet)
	putPtr(data, "temperature-setpoint-max", sum.TempSetMax)
	putPtr(data, "temperature-setpoint-min", sum.TempSetMin)
	if len(sum.Modes) > 0 {
		modes := make([]int, len(sum.Modes))
		for i, m := range sum.Modes {
			modes[i] = int(m)
		}
		data["modes"] = modes
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	putIDs(data, "aidoos", g.aidoos)
	putIDs(data, "zones", g.zones)
	putIDs(data, "systems", g.systems)
	putIDs(data, "hot-waters", g.dhws)
	return data
}

func putIDs[T interface{ ID() string }](data map[string]any, key string, list []T) {
	if len(list) == 0 {
		return
	}
	ids := make([]string, len(list))
	for i, d := range list {
		ids[i] = d.ID()
	}
	data[key] = ids
}
