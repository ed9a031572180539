package climate

// Aidoo is a standalone air conditioning unit controlled through an
// Aidoo gateway. It has no system or zones.
type Aidoo struct {
	hvacBase
}

// NewAidoo builds an Aidoo from its discovery payload.
func NewAidoo(instID, wsID string, data map[string]any) (*Aidoo, error) {
	ds, err := newDeviceState(KindAidoo, instID, wsID, data)
	if err != nil {
		return nil, err
	}
	if name, ok := getString(data, KeyName); ok {
		ds.Name = name
	} else {
		ds.Name = "Aidoo " + wsID
	}
	a := &Aidoo{}
	a.ds = ds
	return a, nil
}

// Apply applies u if it is not older than the current state.
func (a *Aidoo) Apply(u Update) bool {
	return a.apply(u, func(data map[string]any) {
		a.decodeHVAC(u, data)
	})
}

// Data returns a JSON-ready snapshot.
func (a *Aidoo) Data() map[string]any {
	st := a.HVACState()
	data := make(map[string]any)
	st.fill(data)
	putPtr(data, "speed-type", st.SpeedType)
	return data
}

// SetParam updates local state for a command.
func (a *Aidoo) SetParam(param string, value any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch param {
	case KeyMode:
		return a.setModeParamLocked(value)
	case KeyPower:
		return a.setPowerLocked(value)
	case KeySetpoint:
		return a.setSetpointLocked(value)
	case setpointKeys[categoryCool]:
		return a.setCategorySetpointLocked(categoryCool, value)
	case setpointKeys[categoryHeat]:
		return a.setCategorySetpointLocked(categoryHeat, value)
	case KeySpeedConf:
		return a.setSpeedLocked(value)
	}
	return unsupported(a.ds.ID, param)
}
