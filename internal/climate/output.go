package climate

import "fmt"

// Output is a relay output module attached to a system.
type Output struct {
	deviceBase
	systemNumber int
}

// NewOutput builds an Output from its discovery payload.
func NewOutput(instID, wsID string, data map[string]any) (*Output, error) {
	ds, err := newDeviceState(KindOutput, instID, wsID, data)
	if err != nil {
		return nil, err
	}
	sysNum, err := requireInt(subData(data), KeySystemNumber)
	if err != nil {
		return nil, err
	}
	ds.Name = fmt.Sprintf("Output %d", sysNum)
	o := &Output{systemNumber: sysNum}
	o.ds = ds
	return o, nil
}

// SystemNumber returns the system index the output belongs to.
func (o *Output) SystemNumber() int { return o.systemNumber }

// Apply applies u if it is not older than the current state.
func (o *Output) Apply(u Update) bool {
	return o.apply(u, func(data map[string]any) {
		decodeDevice(&o.ds, data)
	})
}

// Data returns a JSON-ready snapshot.
func (o *Output) Data() map[string]any {
	data := make(map[string]any)
	o.DeviceState().fill(data)
	data["system"] = o.systemNumber
	return data
}

// SetParam rejects all parameters.
func (o *Output) SetParam(param string, _ any) error {
	return unsupported(o.ds.ID, param)
}
