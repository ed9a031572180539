package climate

import (
	"reflect"
	"sync"
	"testing"
	"time"
)

func newTestZone(t *testing.T) *Zone {
	t.Helper()
	z, err := NewZone("inst1", "ws1", map[string]any{
		"device_id":     "zone1",
		"type":          "az_zone",
		"system_number": 1.0,
		"zone_number":   2.0,
	})
	if err != nil {
		t.Fatalf("NewZone() error = %v", err)
	}
	return z
}

func celsius(v float64) map[string]any {
	return map[string]any{"celsius": v}
}

func fullZonePayload(temp float64) map[string]any {
	return map[string]any{
		"active":            true,
		"power":             true,
		"mode":              3.0,
		"mode_available":    []any{1.0, 2.0, 3.0},
		"humidity":          45.0,
		"local_temp":        celsius(temp),
		"setpoint_air_heat": celsius(21),
		"setpoint_air_cool": celsius(25),
	}
}

func at(base time.Time, seconds int) time.Time {
	return base.Add(time.Duration(seconds) * time.Second)
}

func TestZone_ApplyFullInitializes(t *testing.T) {
	z := newTestZone(t)
	if z.Initialized() {
		t.Fatal("new zone should not be initialized")
	}

	if !z.Apply(NewUpdate(OriginPollFull, fullZonePayload(20.5))) {
		t.Fatal("Apply() = false, want true")
	}

	if !z.Initialized() {
		t.Error("zone should be initialized after a full update")
	}
	st := z.State()
	if st.Temperature() == nil || *st.Temperature() != 20.5 {
		t.Errorf("Temperature() = %v, want 20.5", st.Temperature())
	}
	if st.Master == nil || !*st.Master {
		t.Errorf("Master = %v, want true", st.Master)
	}
}

func TestZone_ApplyPartialDoesNotInitialize(t *testing.T) {
	z := newTestZone(t)
	z.Apply(NewUpdate(OriginPollPartial, map[string]any{"power": true}))
	if z.Initialized() {
		t.Error("partial update must not mark the zone initialized")
	}
	z.Apply(NewUpdate(OriginPushFull, map[string]any{"power": true}))
	if !z.Initialized() {
		t.Error("push full update should mark the zone initialized")
	}
}

func TestZone_ApplyIdempotent(t *testing.T) {
	once := newTestZone(t)
	twice := newTestZone(t)
	u := NewUpdate(OriginPollFull, fullZonePayload(22))

	once.Apply(u)
	twice.Apply(u)
	if !twice.Apply(u) {
		t.Error("replaying the same update should be accepted")
	}

	if !reflect.DeepEqual(once.Data(), twice.Data()) {
		t.Errorf("state differs after replay:\nonce:  %v\ntwice: %v", once.Data(), twice.Data())
	}
	if !once.LastApplied().Equal(twice.LastApplied()) {
		t.Error("LastApplied differs after replay")
	}
}

func TestZone_ApplyMonotonic(t *testing.T) {
	base := time.Now()
	updates := []Update{
		{CreatedAt: at(base, 1), Origin: OriginPollFull, Payload: fullZonePayload(19)},
		{CreatedAt: at(base, 3), Origin: OriginPollFull, Payload: fullZonePayload(23)},
		{CreatedAt: at(base, 2), Origin: OriginPollFull, Payload: fullZonePayload(21)},
	}

	orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 0, 2}, {2, 0, 1}}
	for _, order := range orders {
		z := newTestZone(t)
		for _, i := range order {
			z.Apply(updates[i])
		}
		temp := z.State().Temperature()
		if temp == nil || *temp != 23 {
			t.Errorf("order %v: Temperature() = %v, want 23 from the newest update", order, temp)
		}
		if !z.LastApplied().Equal(at(base, 3)) {
			t.Errorf("order %v: LastApplied = %v, want newest", order, z.LastApplied())
		}
	}
}

func TestZone_ApplyRejectsOlder(t *testing.T) {
	base := time.Now()
	z := newTestZone(t)

	z.Apply(Update{CreatedAt: at(base, 10), Origin: OriginPollFull, Payload: fullZonePayload(20)})
	applied := z.Apply(Update{CreatedAt: at(base, 5), Origin: OriginPollFull, Payload: fullZonePayload(30)})

	if applied {
		t.Error("Apply() = true for an older update, want false")
	}
	if temp := z.State().Temperature(); *temp != 20 {
		t.Errorf("Temperature() = %v, want 20", *temp)
	}
}

func TestZone_ActiveNullVersusAbsent(t *testing.T) {
	tests := []struct {
		name    string
		origin  Origin
		payload map[string]any
		prior   *bool
		want    *bool
	}{
		{
			name:    "full update with null is false",
			origin:  OriginPollFull,
			payload: map[string]any{"active": nil},
			prior:   ptr(true),
			want:    ptr(false),
		},
		{
			name:    "full update without key is unknown",
			origin:  OriginPollFull,
			payload: map[string]any{"power": true},
			prior:   ptr(true),
			want:    nil,
		},
		{
			name:    "push full update with null is false",
			origin:  OriginPushFull,
			payload: map[string]any{"active": nil},
			prior:   ptr(true),
			want:    ptr(false),
		},
		{
			name:    "full update with value",
			origin:  OriginPollFull,
			payload: map[string]any{"active": true},
			prior:   ptr(false),
			want:    ptr(true),
		},
		{
			name:    "push partial without key is unchanged",
			origin:  OriginPushPartial,
			payload: map[string]any{"change": map[string]any{"status": map[string]any{"power": true}}},
			prior:   ptr(true),
			want:    ptr(true),
		},
		{
			name:    "poll partial without key is unchanged",
			origin:  OriginPollPartial,
			payload: map[string]any{"power": true},
			prior:   ptr(true),
			want:    ptr(true),
		},
		{
			name:    "push partial with null is unchanged",
			origin:  OriginPushPartial,
			payload: map[string]any{"change": map[string]any{"status": map[string]any{"active": nil}}},
			prior:   ptr(true),
			want:    ptr(true),
		},
		{
			name:    "push partial with value",
			origin:  OriginPushPartial,
			payload: map[string]any{"change": map[string]any{"status": map[string]any{"active": false}}},
			prior:   ptr(true),
			want:    ptr(false),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := time.Now()
			z := newTestZone(t)
			z.Apply(Update{CreatedAt: base, Origin: OriginPollFull, Payload: map[string]any{"active": *tt.prior}})

			z.Apply(Update{CreatedAt: at(base, 1), Origin: tt.origin, Payload: tt.payload})

			got := z.State().Active
			if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
				t.Errorf("Active = %v, want %v", fmtBool(got), fmtBool(tt.want))
			}
		})
	}
}

func fmtBool(b *bool) string {
	if b == nil {
		return "unknown"
	}
	if *b {
		return "true"
	}
	return "false"
}

func TestZone_PartialPreservesFields(t *testing.T) {
	base := time.Now()
	z := newTestZone(t)
	z.Apply(Update{CreatedAt: base, Origin: OriginPollFull, Payload: fullZonePayload(20)})

	z.Apply(Update{
		CreatedAt: at(base, 1),
		Origin:    OriginPushPartial,
		Payload: map[string]any{
			"change": map[string]any{"status": map[string]any{"humidity": 60.0}},
		},
	})

	st := z.State()
	if st.Humidity == nil || *st.Humidity != 60 {
		t.Errorf("Humidity = %v, want 60", st.Humidity)
	}
	if st.Temperature() == nil || *st.Temperature() != 20 {
		t.Errorf("Temperature() = %v, want 20 preserved", st.Temperature())
	}
	if st.Mode == nil || *st.Mode != ModeHeating {
		t.Errorf("Mode = %v, want heating preserved", st.Mode)
	}
	if st.TempSet() == nil || *st.TempSet() != 21 {
		t.Errorf("TempSet() = %v, want 21 preserved", st.TempSet())
	}
}

func TestZone_ConcurrentApply(t *testing.T) {
	base := time.Now()
	z := newTestZone(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			z.Apply(Update{CreatedAt: at(base, i), Origin: OriginPollFull, Payload: fullZonePayload(float64(i))})
		}(i)
	}
	wg.Wait()

	if temp := z.State().Temperature(); temp == nil || *temp != 49 {
		t.Errorf("Temperature() = %v, want 49 from the newest update", temp)
	}
}

func TestHVACState_Action(t *testing.T) {
	mode := func(m Mode) *Mode { return &m }

	tests := []struct {
		name  string
		state HVACState
		want  Action
	}{
		{"power unknown", HVACState{}, ActionOff},
		{"power off", HVACState{HVACFields: HVACFields{Power: ptr(false), Active: ptr(true)}}, ActionOff},
		{"powered idle", HVACState{HVACFields: HVACFields{Power: ptr(true), Active: ptr(false)}}, ActionIdle},
		{"cooling", HVACState{DeviceState: DeviceState{Mode: mode(ModeCoolingAir)}, HVACFields: HVACFields{Power: ptr(true), Active: ptr(true)}}, ActionCooling},
		{"heating", HVACState{DeviceState: DeviceState{Mode: mode(ModeHeatRadiant)}, HVACFields: HVACFields{Power: ptr(true), Active: ptr(true)}}, ActionHeating},
		{"fan", HVACState{DeviceState: DeviceState{Mode: mode(ModeVentilation)}, HVACFields: HVACFields{Power: ptr(true), Active: ptr(true)}}, ActionFan},
		{"drying", HVACState{DeviceState: DeviceState{Mode: mode(ModeDry)}, HVACFields: HVACFields{Power: ptr(true), Active: ptr(true)}}, ActionDrying},
		{"stop", HVACState{DeviceState: DeviceState{Mode: mode(ModeStop)}, HVACFields: HVACFields{Power: ptr(true), Active: ptr(true)}}, ActionOff},
		{"auto without auto mode", HVACState{DeviceState: DeviceState{Mode: mode(ModeAuto)}, HVACFields: HVACFields{Power: ptr(true), Active: ptr(true)}}, ActionIdle},
		{"auto heating", HVACState{DeviceState: DeviceState{Mode: mode(ModeAuto), AutoMode: mode(ModeHeating)}, HVACFields: HVACFields{Power: ptr(true), Active: ptr(true)}}, ActionHeating},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Action(); got != tt.want {
				t.Errorf("Action() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHVAC_SetpointBounds(t *testing.T) {
	z := newTestZone(t)
	z.Apply(NewUpdate(OriginPollFull, map[string]any{
		"mode":                  2.0,
		"range_max_air":         celsius(30),
		"range_min_air":         celsius(15),
		"range_sp_cool_air_max": celsius(32.04),
		"range_sp_hot_air_min":  celsius(12.26),
		"setpoint_air_cool":     celsius(24.5),
		"step":                  celsius(1),
		"speed_values":          []any{3.0, 0.0, 1.0},
	}))

	st := z.State()
	if got := st.TempSetMax(); got == nil || *got != 32 {
		t.Errorf("TempSetMax() = %v, want 32", got)
	}
	if got := st.TempSetMin(); got == nil || *got != 12.3 {
		t.Errorf("TempSetMin() = %v, want 12.3", got)
	}
	if got := st.TempSet(); got == nil || *got != 24.5 {
		t.Errorf("TempSet() = %v, want 24.5", got)
	}
	if got := st.Step(); got != 1 {
		t.Errorf("Step() = %v, want 1", got)
	}
	want := map[int]int{0: 0, 1: 1, 2: 3}
	if !reflect.DeepEqual(st.Speeds, want) {
		t.Errorf("Speeds = %v, want %v", st.Speeds, want)
	}
}

func TestZone_SetParam(t *testing.T) {
	z := newTestZone(t)
	z.Apply(NewUpdate(OriginPollFull, fullZonePayload(20)))

	if err := z.SetParam("setpoint", 22.5); err != nil {
		t.Fatalf("SetParam(setpoint) error = %v", err)
	}
	if got := z.State().TempSet(); *got != 22.5 {
		t.Errorf("TempSet() = %v, want 22.5", *got)
	}

	if err := z.SetParam("power", false); err != nil {
		t.Fatalf("SetParam(power) error = %v", err)
	}
	if got := z.State().Power; got == nil || *got {
		t.Errorf("Power = %v, want false", fmtBool(got))
	}

	if err := z.SetParam("mode", 2.0); err != nil {
		t.Fatalf("SetParam(mode) error = %v", err)
	}
	if err := z.SetParam("mode", 5.0); err == nil {
		t.Error("SetParam(mode) with unavailable mode should fail")
	}
	if err := z.SetParam("bogus", 1); err == nil {
		t.Error("SetParam(bogus) should fail")
	}
}

func TestZone_ModeRedirectsToSystem(t *testing.T) {
	sys, err := NewSystem("inst1", "ws1", map[string]any{"device_id": "sys1", "system_number": 1.0})
	if err != nil {
		t.Fatalf("NewSystem() error = %v", err)
	}
	sys.Apply(NewUpdate(OriginPollFull, map[string]any{"mode": 3.0, "mode_available": []any{2.0, 3.0}}))

	z1 := newTestZone(t)
	z1.Apply(NewUpdate(OriginPollFull, fullZonePayload(20)))
	z2, _ := NewZone("inst1", "ws1", map[string]any{"device_id": "zone2", "system_number": 1.0, "zone_number": 3.0})
	z2.SetModes(sys.Modes())

	for _, z := range []*Zone{z1, z2} {
		z.SetSystem(sys)
		sys.AddZone(z)
	}

	if err := z1.SetParam("mode", 2.0); err != nil {
		t.Fatalf("SetParam(mode) error = %v", err)
	}

	for _, d := range []interface{ Mode() (Mode, bool) }{sys, z1, z2} {
		if m, ok := d.Mode(); !ok || m != ModeCooling {
			t.Errorf("Mode() = %v, %v, want cooling", m, ok)
		}
	}
}
