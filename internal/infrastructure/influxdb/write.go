package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementClimate is the measurement holding device readings.
const MeasurementClimate = "climate"

// ClimateSample is one reading of a climate device. Nil values were not
// reported and are left out of the point.
type ClimateSample struct {
	DeviceID       string
	InstallationID string
	Kind           string

	Temperature *float64
	Humidity    *int
	Setpoint    *float64
	Power       *bool
	Mode        *int

	// Time is the capture time; zero means now.
	Time time.Time
}

// Point converts s into a line protocol point. ok is false when s carries
// no fields, since InfluxDB rejects points without fields.
func (s ClimateSample) Point() (p *write.Point, ok bool) {
	fields := s.fields()
	if len(fields) == 0 {
		return nil, false
	}
	return write.NewPoint(MeasurementClimate, s.tags(), fields, s.timestamp()), true
}

func (s ClimateSample) fields() map[string]any {
	fields := make(map[string]any)
	if s.Temperature != nil {
		fields["temperature"] = *s.Temperature
	}
	if s.Humidity != nil {
		fields["humidity"] = *s.Humidity
	}
	if s.Setpoint != nil {
		fields["setpoint"] = *s.Setpoint
	}
	if s.Power != nil {
		fields["power"] = *s.Power
	}
	if s.Mode != nil {
		fields["mode"] = *s.Mode
	}
	return fields
}

func (s ClimateSample) tags() map[string]string {
	tags := map[string]string{"device_id": s.DeviceID}
	if s.InstallationID != "" {
		tags["installation"] = s.InstallationID
	}
	if s.Kind != "" {
		tags["kind"] = s.Kind
	}
	return tags
}

func (s ClimateSample) timestamp() time.Time {
	if s.Time.IsZero() {
		return time.Now()
	}
	return s.Time
}

// WriteClimateMetric queues one device reading. It returns false when
// the client is closed, the sample has no fields, or the fields equal
// the last reading written for the device.
//
// The write is non-blocking; points are batched and sent in the
// background.
func (c *Client) WriteClimateMetric(s ClimateSample) bool {
	if !c.IsConnected() {
		return false
	}
	fields := s.fields()
	if len(fields) == 0 || !c.remember(s.DeviceID, fields) {
		return false
	}
	c.writeAPI.WritePoint(write.NewPoint(MeasurementClimate, s.tags(), fields, s.timestamp()))
	return true
}
