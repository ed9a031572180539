// Package influxdb records climate telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched climate writes and health monitoring.
//
// # Schema
//
// Each device reading is one point in the "climate" measurement:
//
//	climate,device_id=z1,installation=inst1,kind=zone temperature=21.5,humidity=40i,setpoint=22,power=true
//
// Fields the device does not report are omitted. A reading identical to
// the last one written for the same device is skipped.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteClimateMetric(sample)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write errors arrive asynchronously through the SetOnError callback,
// wrapped in ErrWriteFailed.
// Connection and health check errors are returned directly.
package influxdb
