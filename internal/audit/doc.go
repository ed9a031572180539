// Package audit records the parameter commands sent through the local API
// and the MQTT bridge, and serves them back for diagnostics.
//
// Entries live in the audit_logs table. Recording never fails a command:
// a failed insert is logged and dropped.
//
// Thread Safety:
//   - SQLiteRepository and Recorder are safe for concurrent use.
package audit
