// Package api serves the local HTTP API of the climate sync engine.
//
// It provides:
//   - REST endpoints for installations, devices and groups
//   - Parameter commands for devices and groups, forwarded to the cloud
//   - An on-demand update cycle and the raw cloud data for diagnostics
//   - A WebSocket hub routing state changes by channel
//   - The command audit trail, when an AuditLog is configured
//   - The Prometheus metrics endpoint
//
// # Architecture
//
// The server reads entities from a Controller (the orchestrator) and never
// talks to the cloud itself. State changes reach WebSocket clients through
// Publish, which the caller subscribes to the orchestrator.
//
// When Deps.Keys is set, /raw, /update, /audit and the params routes require the
// API key as "Authorization: Bearer <key>" or "X-API-Key: <key>". Reads and
// the WebSocket stay open.
//
// WebSocket clients pick their channels with ?channels=a,b on the
// upgrade URL or with
//
//	{"type": "subscribe", "payload": {"channels": ["state.zone", "entity.g1"]}}
//
// "state.changed" carries every entity, "state.<type>" every entity of
// one type (zone, group, installation, webserver...) and "entity.<id>" a
// single entity. A device change is followed by the groups containing
// it. The subscribe reply carries a snapshot of the matching entities,
// and each event arrives once per client as
//
//	{"type": "event", "event_type": "state.zone", "payload": {...}}
//
// Thread Safety: All methods are safe for concurrent use.
package api
