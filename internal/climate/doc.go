// Package climate models the live state of cloud-connected climate devices.
//
// Every remote device, web server (gateway) and installation is tracked as
// an in-memory entity. State is never written directly: each payload
// received from the cloud becomes an Update, and Update values are applied
// to the matching entity through its Apply method.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                          climate                                  │
//	│                                                                   │
//	│  ┌──────────────┐   Apply    ┌──────────────┐   State    ┌──────┐ │
//	│  │    Update    │──────────▶│   Entities   │──────────▶│Group │ │
//	│  │ (update.go)  │           │ Zone, System │            │      │ │
//	│  │ origin, time │           │ Aidoo, DHW … │            │votes │ │
//	│  └──────────────┘           └──────────────┘            └──────┘ │
//	└──────────────────────────────────────────────────────────────────┘
//
// # Reconciliation
//
// An update is applied only when its capture time is not older than the
// entity's last applied update. Older updates are discarded silently, so
// polling and push deliveries may interleave in any order. Fields absent
// from a payload leave the entity unchanged. The "active" tri-state flags
// are the one exception: on a full update an explicit null means false and
// an absent key means unknown.
//
// # Device Kinds
//
// The cloud type tag is mapped to a closed set of kinds (see Kind). Each
// kind is a concrete struct composed from shared state structs:
//
//	DeviceState ─┬─ HVACState ─┬─ ZoneState
//	             │             └─ AidooState
//	             ├─ SystemState
//	             ├─ HotWaterState
//	             ├─ AirQualityState
//	             └─ OutputState
//
// # Groups
//
// Group holds non-exclusive references to member entities and computes
// summaries (mode vote, action precedence, averages) on every query.
//
// # Thread Safety
//
// Each entity owns a lock. Apply, SetParam and the State accessors are safe
// for concurrent use; updates to different entities never contend.
package climate
