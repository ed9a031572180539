package climate

import (
	"fmt"
	"maps"
	"time"
)

// Origin identifies where an Update came from and whether it is complete.
type Origin int

// Update origins.
const (
	// OriginPollFull is a merged config and status response from polling.
	OriginPollFull Origin = iota + 1

	// OriginPollPartial is a polled response covering only part of the state.
	OriginPollPartial

	// OriginPushFull is a complete device snapshot from the push channel.
	OriginPushFull

	// OriginPushPartial is an incremental change from the push channel.
	OriginPushPartial
)

// String returns the origin name used in logs.
func (o Origin) String() string {
	switch o {
	case OriginPollFull:
		return "poll-full"
	case OriginPollPartial:
		return "poll-partial"
	case OriginPushFull:
		return "push-full"
	case OriginPushPartial:
		return "push-partial"
	}
	return fmt.Sprintf("origin(%d)", int(o))
}

// IsFull reports whether updates of this origin carry a complete snapshot.
func (o Origin) IsFull() bool {
	return o == OriginPollFull || o == OriginPushFull
}

// IsPartial reports whether updates of this origin are incremental.
func (o Origin) IsPartial() bool {
	return o == OriginPollPartial || o == OriginPushPartial
}

// Payload keys used when flattening push messages.
const (
	keyChange         = "change"
	keyAdvancedConfig = "advancedConfig"
	keyStatus         = "status"
)

// Update is one received payload, stamped with its capture time.
//
// An Update is immutable once built. CreatedAt carries Go's monotonic
// clock reading when produced by NewUpdate, so ordering between updates
// built in the same process is immune to wall clock changes.
type Update struct {
	CreatedAt time.Time
	Origin    Origin
	Payload   map[string]any
}

// NewUpdate stamps a payload with the current time.
func NewUpdate(origin Origin, payload map[string]any) Update {
	return Update{
		CreatedAt: time.Now(),
		Origin:    origin,
		Payload:   payload,
	}
}

// Newer reports whether u may replace state last applied at t.
// Equal timestamps are accepted so that replaying an update is harmless.
func (u Update) Newer(t time.Time) bool {
	return !u.CreatedAt.Before(t)
}

// Data returns the flattened payload used for field extraction.
//
// Push partial updates nest their fields under change.advancedConfig and
// change.status; both are merged with status taking precedence. Push full
// updates carry a nested status map which is merged over the top level.
// Poll payloads are returned as-is. The returned map is never nil and
// never aliases nested maps of the payload.
func (u Update) Data() map[string]any {
	switch u.Origin {
	case OriginPushPartial:
		change, _ := u.Payload[keyChange].(map[string]any)
		out := make(map[string]any)
		if adv, ok := change[keyAdvancedConfig].(map[string]any); ok {
			maps.Copy(out, adv)
		}
		if status, ok := change[keyStatus].(map[string]any); ok {
			maps.Copy(out, status)
		}
		return out
	case OriginPushFull:
		out := make(map[string]any, len(u.Payload))
		maps.Copy(out, u.Payload)
		if status, ok := u.Payload[keyStatus].(map[string]any); ok {
			maps.Copy(out, status)
		}
		return out
	}
	if u.Payload == nil {
		return map[string]any{}
	}
	return u.Payload
}

// String implements fmt.Stringer for debug logging.
func (u Update) String() string {
	return fmt.Sprintf("%s update at %s with %d keys", u.Origin, u.CreatedAt.Format(time.RFC3339Nano), len(u.Payload))
}
