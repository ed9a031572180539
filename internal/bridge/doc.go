// Package bridge mirrors climate state onto MQTT and turns MQTT command
// messages into cloud commands.
//
// Every changed device is published retained on
// {prefix}/{installation}/device/{id}/state, followed by the aggregate of
// each group that contains it and of its installation. Payloads are only
// republished when the entity data changed.
//
// Commands are JSON objects of parameter names to values published on
// {prefix}/{installation}/device/{id}/set or .../group/{id}/set. The
// outcome is acknowledged on the matching .../ack topic.
//
// Thread Safety:
//   - Publish may be called concurrently from orchestrator callbacks.
//   - Command handlers run on the MQTT client's delivery goroutines.
package bridge
