package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/nerrad567/gray-logic-climate/internal/climate"
	"github.com/nerrad567/gray-logic-climate/internal/cloudapi"
)

// Update runs one update cycle.
//
// The token is refreshed first when stale. With push enabled the cycle
// reconnects channels that are not alive and waits, bounded by PushWait,
// for them to synchronize; any channel that does not makes the cycle
// poll every device instead. An authentication failure triggers exactly
// one login and retry.
func (o *Orchestrator) Update(ctx context.Context) error {
	start := o.now()
	path, err := o.update(ctx)
	o.metrics.observeUpdate(path, err, o.now().Sub(start))
	if err != nil {
		return fmt.Errorf("update cycle (%s): %w", path, err)
	}
	o.logger.Debug("update cycle complete", "path", path, "duration", o.now().Sub(start))
	return nil
}

func (o *Orchestrator) update(ctx context.Context) (string, error) {
	if err := o.ensureToken(ctx); err != nil {
		return PathNone, err
	}

	path, err := o.updateOnce(ctx)
	if err == nil || !cloudapi.IsAuthFailure(err) {
		return path, err
	}

	o.logger.Warn("update rejected by cloud, logging in again", "error", err)
	if err := o.Login(ctx); err != nil {
		return path, err
	}
	return o.updateOnce(ctx)
}

func (o *Orchestrator) updateOnce(ctx context.Context) (string, error) {
	if !o.opts.WebSockets || len(o.channelList()) == 0 {
		return PathPoll, o.UpdatePolling(ctx)
	}

	synced, err := o.updatePush(ctx)
	if synced {
		return PathPush, err
	}
	o.logger.Warn("push channel not synchronized, polling instead")
	return PathFallback, errors.Join(err, o.UpdatePolling(ctx))
}

// updatePush runs the push path and reports whether every channel is
// synchronized. The returned error only covers the initial config poll.
func (o *Orchestrator) updatePush(ctx context.Context) (bool, error) {
	var err error
	if o.pushFirst.Load() {
		if err = o.firstPushPoll(ctx); err == nil {
			o.pushFirst.Store(false)
		}
	}

	synced := true
	for _, ch := range o.channelList() {
		if !ch.Connected() || !ch.Alive() {
			o.metrics.reconnected()
			ch.Reconnect(ctx)
		}
		wctx, cancel := context.WithTimeout(ctx, o.opts.PushWait)
		werr := ch.WaitSynchronized(wctx)
		cancel()
		if werr != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			synced = false
			o.logger.Warn("push wait failed", "installation_id", ch.InstallationID(), "error", werr)
		}
	}

	o.linkDevices()
	return synced, err
}

// firstPushPoll fetches what the push snapshot lacks: web server status
// and device config. It is skipped, fully or partly, when the request
// count would exceed the per-minute budget.
func (o *Orchestrator) firstPushPoll(ctx context.Context) error {
	switch {
	case o.countPushPollRequests() <= o.opts.RequestsLimit:
		return errors.Join(
			o.UpdateWebServers(ctx, false),
			fanOut(ctx, o.configDevices(), o.pollConfig),
		)
	case len(o.WebServers()) <= o.opts.RequestsLimit:
		o.logger.Debug("push: only polling web servers")
		return o.UpdateWebServers(ctx, false)
	}
	o.logger.Debug("push: skipping initial poll")
	return nil
}

// UpdatePolling polls every web server and device.
func (o *Orchestrator) UpdatePolling(ctx context.Context) error {
	if n := o.countPollRequests(); n > o.opts.RequestsLimit {
		o.logger.Warn("polling exceeds the request budget, enable push updates",
			"requests", n, "limit", o.opts.RequestsLimit)
	}

	wsErr := o.UpdateWebServers(ctx, false)
	return errors.Join(wsErr, parallel(ctx,
		o.UpdateSystemsZones,
		o.UpdateAidoos,
		o.UpdateHotWaters,
		o.UpdateOutputs,
	))
}

// UpdateSystemsZones polls air quality sensors, systems and zones, then
// relinks them.
func (o *Orchestrator) UpdateSystemsZones(ctx context.Context) error {
	err := parallel(ctx, o.UpdateAirQuality, o.UpdateSystems, o.UpdateZones)
	o.linkDevices()
	return err
}

// UpdateZones polls every zone.
func (o *Orchestrator) UpdateZones(ctx context.Context) error {
	return o.UpdateDevices(ctx, o.devicesOf(climate.KindZone))
}

// UpdateSystems polls every system.
func (o *Orchestrator) UpdateSystems(ctx context.Context) error {
	return o.UpdateDevices(ctx, o.devicesOf(climate.KindSystem))
}

// UpdateAidoos polls every aidoo.
func (o *Orchestrator) UpdateAidoos(ctx context.Context) error {
	return o.UpdateDevices(ctx, o.devicesOf(climate.KindAidoo))
}

// UpdateHotWaters polls every hot water device.
func (o *Orchestrator) UpdateHotWaters(ctx context.Context) error {
	return o.UpdateDevices(ctx, o.devicesOf(climate.KindHotWater))
}

// UpdateAirQuality polls every air quality sensor.
func (o *Orchestrator) UpdateAirQuality(ctx context.Context) error {
	return o.UpdateDevices(ctx, o.devicesOf(climate.KindAirQuality))
}

// UpdateOutputs polls every output device.
func (o *Orchestrator) UpdateOutputs(ctx context.Context) error {
	return o.UpdateDevices(ctx, o.devicesOf(climate.KindOutput))
}

// UpdateDevices polls the given devices concurrently. A failing device
// does not stop the others; all failures are joined.
func (o *Orchestrator) UpdateDevices(ctx context.Context, devices []climate.Device) error {
	return fanOut(ctx, devices, o.UpdateDevice)
}

// UpdateDevice polls one device and applies the merged config and status
// as a full update. Nothing is applied when either request fails.
func (o *Orchestrator) UpdateDevice(ctx context.Context, dev climate.Device) error {
	var cfg, status map[string]any

	fetchStatus := func(ctx context.Context) error {
		var err error
		status, err = o.deviceStatus(ctx, dev)
		return err
	}
	fetchConfig := func(ctx context.Context) error {
		var err error
		cfg, err = o.deviceConfig(ctx, dev)
		return err
	}

	var err error
	if dev.Kind() == climate.KindHotWater {
		err = fetchStatus(ctx)
	} else {
		err = parallel(ctx, fetchConfig, fetchStatus)
	}
	if err != nil {
		return fmt.Errorf("updating %s %s: %w", dev.Kind(), dev.ID(), err)
	}

	payload := make(map[string]any, len(cfg)+len(status))
	maps.Copy(payload, cfg)
	maps.Copy(payload, status)
	if dev.Apply(climate.NewUpdate(climate.OriginPollFull, payload)) {
		o.notify(dev)
	}
	return nil
}

// pollConfig fetches a device's config and applies it as a partial update.
func (o *Orchestrator) pollConfig(ctx context.Context, dev climate.Device) error {
	cfg, err := o.deviceConfig(ctx, dev)
	if err != nil {
		return fmt.Errorf("polling config of %s %s: %w", dev.Kind(), dev.ID(), err)
	}
	if dev.Apply(climate.NewUpdate(climate.OriginPollPartial, cfg)) {
		o.notify(dev)
	}
	return nil
}

// deviceConfig returns an empty config without a request when config
// polling is disabled.
func (o *Orchestrator) deviceConfig(ctx context.Context, dev climate.Device) (map[string]any, error) {
	if !o.opts.DeviceConfig {
		return map[string]any{}, nil
	}
	requestType := climate.RequestTypeUser
	if inst, ok := o.Installation(dev.InstallationID()); ok {
		requestType = inst.RequestType()
	}
	resp, err := o.call(ctx, func(ctx context.Context) (map[string]any, error) {
		return o.api.DeviceConfig(ctx, dev.ID(), dev.InstallationID(), requestType)
	})
	if err != nil {
		return nil, err
	}
	o.setRaw(RawDevicesConfig, dev.ID(), resp)
	return resp, nil
}

func (o *Orchestrator) deviceStatus(ctx context.Context, dev climate.Device) (map[string]any, error) {
	resp, err := o.call(ctx, func(ctx context.Context) (map[string]any, error) {
		return o.api.DeviceStatus(ctx, dev.ID(), dev.InstallationID())
	})
	if err != nil {
		return nil, err
	}
	o.setRaw(RawDevicesStatus, dev.ID(), resp)
	return resp, nil
}

// configDevices returns the devices that have a config endpoint.
func (o *Orchestrator) configDevices() []climate.Device {
	return o.devicesOf(climate.KindAidoo, climate.KindAirQuality, climate.KindOutput, climate.KindSystem, climate.KindZone)
}

// countPollRequests returns the number of requests UpdatePolling issues.
func (o *Orchestrator) countPollRequests() int {
	n := len(o.Devices()) + len(o.WebServers())
	if o.opts.DeviceConfig {
		n += len(o.configDevices())
	}
	return n
}

// countPushPollRequests returns the number of requests the first push
// cycle issues.
func (o *Orchestrator) countPushPollRequests() int {
	n := len(o.WebServers())
	if o.opts.DeviceConfig {
		n += len(o.configDevices())
	}
	return n
}

// CheckPush reconnects every push channel that has not been alive within
// its window and returns how many it reconnected.
func (o *Orchestrator) CheckPush(ctx context.Context) int {
	if !o.opts.WebSockets {
		return 0
	}
	n := 0
	for _, ch := range o.channelList() {
		if ch.Alive() {
			continue
		}
		o.metrics.reconnected()
		ch.Reconnect(ctx)
		n++
	}
	return n
}
