package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-climate/internal/climate"
	"github.com/nerrad567/gray-logic-climate/internal/push"
)

// Response keys used by discovery.
const (
	keyInstallations = "installations"
	keyParams        = "params"
)

// ListInstallations fetches the installations visible to the account.
// Entries that cannot be parsed are logged and skipped.
func (o *Orchestrator) ListInstallations(ctx context.Context) ([]*climate.Installation, error) {
	resp, err := o.call(ctx, o.api.Installations)
	if err != nil {
		return nil, fmt.Errorf("listing installations: %w", err)
	}
	o.setRaw(RawInstallationsList, "", resp)

	items, _ := resp[keyInstallations].([]any)
	out := make([]*climate.Installation, 0, len(items))
	for _, item := range items {
		data, ok := item.(map[string]any)
		if !ok {
			continue
		}
		inst, err := climate.NewInstallation(data)
		if err != nil {
			o.logger.Warn("skipping installation", "error", err)
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

// UpdateInstallations registers every installation not yet known,
// together with its web servers.
func (o *Orchestrator) UpdateInstallations(ctx context.Context) error {
	list, err := o.ListInstallations(ctx)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, inst := range list {
		if _, ok := o.installations[inst.ID()]; ok {
			continue
		}
		o.installations[inst.ID()] = inst
		o.addWebServersLocked(inst)
	}
	return nil
}

// User fetches the account profile.
func (o *Orchestrator) User(ctx context.Context) (map[string]any, error) {
	resp, err := o.call(ctx, o.api.User)
	if err != nil {
		return nil, fmt.Errorf("fetching user: %w", err)
	}
	o.setRaw(RawUser, "", resp)
	return resp, nil
}

func (o *Orchestrator) addWebServersLocked(inst *climate.Installation) {
	for _, wsID := range inst.WebServers() {
		if _, ok := o.webServers[wsID]; !ok {
			o.webServers[wsID] = climate.NewWebServer(inst.ID(), wsID)
		}
	}
}

// SelectInstallation makes inst the only synced installation. Push
// channels of other installations are disconnected and dropped, and a
// channel for inst is created when push is enabled.
func (o *Orchestrator) SelectInstallation(inst *climate.Installation) {
	id := inst.ID()

	var stale []*push.Channel
	o.mu.Lock()
	if o.opts.WebSockets {
		for instID, ch := range o.channels {
			if instID != id {
				stale = append(stale, ch)
				delete(o.channels, instID)
			}
		}
		if _, ok := o.channels[id]; !ok {
			o.channels[id] = o.newChannel(id)
		}
	}
	o.installations = map[string]*climate.Installation{id: inst}
	o.addWebServersLocked(inst)
	o.mu.Unlock()

	for _, ch := range stale {
		ch.Disconnect()
	}
	o.logger.Info("installation selected", "installation_id", id, "name", inst.Name())
}

// SelectInstallationByID lists the installations and selects the one with
// the given id, or the first one when id is empty.
func (o *Orchestrator) SelectInstallationByID(ctx context.Context, id string) (*climate.Installation, error) {
	list, err := o.ListInstallations(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNoInstallations
	}
	for _, inst := range list {
		if id == "" || inst.ID() == id {
			o.SelectInstallation(inst)
			return inst, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownInstallation, id)
}

func (o *Orchestrator) newChannel(instID string) *push.Channel {
	return push.New(push.Options{
		BaseURL:        o.opts.WebSocketURL,
		InstallationID: instID,
		Token:          func() string { return o.Token().Token },
		Resolver:       o,
		AliveWindow:    o.opts.AliveWindow,
		Dialer:         o.opts.Dialer,
		Logger:         o.logger,
		OnChange:       o.notify,
		OnEvent:        o.metrics.ObservePushEvent,
	})
}

// UpdateInstallation discovers the groups and devices of inst and, when
// push is enabled, connects its channel and waits for the initial
// snapshot. A channel that does not synchronize in time is logged; the
// next update cycle falls back to polling.
func (o *Orchestrator) UpdateInstallation(ctx context.Context, inst *climate.Installation) error {
	resp, err := o.call(ctx, func(ctx context.Context) (map[string]any, error) {
		return o.api.Installation(ctx, inst.ID())
	})
	if err != nil {
		return fmt.Errorf("fetching installation %s: %w", inst.ID(), err)
	}
	o.setRaw(RawInstallations, inst.ID(), resp)

	groups, _ := resp[climate.KeyGroups].([]any)
	for _, item := range groups {
		data, ok := item.(map[string]any)
		if !ok {
			continue
		}
		groupID, _ := data[climate.KeyGroupID].(string)
		if groupID == "" {
			continue
		}
		name, _ := data[climate.KeyName].(string)
		g := o.group(groupID, name, inst.ID())
		inst.AddGroup(g)

		devices, _ := data[climate.KeyDevices].([]any)
		for _, d := range devices {
			if devData, ok := d.(map[string]any); ok {
				wsID, _ := devData[climate.KeyWebServerID].(string)
				o.addDevice(inst, wsID, devData, g)
			}
		}
	}
	o.linkDevices()

	return o.connectChannel(ctx, inst.ID())
}

// group returns the known group with id or registers a new one.
func (o *Orchestrator) group(id, name, instID string) *climate.Group {
	o.mu.Lock()
	defer o.mu.Unlock()
	if g, ok := o.groups[id]; ok {
		return g
	}
	g := climate.NewGroup(id, name, instID)
	o.groups[id] = g
	return g
}

// addDevice registers a discovered device, reusing the known instance
// when the id was seen before. Unknown device types are skipped.
func (o *Orchestrator) addDevice(inst *climate.Installation, wsID string, data map[string]any, g *climate.Group) {
	id, _ := data[climate.KeyDeviceID].(string)

	o.mu.Lock()
	dev, ok := o.devices[id]
	if !ok {
		var err error
		dev, err = climate.NewDevice(inst.ID(), wsID, data)
		if err != nil {
			o.mu.Unlock()
			if errors.Is(err, climate.ErrUnknownKind) {
				o.logger.Debug("unsupported device type", "device_id", id, "type", data[climate.KeyDeviceType])
			} else {
				o.logger.Warn("skipping device", "device_id", id, "error", err)
			}
			return
		}
		o.devices[id] = dev
	}
	o.mu.Unlock()

	if g != nil {
		g.Add(dev)
	}
	inst.Add(dev)
	if !ok {
		o.logger.Debug("device discovered", "device_id", id, "kind", dev.Kind().String())
	}
}

func (o *Orchestrator) connectChannel(ctx context.Context, instID string) error {
	if !o.opts.WebSockets {
		return nil
	}
	o.mu.RLock()
	ch, ok := o.channels[instID]
	o.mu.RUnlock()
	if !ok {
		return nil
	}

	o.pushFirst.Store(true)
	ch.Connect(ctx)

	wctx, cancel := context.WithTimeout(ctx, o.opts.PushWait)
	defer cancel()
	if err := ch.WaitSynchronized(wctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.logger.Warn("push channel not synchronized", "installation_id", instID, "error", err)
	}
	return nil
}

// UpdateWebServers polls every web server. With devices set the response
// also lists the attached devices, which are registered.
func (o *Orchestrator) UpdateWebServers(ctx context.Context, devices bool) error {
	return fanOut(ctx, o.WebServers(), func(ctx context.Context, ws *climate.WebServer) error {
		return o.updateWebServer(ctx, ws, devices)
	})
}

func (o *Orchestrator) updateWebServer(ctx context.Context, ws *climate.WebServer, devices bool) error {
	inst, known := o.Installation(ws.InstallationID())
	if known && !inst.Access().IsAdmin() {
		return nil
	}

	resp, err := o.call(ctx, func(ctx context.Context) (map[string]any, error) {
		return o.api.WebServerStatus(ctx, ws.ID(), ws.InstallationID(), devices)
	})
	if err != nil {
		return fmt.Errorf("updating web server %s: %w", ws.ID(), err)
	}
	o.setRaw(RawWebServers, ws.ID(), resp)

	if ws.Apply(climate.NewUpdate(climate.OriginPollFull, resp)) {
		o.notify(ws)
	}

	if devices && known {
		items, _ := resp[climate.KeyDevices].([]any)
		for _, item := range items {
			if data, ok := item.(map[string]any); ok {
				o.addDevice(inst, ws.ID(), data, nil)
			}
		}
	}
	return nil
}

// linkDevices joins zones to their system and air quality sensors to
// their system and zone. Keys are installation, web server, system
// number and, for zones, zone number. Slave zones inherit the system's
// mode list.
func (o *Orchestrator) linkDevices() {
	var (
		systems []*climate.System
		zones   []*climate.Zone
		sensors []*climate.AirQuality
	)
	for _, d := range o.Devices() {
		switch v := d.(type) {
		case *climate.System:
			systems = append(systems, v)
		case *climate.Zone:
			zones = append(zones, v)
		case *climate.AirQuality:
			sensors = append(sensors, v)
		}
	}

	sameSystem := func(a, b climate.Device, na, nb int) bool {
		return a.InstallationID() == b.InstallationID() && a.WebServerID() == b.WebServerID() && na == nb
	}

	for _, aq := range sensors {
		for _, s := range systems {
			if sameSystem(aq, s, aq.SystemNumber(), s.SystemNumber()) {
				aq.LinkSystem(s)
				s.SetAirQuality(aq)
			}
		}
		for _, z := range zones {
			if sameSystem(aq, z, aq.SystemNumber(), z.SystemNumber()) && aq.ZoneNumber() == z.ZoneNumber() {
				aq.LinkZone(z)
				z.SetAirQuality(aq)
			}
		}
	}

	for _, s := range systems {
		modes := s.Modes()
		for _, z := range zones {
			if !sameSystem(s, z, s.SystemNumber(), z.SystemNumber()) {
				continue
			}
			s.AddZone(z)
			z.SetSystem(s)
			if !z.Master() && len(modes) > 0 {
				z.SetModes(modes)
			}
		}
	}
}
