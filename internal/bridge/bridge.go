package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-climate/internal/audit"
	"github.com/nerrad567/gray-logic-climate/internal/climate"
	"github.com/nerrad567/gray-logic-climate/internal/infrastructure/mqtt"
)

// DefaultCommandTimeout bounds one MQTT-triggered command including its
// confirmation poll.
const DefaultCommandTimeout = 30 * time.Second

// Client is the MQTT surface the bridge needs. *mqtt.Client satisfies it.
type Client interface {
	PublishState(topic string, s mqtt.State) error
	PublishAck(topic string, a mqtt.Ack) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Controller is the orchestrator surface the bridge needs.
type Controller interface {
	Installations() []*climate.Installation
	SetDeviceParams(ctx context.Context, devID string, params map[string]any) error
	SetGroupParams(ctx context.Context, groupID string, params map[string]any) error
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Bridge.
type Options struct {
	Client     Client
	Controller Controller
	Topics     mqtt.Topics

	// QoS is used for the command subscriptions.
	QoS byte

	// CommandTimeout bounds one command. Zero selects DefaultCommandTimeout.
	CommandTimeout time.Duration

	Logger Logger

	// Recorder receives every executed command. Optional.
	Recorder CommandRecorder
}

// CommandRecorder keeps an audit trail of commands.
type CommandRecorder interface {
	Command(ctx context.Context, source, entityType, entityID string, params map[string]any, err error)
}

// Bridge publishes entity state and executes MQTT commands.
type Bridge struct {
	client         Client
	controller     Controller
	topics         mqtt.Topics
	qos            byte
	commandTimeout time.Duration
	logger         Logger
	recorder       CommandRecorder

	// last published data per topic, for change detection
	cache   map[string][]byte
	cacheMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Bridge. Call Start to subscribe to command topics.
func New(opts Options) (*Bridge, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if opts.QoS > 2 {
		return nil, mqtt.ErrInvalidQoS
	}
	b := &Bridge{
		client:         opts.Client,
		controller:     opts.Controller,
		topics:         opts.Topics,
		qos:            opts.QoS,
		commandTimeout: opts.CommandTimeout,
		logger:         opts.Logger,
		recorder:       opts.Recorder,
		cache:          make(map[string][]byte),
	}
	if b.commandTimeout <= 0 {
		b.commandTimeout = DefaultCommandTimeout
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return b, nil
}

// Start subscribes to the command topics and publishes a full snapshot.
// Commands received after ctx is cancelled or Stop is called fail.
func (b *Bridge) Start(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			b.cancel()
		case <-b.ctx.Done():
		}
	}()

	for _, topic := range []string{b.topics.AllDeviceCommands(), b.topics.AllGroupCommands()} {
		if err := b.client.Subscribe(topic, b.qos, b.handleCommand); err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		b.logger.Info("subscribed to commands", "topic", topic)
	}

	b.PublishAll()
	return nil
}

// Stop cancels in-flight commands.
func (b *Bridge) Stop() {
	b.cancel()
}

// PublishAll publishes every installation, group and device.
func (b *Bridge) PublishAll() {
	for _, inst := range b.controller.Installations() {
		for _, d := range inst.Devices() {
			b.publish(b.topics.DeviceState(inst.ID(), d.ID()), deviceState(d))
		}
		for _, g := range inst.Groups() {
			b.publish(b.topics.GroupState(inst.ID(), g.ID()), groupState(g))
		}
		b.publish(b.topics.InstallationState(inst.ID()), installationState(inst))
	}
}

// Publish publishes a changed entity. Devices also republish the
// aggregates that contain them. Other entities are ignored.
func (b *Bridge) Publish(e climate.Entity) {
	d, ok := e.(climate.Device)
	if !ok {
		return
	}
	instID := d.InstallationID()
	b.publish(b.topics.DeviceState(instID, d.ID()), deviceState(d))

	for _, inst := range b.controller.Installations() {
		if inst.ID() != instID {
			continue
		}
		for _, g := range inst.Groups() {
			if containsDevice(g, d.ID()) {
				b.publish(b.topics.GroupState(instID, g.ID()), groupState(g))
			}
		}
		b.publish(b.topics.InstallationState(instID), installationState(inst))
	}
}

func containsDevice(g *climate.Group, id string) bool {
	return slices.ContainsFunc(g.Devices(), func(d climate.Device) bool { return d.ID() == id })
}

// publish sends p retained unless its data matches the last publication
// on the same topic.
func (b *Bridge) publish(topic string, p mqtt.State) {
	data, err := json.Marshal(p.Data)
	if err != nil {
		b.logger.Error("failed to marshal state", "topic", topic, "error", err)
		return
	}

	b.cacheMu.Lock()
	unchanged := bytes.Equal(b.cache[topic], data)
	b.cacheMu.Unlock()
	if unchanged {
		return
	}

	if err := b.client.PublishState(topic, p); err != nil {
		// not cached, so the next change retries
		b.logger.Warn("failed to publish state", "topic", topic, "error", err)
		return
	}

	b.cacheMu.Lock()
	b.cache[topic] = data
	b.cacheMu.Unlock()
}

// ClearCache forces the next publication of every topic, e.g. after the
// broker lost retained messages.
func (b *Bridge) ClearCache() {
	b.cacheMu.Lock()
	b.cache = make(map[string][]byte)
	b.cacheMu.Unlock()
}

// handleCommand executes one command message and publishes its ack.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	kind, instID, id, ok := b.topics.CommandTarget(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}

	err := b.execute(kind, instID, id, payload)
	if pErr := b.client.PublishAck(b.topics.CommandAck(kind, instID, id), mqtt.NewAck(err)); pErr != nil {
		b.logger.Warn("failed to publish ack", "topic", topic, "error", pErr)
	}

	if err != nil {
		return fmt.Errorf("command %s %s: %w", kind, id, err)
	}
	b.logger.Info("command executed", "kind", kind, "id", id)
	return nil
}

func (b *Bridge) execute(kind, instID, id string, payload []byte) error {
	var params map[string]any
	if err := json.Unmarshal(payload, &params); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if len(params) == 0 {
		return fmt.Errorf("%w: no parameters", ErrInvalidPayload)
	}
	if !b.knowsInstallation(instID) {
		return fmt.Errorf("%w: %s", ErrUnknownInstallation, instID)
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.commandTimeout)
	defer cancel()

	var err error
	switch kind {
	case "device":
		err = b.controller.SetDeviceParams(ctx, id, params)
	case "group":
		err = b.controller.SetGroupParams(ctx, id, params)
	default:
		err = ErrInvalidTopic
	}
	if errors.Is(err, context.Canceled) {
		b.logger.Debug("command cancelled", "kind", kind, "id", id)
	}
	if b.recorder != nil && !errors.Is(err, ErrInvalidTopic) {
		b.recorder.Command(ctx, audit.SourceMQTT, kind, id, params, err)
	}
	return err
}

func (b *Bridge) knowsInstallation(id string) bool {
	return slices.ContainsFunc(b.controller.Installations(), func(inst *climate.Installation) bool {
		return inst.ID() == id
	})
}

func deviceState(d climate.Device) mqtt.State {
	p := mqtt.State{ID: d.ID(), Type: d.Kind().String(), Name: d.Name(), Data: d.Data()}
	if t := d.LastApplied(); !t.IsZero() {
		p.UpdatedAt = t.UTC().Format(time.RFC3339)
	}
	return p
}

func groupState(g *climate.Group) mqtt.State {
	return mqtt.State{ID: g.ID(), Type: "group", Name: g.Name(), Data: g.Data()}
}

func installationState(inst *climate.Installation) mqtt.State {
	return mqtt.State{ID: inst.ID(), Type: "installation", Name: inst.Name(), Data: inst.Data()}
}
