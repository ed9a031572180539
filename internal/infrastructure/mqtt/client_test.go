package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-climate/internal/infrastructure/config"
)

// testConfig returns a configuration for a local Mosquitto broker.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "climatesync-test",
		},
		QoS:         1,
		TopicPrefix: "climate-test",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectOrSkip connects to the local broker, skipping the test when none
// is listening.
func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()
	cfg := testConfig()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 500*time.Millisecond)
	if err != nil {
		t.Skip("no MQTT broker on 127.0.0.1:1883")
	}
	conn.Close()

	cfg.Broker.ClientID = clientID
	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{Prefix: "home"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"DeviceState", topics.DeviceState("inst1", "z1"), "home/inst1/device/z1/state"},
		{"GroupState", topics.GroupState("inst1", "g1"), "home/inst1/group/g1/state"},
		{"InstallationState", topics.InstallationState("inst1"), "home/inst1/state"},
		{"CommandAck", topics.CommandAck("group", "inst1", "g1"), "home/inst1/group/g1/ack"},
		{"BridgeStatus", topics.BridgeStatus(), "home/bridge/status"},
		{"AllDeviceCommands", topics.AllDeviceCommands(), "home/+/device/+/set"},
		{"AllGroupCommands", topics.AllGroupCommands(), "home/+/group/+/set"},
		{"DefaultPrefix", Topics{}.BridgeStatus(), "climate/bridge/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestCommandTarget(t *testing.T) {
	topics := Topics{Prefix: "climate"}

	tests := []struct {
		topic    string
		wantKind string
		wantInst string
		wantID   string
		wantOK   bool
	}{
		{"climate/inst1/device/z1/set", "device", "inst1", "z1", true},
		{"climate/inst1/group/g1/set", "group", "inst1", "g1", true},
		{"climate/inst1/device/z1/state", "", "", "", false},
		{"climate/inst1/webserver/ws1/set", "", "", "", false},
		{"climate/inst1/device//set", "", "", "", false},
		{"climate/inst1/device/z1/set/extra", "", "", "", false},
		{"other/inst1/device/z1/set", "", "", "", false},
		{"climate", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			kind, inst, id, ok := topics.CommandTarget(tt.topic)
			if ok != tt.wantOK || kind != tt.wantKind || inst != tt.wantInst || id != tt.wantID {
				t.Errorf("CommandTarget() = (%q, %q, %q, %v), want (%q, %q, %q, %v)",
					kind, inst, id, ok, tt.wantKind, tt.wantInst, tt.wantID, tt.wantOK)
			}
		})
	}
}

// =============================================================================
// Option Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "user"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "climatesync-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "user" || opts.Password != "secret" {
		t.Error("credentials not set")
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tls.VersionTLS12 {
		t.Error("TLS config not applied")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect should be enabled")
	}
}

func TestConfigureWill(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureWill(opts, "climate/bridge/status", "climatesync")

	if !opts.WillEnabled || opts.WillTopic != "climate/bridge/status" || !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will = enabled %v topic %q retained %v qos %d", opts.WillEnabled, opts.WillTopic, opts.WillRetained, opts.WillQos)
	}
	var st BridgeStatus
	if err := json.Unmarshal(opts.WillPayload, &st); err != nil {
		t.Fatalf("WillPayload %s: %v", opts.WillPayload, err)
	}
	if st.Status != StatusOffline || st.Reason != ReasonConnection || st.ClientID != "climatesync" || st.Timestamp == "" {
		t.Errorf("will status = %+v", st)
	}
}

func TestBridgeStatus_OnlineOmitsReason(t *testing.T) {
	payload := string(bridgeStatus("climatesync", StatusOnline, ""))
	if !strings.Contains(payload, `"status":"online"`) || strings.Contains(payload, "reason") {
		t.Errorf("online payload = %s", payload)
	}
}

// =============================================================================
// Payload Tests
// =============================================================================

func TestNewAck(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Ack
	}{
		{"success", nil, Ack{Status: AckOK}},
		{"failure", errors.New("unknown device"), Ack{Status: AckError, Error: "unknown device"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewAck(tt.err); got != tt.want {
				t.Errorf("NewAck() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestStateJSON(t *testing.T) {
	data, err := json.Marshal(State{ID: "z1", Type: "zone", Data: map[string]any{"power": true}})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"id":"z1","type":"zone","data":{"power":true}}`
	if string(data) != want {
		t.Errorf("State JSON = %s, want %s", data, want)
	}
}

// =============================================================================
// Validation Tests (no broker)
// =============================================================================

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}
	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestPublishValidation(t *testing.T) {
	client := newClient(testConfig())

	tests := []struct {
		name    string
		topic   string
		qos     byte
		payload []byte
		want    error
	}{
		{"empty topic", "", 1, nil, ErrInvalidTopic},
		{"invalid qos", "a/b", 3, nil, ErrInvalidQoS},
		{"oversized payload", "a/b", 1, make([]byte, maxPayloadSize+1), ErrPayloadTooLarge},
		{"not connected", "a/b", 1, []byte("x"), ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPublishStateAndAck_Disconnected(t *testing.T) {
	client := newClient(testConfig())
	topic := client.Topics().DeviceState("inst1", "z1")

	err := client.PublishState(topic, State{ID: "z1", Data: map[string]any{"bad": make(chan int)}})
	if !errors.Is(err, ErrEncode) {
		t.Errorf("PublishState() unencodable error = %v, want ErrEncode", err)
	}
	if err := client.PublishState(topic, State{ID: "z1", Type: "zone"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishState() error = %v, want ErrNotConnected", err)
	}
	if err := client.PublishAck(client.Topics().CommandAck("device", "inst1", "z1"), NewAck(nil)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishAck() error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := newClient(testConfig())
	handler := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := client.Subscribe("a/b", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("invalid qos error = %v", err)
	}
	if err := client.Subscribe("a/b", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := client.Subscribe("a/b", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v", err)
	}
	if n := len(client.subs); n != 0 {
		t.Errorf("tracked subscriptions = %d, want 0", n)
	}
}

func TestConnect_BrokerRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19998

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

// =============================================================================
// Broker Tests
// =============================================================================

func TestConnectAndHealthCheck(t *testing.T) {
	client := connectOrSkip(t, "climatesync-test-health")

	if !client.IsConnected() {
		t.Fatal("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() with cancelled context should fail")
	}

	client.Close()
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestPublishStateRoundtrip(t *testing.T) {
	pub := connectOrSkip(t, "climatesync-test-pub")
	sub := connectOrSkip(t, "climatesync-test-sub")

	topic := pub.Topics().DeviceState("inst1", "roundtrip")
	received := make(chan []byte, 1)
	err := sub.Subscribe(testConfig().TopicPrefix+"/+/device/+/state", 1, func(got string, payload []byte) error {
		if got == topic {
			received <- payload
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	want := State{ID: "roundtrip", Type: "zone", Data: map[string]any{"power": true}}
	if err := pub.PublishState(topic, want); err != nil {
		t.Fatalf("PublishState() error = %v", err)
	}

	select {
	case payload := <-received:
		var got State
		if err := json.Unmarshal(payload, &got); err != nil {
			t.Fatalf("payload %s: %v", payload, err)
		}
		if got.ID != want.ID || got.Type != want.Type || got.Data["power"] != true {
			t.Errorf("state = %+v, want %+v", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for message")
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	client := connectOrSkip(t, "climatesync-test-panic")
	topic := testConfig().TopicPrefix + "/inst1/device/panic/set"

	called := make(chan struct{}, 2)
	err := client.Subscribe(topic, 1, func(string, []byte) error {
		called <- struct{}{}
		panic("boom")
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	for range 2 {
		if err := client.Publish(topic, []byte("{}"), 1, false); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		select {
		case <-called:
		case <-time.After(2 * time.Second):
			t.Fatal("handler was not called")
		}
	}
	if !client.IsConnected() {
		t.Error("client disconnected after handler panic")
	}
}
