package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-climate/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	opTimeout      = 5 * time.Second
	keepAlive      = 60 * time.Second

	// quiesceMillis lets in-flight publishes drain on Close.
	quiesceMillis = 1000

	maxQoS = 2
)

// Bridge status values published on Topics.BridgeStatus.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	ReasonShutdown   = "graceful_shutdown"
	ReasonConnection = "unexpected_disconnect"
)

// BridgeStatus is the retained payload of the bridge status topic. The
// broker publishes the offline variant as the will when the process dies.
type BridgeStatus struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func bridgeStatus(clientID, status, reason string) []byte {
	data, _ := json.Marshal(BridgeStatus{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return data
}

// brokerURL returns the paho broker address for cfg.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// buildClientOptions maps the MQTT configuration onto paho options with
// a clean session, automatic reconnects and TLS 1.2+ when enabled.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// configureWill registers the retained offline status as the last will,
// so state consumers learn that retained climate values went stale.
func configureWill(opts *pahomqtt.ClientOptions, topic, clientID string) {
	opts.SetBinaryWill(topic, bridgeStatus(clientID, StatusOffline, ReasonConnection), 1, true)
}
