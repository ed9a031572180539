package influxdb

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/gray-logic-climate/internal/infrastructure/config"
)

// Batching defaults used when the configuration leaves them zero.
const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = 10 * time.Second

	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second
)

// Client writes climate samples to one bucket through the batching,
// non-blocking write API.
//
// Samples are written on change: a sample whose fields equal the last
// one written for the same device is skipped, because entity change
// notifications also fire for data that is not recorded here.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Write failures surface asynchronously through SetOnError.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	open     atomic.Bool

	mu      sync.Mutex
	last    map[string]map[string]any // device id -> last written fields
	onError func(error)
}

// Connect pings the server and prepares the write API for cfg.Bucket.
//
// Parameters:
//   - cfg: InfluxDB configuration; Enabled must be set
//
// Returns:
//   - *Client: ready client
//   - error: ErrDisabled, or ErrConnectionFailed wrapping the cause
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		last:     make(map[string]map[string]any),
	}
	c.open.Store(true)
	go c.forwardErrors(c.writeAPI.Errors())
	return c, nil
}

// writeOptions applies the batching settings, falling back to the
// defaults for zero or negative values.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(DefaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := DefaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds())) //nolint:gosec // positive by construction
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return ErrUnhealthy
	}
	return nil
}

func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.mu.Lock()
		fn := c.onError
		c.mu.Unlock()
		if fn != nil {
			fn(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// remember records fields as the last write for id and reports whether
// they differ from the previous write.
func (c *Client) remember(id string, fields map[string]any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.last[id]; ok && maps.Equal(prev, fields) {
		return false
	}
	c.last[id] = fields
	return true
}

// Close flushes queued points and releases the client.
func (c *Client) Close() error {
	if c.client == nil || !c.open.Swap(false) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server, bounded by ctx and a short timeout.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected reports whether the client is open. Use HealthCheck for
// an active check.
func (c *Client) IsConnected() bool {
	return c.open.Load()
}

// SetOnError sets the callback for asynchronous write failures. Errors
// passed to it wrap ErrWriteFailed.
func (c *Client) SetOnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Flush blocks until queued points are sent. It is a no-op once closed.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}
