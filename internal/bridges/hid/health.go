package hid

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/hid-climate-bridge/internal/infrastructure/mqtt"
)

// HealthStatus is the operational status reported on the health topic.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// DefaultHealthInterval is used when HealthReporterConfig.Interval is zero.
const DefaultHealthInterval = 30 * time.Second

// HealthMessage is the retained payload published on the health topic.
type HealthMessage struct {
	BridgeID      string       `json:"bridge_id"`
	Version       string       `json:"version,omitempty"`
	Status        HealthStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Bridges       int          `json:"bridges"`
	Controllers   int          `json:"controllers"`
	Pending       int          `json:"pending"`
}

// HealthPublisher is the interface for publishing health messages.
// *mqtt.Client satisfies it.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Topology reports what the coordinator currently manages.
// *Coordinator satisfies it.
type Topology interface {
	Bridges() []BridgeInfo
	PendingCount() int
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID  string
	Version   string
	Interval  time.Duration
	Publisher HealthPublisher
	Topology  Topology
	Topics    mqtt.Topics
	Logger    Logger
}

// HealthReporter publishes the bridge health at a fixed interval.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time
	logger    Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultHealthInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final stopping status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // best-effort during shutdown
		h.publish(HealthStopping, "")
	})
}

// PublishStarting publishes a starting status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publish(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logger.Error("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logger.Error("failed to publish health", "error", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	return HealthHealthy, ""
}

// buildMessage assembles a health message for status.
func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	now := time.Now().UTC()
	msg := HealthMessage{
		BridgeID:      h.cfg.BridgeID,
		Version:       h.cfg.Version,
		Status:        status,
		Reason:        reason,
		Timestamp:     now,
		UptimeSeconds: int64(now.Sub(h.startTime).Seconds()),
	}
	if h.cfg.Topology != nil {
		bridges := h.cfg.Topology.Bridges()
		msg.Bridges = len(bridges)
		for _, b := range bridges {
			msg.Controllers += len(b.Controllers)
		}
		msg.Pending = h.cfg.Topology.PendingCount()
	}
	return msg
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(h.cfg.Topics.BridgeHealth(), payload, 1, true)
}
