package notify

import (
	"context"
	"log/slog"

	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/hub"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/metrics"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/protocol"
)

// HubNotifier delivers events to websocket subscribers of a local hub.
type HubNotifier struct {
	hub    *hub.Hub
	logger *slog.Logger
}

// NewHub creates a notifier over h.
func NewHub(h *hub.Hub, logger *slog.Logger) *HubNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &HubNotifier{hub: h, logger: logger.With("component", "notify.Hub")}
}

// Publish encodes event and queues it on the hub without blocking.
func (n *HubNotifier) Publish(ctx context.Context, topic Topic, event protocol.Event) {
	data, err := protocol.Encode(event)
	if err != nil {
		n.logger.Error("failed to encode event", "topic", topic, "error", err)
		return
	}
	ok := n.hub.PublishJSON(string(topic), data)
	metrics.RecordNotification("hub", string(event.EventType()), ok)
	if !ok {
		n.logger.Warn("event dropped",
			"topic", topic,
			"type", event.EventType(),
			"request_id", event.EventRequestID(),
		)
	}
}
