package api

import (
	"encoding/json"

	"github.com/ostiary-io/ostiary-core/internal/door"
	"github.com/ostiary-io/ostiary-core/internal/infrastructure/logging"
	"github.com/ostiary-io/ostiary-core/internal/infrastructure/mqtt"
)

// ChannelDoorState is the WebSocket channel door state changes are
// broadcast on. Clients subscribe to it by name.
const ChannelDoorState = "door.state_changed"

// Publisher fans door state changes out to WebSocket subscribers and,
// when an MQTT client is attached, mirrors the canonical state to the bus
// as a retained message so controllers and dashboards can sync on connect.
type Publisher struct {
	hub    *Hub
	mqtt   *mqtt.Client // optional
	logger *logging.Logger
}

// NewPublisher creates a door state publisher. mqttClient may be nil.
func NewPublisher(hub *Hub, mqttClient *mqtt.Client, logger *logging.Logger) *Publisher {
	return &Publisher{
		hub:    hub,
		mqtt:   mqttClient,
		logger: logger,
	}
}

// DoorStateChanged publishes the door's new canonical state.
func (p *Publisher) DoorStateChanged(d *door.Door) {
	if p.hub != nil {
		p.hub.Broadcast(ChannelDoorState, d)
	}

	if p.mqtt == nil || !p.mqtt.IsConnected() {
		return
	}

	payload, err := json.Marshal(d)
	if err != nil {
		p.logger.Error("failed to marshal door state", "door_id", d.ID, "error", err)
		return
	}

	topic := mqtt.Topics{}.CoreDoorState(d.ID)
	if err := p.mqtt.PublishRetained(topic, payload); err != nil {
		p.logger.Warn("door state publish failed", "door_id", d.ID, "error", err)
	}
}
