// Package mqtt provides MQTT client connectivity for Ostiary Core.
//
// This package manages:
//   - Connection to Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Ostiary uses MQTT as the telemetry bus connecting the Core to door
// controllers mounted in each cabinet. Controllers publish sensor events
// and command outcomes; Core publishes canonical door state. The broker
// (Mosquitto) decouples Core from controller firmware specifics.
//
//	Ostiary Core ↔ MQTT Broker ↔ Door Controllers
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s with jitter
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all controller sensor events
//	err = client.Subscribe(mqtt.Topics{}.AllControllerEvents(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish canonical door state
//	topic := mqtt.Topics{}.CoreDoorState("door-a-012")
//	client.Publish(topic, []byte(`{"status":"OCCUPIED"}`), 1, true)
package mqtt
