// Package mqtt provides MQTT client connectivity for the eISCP bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The bridge uses MQTT as its outward-facing message bus. Home automation
// systems publish commands to avrbridge/command/<code> and receive receiver
// state on avrbridge/state/<code>; the broker decouples them from the
// eISCP session.
//
//	Automation system ↔ MQTT Broker ↔ eISCP bridge ↔ AV receiver
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all incoming commands
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish receiver state
//	topic := mqtt.Topics{}.State("PWR")
//	client.Publish(topic, []byte(`{"value":"01"}`), 1, true)
package mqtt
