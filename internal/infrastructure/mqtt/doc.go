// Package mqtt provides broker connectivity for the HID climate bridge.
//
// The broker carries both sides of the bridge:
//
//	HID controllers <-> MQTT broker <-> hidbridge <-> MQTT broker <-> platform
//
// Client owns the paho connection: auto-reconnect with backoff, a retained
// online/offline status with LWT, and subscription restore after reconnect.
// Mux sits on top and lets several components register handlers on the same
// topic filter, which is how two bridges for the same controller share its
// command topic.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	mux := mqtt.NewMux(client, client.QoS(), logger)
//	topics := mqtt.NewTopics(cfg)
//	unsubscribe, err := mux.Subscribe(topics.AllDeviceConfigs(), onDiscovery)
//
// Handlers run on paho's delivery goroutine and must not block.
package mqtt
