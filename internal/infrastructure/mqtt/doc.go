// Package mqtt is the broker client behind the MQTT discovery backend and
// the controller's reading mirror.
//
// Subscriptions are remembered and replayed after paho reconnects. Each
// client keeps a retained presence message under its status topic; the
// broker replaces it with an offline notice (the last will) if the client
// disappears without calling Close.
//
//	<prefix>/announce/<role>/<id>   retained device announcement
//	<prefix>/status/<client_id>     retained Status
//	<prefix>/reading/<id>           mirrored readings
//	<prefix>/command/<id>           mirrored actuator commands
//
// The prefix defaults to "fieldmesh".
//
//	topics := mqtt.Topics{Prefix: cfg.Discovery.TopicPrefix}
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithTopics(topics), mqtt.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
