// Package config loads the YAML configuration of a labrig host.
//
// Example:
//
//	server:
//	  id: bench-1
//	  listen: ":7421"
//	status:
//	  enabled: true
//	mqtt:
//	  enabled: true
//	  broker: {host: mqtt.lab, port: 1883}
//	devices:
//	  - id: cam0
//	    kind: sim-camera
//	    buffer_capacity: 16
//	    params: {width: 64, height: 48, frame_interval: 20ms}
//	  - id: stage0
//	    kind: sim-stage
//
// Values are applied in order: built-in defaults, the file, then
// environment variables (LABRIG_SERVER_ID, LABRIG_LISTEN,
// LABRIG_STATUS_LISTEN, LABRIG_MQTT_HOST, LABRIG_MQTT_PORT,
// LABRIG_MQTT_USERNAME, LABRIG_MQTT_PASSWORD, LABRIG_LOG_LEVEL).
package config
