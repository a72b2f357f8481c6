// Package api serves the controller's HTTP API and live WebSocket feed.
//
// Routes:
//
//	GET /datum?id=<sensor>   latest Datum for one sensor
//	GET /datum               aggregate: every live sensor with its latest Datum
//	GET /aggregate           same as GET /datum without id
//	GET /devices[?role=]     registry snapshot
//	GET /health              liveness and identity
//	GET /metrics             runtime, host, registry and loop statistics
//	GET /ws                  WebSocket feed
//
// WebSocket clients subscribe to channels with
//
//	{"type":"subscribe","id":"1","payload":{"channels":["reading","command"]}}
//
// and then receive {"type":"event","event_type":"reading","payload":{...}}
// messages. The controller loop publishes on reading, command,
// device.evicted and cycle.
package api
