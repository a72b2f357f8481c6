// Package discovery lets devices find each other without a central
// directory.
//
// A device runs an Announcer that publishes its Announcement on start, again
// every interval (a third of the TTL by default) and a leaving notice on
// shutdown. Any process that needs to know about peers runs a Browser with
// a role filter; the Browser consumes the backend's event stream and only
// upserts into (or removes from) a Sink, normally a *registry.Registry.
// When a stream ends for any reason other than cancellation, the Browser
// reopens it after a delay.
//
// Three backends share the Backend interface:
//
//   - Bus: in-process, for single-binary deployments and tests
//   - Multicast: UDP datagrams to an administratively scoped IPv4 group
//   - MQTT: retained messages under {prefix}/announce/{role}/{id}
package discovery
