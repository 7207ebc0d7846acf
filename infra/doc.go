// Package infra contains the adapters behind the core interfaces: the
// WebSocket and MQTT transports, the notification HTTP clients, waypoint
// loaders, metric sinks and error monitoring. These packages should depend
// only on the interfaces defined in the core packages.
package infra
