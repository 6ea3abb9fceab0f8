// Package transport defines the publish/subscribe boundary of the router and
// ships an in-memory Bus used by tests and the offline mode.
//
// Topic filters follow MQTT rules: '+' matches one level, a trailing '#'
// matches any remaining levels. The mqtt subpackage adapts a broker
// connection to the same interface.
package transport
