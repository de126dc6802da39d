// Package transport is the agent's publish/subscribe link to the master.
//
// [Transport] is the narrow interface the agent needs: subscribe and
// unsubscribe single topics, publish with an optional retain flag, and
// report whether the link is currently usable. Inbound messages are handed
// to a [Handler] from the transport's delivery goroutine; handlers must not
// block.
//
// [MQTT] implements it over an MQTT 3.1.1 broker with QoS 1, automatic
// reconnect and subscription replay. Broker credentials can be a static
// password or a short-lived HS256 token from [JWTSource], minted afresh on
// every (re)connect. The memory subpackage is an in-process broker for
// tests and simulation.
package transport
