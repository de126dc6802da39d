// Package memory is an in-process MQTT-like broker. It keeps retained
// messages, matches subscriptions with MQTT topic filters, publishes a
// client's will when its link drops, and delivers on a per-client
// goroutine so handlers never run on the publisher's stack.
//
// Every [Client] implements transport.Transport, which lets the agent, the
// scripted master and the tests share one broker without a network.
package memory
