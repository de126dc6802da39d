// Package agent runs the coordination state machine of one swarm robot.
//
// An Agent joins the swarm through a linear handshake with the master and
// then serves actions for as long as it runs:
//
//	Init -> AwaitingMaster   subscribe to the master status, wait until it reads 1
//	     -> AwaitingIndex    subscribe to the index broadcast, announce on /agents/add
//	     -> AwaitingStart    adopt the index, subscribe to start and action,
//	                         publish retained "1" on the status topic
//	     -> Ready            start received, initial observation published
//
// In Ready every action is dispatched to the motion controller, the
// distance ahead is measured, and the observation, reward and termination
// flag are published on the agent's own topics. A fresh start message
// begins a new episode. There is no terminal phase.
//
// Inbound messages land in a single-slot mailbox per topic kind, so a
// late action replaces an unconsumed one. Each loop iteration handles at
// most one protocol message before looking at the action slot.
package agent
