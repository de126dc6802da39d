// Package master implements the master side of the swarm protocol. It is
// used by the simulator and by end-to-end tests in place of the learning
// process that normally drives the swarm.
//
// The master publishes a retained "1" on /master/status, hands out agent
// indices in announcement order, raises each agent's retained start flag
// and then plays a fixed number of steps per episode, choosing actions
// with a Policy and collecting each step's observation, reward and
// termination flag in whatever order they arrive.
package master
