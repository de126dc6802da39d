// Package protocol defines the topic layout and payload encoding shared by
// swarm agents and the master.
//
// All payloads are ASCII. Flags, indices, actions and rewards are decimal
// integers; observations are a bracketed single-float list such as
// "[153.0000]"; termination is the literal "True" or "False".
//
// Topic layout:
//
//	/master/status           master readiness, retained ("1" up, "0" gone)
//	/agents/add              agent announcement ("1" join, "-1" leave)
//	/agents/index            index assignment broadcast
//	/agents/{n}/start        episode start flag, retained
//	/agents/{n}/action       action id 0-3
//	/agents/{n}/status       agent readiness, retained
//	/agents/{n}/obv          observation
//	/agents/{n}/reward       reward
//	/agents/{n}/done         termination flag
package protocol
