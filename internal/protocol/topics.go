package protocol

import (
	"strconv"
	"strings"
)

// Fixed topics.
const (
	MasterStatusTopic = "/master/status"
	AddTopic          = "/agents/add"
	IndexTopic        = "/agents/index"

	agentsPrefix = "/agents/"
)

// Leaf names under /agents/{n}/.
const (
	LeafStart  = "start"
	LeafAction = "action"
	LeafStatus = "status"
	LeafObv    = "obv"
	LeafReward = "reward"
	LeafDone   = "done"
)

// Announcement payloads on AddTopic.
const (
	Join  = 1
	Leave = -1
)

// Topics is one agent's private namespace.
type Topics struct {
	Index  uint32
	Start  string
	Action string
	Status string
	Obv    string
	Reward string
	Done   string
}

// AgentTopics derives the topic names of agent n.
func AgentTopics(n uint32) Topics {
	base := agentsPrefix + strconv.FormatUint(uint64(n), 10) + "/"
	return Topics{
		Index:  n,
		Start:  base + LeafStart,
		Action: base + LeafAction,
		Status: base + LeafStatus,
		Obv:    base + LeafObv,
		Reward: base + LeafReward,
		Done:   base + LeafDone,
	}
}

// Results lists the topics an agent reports a step on.
func (t Topics) Results() []string {
	return []string{t.Obv, t.Reward, t.Done}
}

// ParseAgentTopic splits "/agents/{n}/{leaf}". It reports false for the
// fixed topics and anything that is not a per-agent topic.
func ParseAgentTopic(topic string) (n uint32, leaf string, ok bool) {
	rest, found := strings.CutPrefix(topic, agentsPrefix)
	if !found {
		return 0, "", false
	}
	idx, leaf, found := strings.Cut(rest, "/")
	if !found || leaf == "" || strings.Contains(leaf, "/") {
		return 0, "", false
	}
	v, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return 0, "", false
	}
	return uint32(v), leaf, true
}
