package memory

import "strings"

// Preferences accumulates lightweight signals about what the user likes,
// dislikes, and how they want answers delivered. Counters only ever grow;
// the model is persisted alongside the memory snapshots.
type Preferences struct {
	LikedTopics    map[string]int `json:"liked_topics"`
	DislikedTopics map[string]int `json:"disliked_topics"`
	StyleHints     map[string]int `json:"style_hints"`
}

// PreferenceSnapshot is a deep copy of the counters, safe to hand out
// without holding the manager lock.
type PreferenceSnapshot struct {
	LikedTopics    map[string]int
	DislikedTopics map[string]int
	StyleHints     map[string]int
}

// NewPreferences creates an empty preference model.
func NewPreferences() *Preferences {
	return &Preferences{
		LikedTopics:    make(map[string]int),
		DislikedTopics: make(map[string]int),
		StyleHints:     make(map[string]int),
	}
}

var (
	likeMarkers    = []string{"喜欢", "最爱", "爱看", "爱玩", "love", "like", "favorite"}
	dislikeMarkers = []string{"讨厌", "不喜欢", "烦", "受不了", "hate", "dislike"}

	// styleMarkers map detected phrasing to a response-style hint key.
	styleMarkers = map[string][]string{
		"concise":  {"简短", "别啰嗦", "短一点", "keep it short", "briefly"},
		"detailed": {"详细", "展开说", "具体点", "in detail", "explain more"},
		"casual":   {"随便聊", "轻松点", "casual"},
	}
)

// Observe runs pattern detection on one user message and increments the
// matching counters. Topics are the labels already assigned to the message;
// like/dislike phrasing attributes them to the corresponding bucket.
func (p *Preferences) Observe(content string, topics []string) {
	lower := strings.ToLower(content)

	liked := matchesAny(lower, likeMarkers)
	disliked := matchesAny(lower, dislikeMarkers)

	for _, t := range topics {
		if t == TopicOther || t == TopicUserInstruction {
			continue
		}
		if liked {
			p.LikedTopics[t]++
		}
		if disliked {
			p.DislikedTopics[t]++
		}
	}

	for hint, markers := range styleMarkers {
		if matchesAny(lower, markers) {
			p.StyleHints[hint]++
		}
	}
}

// Snapshot returns a deep copy of the counters.
func (p *Preferences) Snapshot() PreferenceSnapshot {
	return PreferenceSnapshot{
		LikedTopics:    copyCounts(p.LikedTopics),
		DislikedTopics: copyCounts(p.DislikedTopics),
		StyleHints:     copyCounts(p.StyleHints),
	}
}

// empty reports whether no counter has ever been incremented.
func (p *Preferences) empty() bool {
	return len(p.LikedTopics) == 0 && len(p.DislikedTopics) == 0 && len(p.StyleHints) == 0
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
