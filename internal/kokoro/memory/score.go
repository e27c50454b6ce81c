package memory

import "time"

// Retention scoring. Eviction is a soft LRU with an importance override:
// recency alone can never push out an important or system record while its
// weighted score keeps it in the surviving set.

const (
	shortTermRecencyHorizon = time.Hour
	longTermRecencyHorizon  = 7 * 24 * time.Hour

	importanceWeight = 3.0
)

// roleWeights protect system and user turns preferentially over assistant
// restatements. Session summaries are system-derived and weigh the same as
// system records.
var roleWeights = map[Source]float64{
	SourceSystem:        3.0,
	SourceSystemSummary: 3.0,
	SourceUser:          2.0,
	SourceAssistant:     1.0,
}

// shortTermScore computes the retention score for a short-term record:
// recency x importance x role x topic richness. Records under one hour old
// get up to a 3x recency boost; older records approach weight 1.
func shortTermScore(r *Record, now time.Time) float64 {
	return recencyFactor(r.Timestamp, now, shortTermRecencyHorizon) *
		importanceFactor(r) *
		roleWeight(r.Source) *
		topicWeight(r)
}

// longTermScore is the long-distance variant: recency is measured from the
// last reference over a 7-day horizon, and the role term is dropped (role is
// not meaningful at that distance).
func longTermScore(r *Record, now time.Time) float64 {
	return recencyFactor(r.LastReference, now, longTermRecencyHorizon) *
		importanceFactor(r) *
		topicWeight(r)
}

// recencyFactor maps a record age onto [1, 3]: 1 + clamp(2*(1-age/horizon), 0, 2).
func recencyFactor(unixSecs int64, now time.Time, horizon time.Duration) float64 {
	age := now.Sub(time.Unix(unixSecs, 0))
	if age < 0 {
		age = 0
	}
	boost := 2 * (1 - age.Seconds()/horizon.Seconds())
	if boost < 0 {
		boost = 0
	}
	if boost > 2 {
		boost = 2
	}
	return 1 + boost
}

func importanceFactor(r *Record) float64 {
	if r.Important {
		return importanceWeight
	}
	return 1.0
}

func roleWeight(s Source) float64 {
	if w, ok := roleWeights[s]; ok {
		return w
	}
	return 1.0
}

// topicWeight rewards topically rich records: 1 + min(0.5*|topics|, 2).
func topicWeight(r *Record) float64 {
	bonus := 0.5 * float64(len(r.Topics))
	if bonus > 2 {
		bonus = 2
	}
	return 1 + bonus
}
