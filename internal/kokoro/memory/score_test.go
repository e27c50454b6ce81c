package memory

import (
	"testing"
	"time"
)

func TestRecencyFactor_Bounds(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		age  time.Duration
		want float64
	}{
		{"brand new", 0, 3.0},
		{"half horizon", 30 * time.Minute, 2.0},
		{"at horizon", time.Hour, 1.0},
		{"far past horizon", 48 * time.Hour, 1.0},
		{"clock skew (future)", -time.Minute, 3.0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := now.Add(-tc.age).Unix()
			got := recencyFactor(ts, now, shortTermRecencyHorizon)
			if diff := got - tc.want; diff > 0.01 || diff < -0.01 {
				t.Errorf("recencyFactor(age=%v) = %v, want ~%v", tc.age, got, tc.want)
			}
		})
	}
}

func TestShortTermScore_Weights(t *testing.T) {
	now := time.Now()
	ts := now.Unix()

	base := &Record{Source: SourceAssistant, Timestamp: ts}
	important := &Record{Source: SourceAssistant, Timestamp: ts, Important: true}
	system := &Record{Source: SourceSystem, Timestamp: ts}
	user := &Record{Source: SourceUser, Timestamp: ts}
	rich := &Record{Source: SourceAssistant, Timestamp: ts, Topics: []string{"a", "b"}}

	baseScore := shortTermScore(base, now)
	if got := shortTermScore(important, now); got != baseScore*importanceWeight {
		t.Errorf("importance: got %v, want %v", got, baseScore*importanceWeight)
	}
	if got := shortTermScore(system, now); got != baseScore*3 {
		t.Errorf("system role: got %v, want %v", got, baseScore*3)
	}
	if got := shortTermScore(user, now); got != baseScore*2 {
		t.Errorf("user role: got %v, want %v", got, baseScore*2)
	}
	if got := shortTermScore(rich, now); got != baseScore*2 {
		t.Errorf("two topics: got %v, want %v", got, baseScore*2)
	}
}

func TestTopicWeight_Cap(t *testing.T) {
	many := &Record{Topics: []string{"a", "b", "c", "d", "e", "f", "g", "h"}}
	if got := topicWeight(many); got != 3.0 {
		t.Errorf("topic bonus should cap at 2: got weight %v, want 3.0", got)
	}
	if got := topicWeight(&Record{}); got != 1.0 {
		t.Errorf("no topics: got %v, want 1.0", got)
	}
}

func TestLongTermScore_UsesLastReferenceNotRole(t *testing.T) {
	now := time.Now()
	old := now.Add(-30 * 24 * time.Hour).Unix()

	// Created long ago but referenced just now: full recency boost.
	refreshed := &Record{Source: SourceAssistant, Timestamp: old, LastReference: now.Unix()}
	stale := &Record{Source: SourceAssistant, Timestamp: old, LastReference: old}
	if s1, s2 := longTermScore(refreshed, now), longTermScore(stale, now); s1 <= s2 {
		t.Errorf("recently referenced record must outscore stale one: %v vs %v", s1, s2)
	}

	// Role has no weight at long-term distance.
	sys := &Record{Source: SourceSystem, Timestamp: old, LastReference: old}
	asst := &Record{Source: SourceAssistant, Timestamp: old, LastReference: old}
	if s1, s2 := longTermScore(sys, now), longTermScore(asst, now); s1 != s2 {
		t.Errorf("role must not affect long-term score: %v vs %v", s1, s2)
	}
}
