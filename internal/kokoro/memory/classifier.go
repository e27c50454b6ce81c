package memory

import (
	"strings"
	"unicode/utf8"
)

// Emotion labels form a closed vocabulary. Records always carry exactly one
// label; EmotionNeutral is the default when nothing in the content matches.
const (
	EmotionPositive = "积极"
	EmotionNegative = "消极"
	EmotionNeutral  = "中性"
)

// Topic labels assigned by the keyword classifier. TopicOther is the
// fallback for content long enough to be meaningful but matching no table.
const (
	TopicTechnical     = "技术"
	TopicLife          = "生活"
	TopicWork          = "工作"
	TopicStudy         = "学习"
	TopicEntertainment = "娱乐"
	TopicEmotional     = "情感"
	TopicDailyChat     = "日常"
	TopicOther         = "其他"
)

// Classification is the outcome of scanning a content body: zero or more
// topic labels, one emotion label, and an importance verdict.
type Classification struct {
	Topics    []string
	Emotion   string
	Important bool
}

// Classifier assigns topics, an emotion, and an importance verdict to raw
// content. Implementations must not block ingestion: they return a best
// effort Classification and never an error. The manager additionally shields
// ingestion from classifier panics by degrading to a neutral classification.
type Classifier interface {
	Classify(content string) Classification
}

// KeywordClassifier is the default rule-based classifier. It scans content
// against fixed keyword tables covering the topics Kokoro's companion
// conversations fall into, a positive/negative emotion vocabulary, and the
// three importance triggers (distress, intimacy, explicit instructions).
//
// The tables mix Chinese and English terms; unmatched or other-language
// content falls back to TopicOther when long enough and EmotionNeutral.
type KeywordClassifier struct{}

// minTopicFallbackRunes is the content length at which unmatched content is
// still worth a generic topic instead of none at all.
const minTopicFallbackRunes = 6

var topicKeywords = map[string][]string{
	TopicTechnical: {
		"代码", "编程", "程序", "算法", "服务器", "电脑", "软件", "bug",
		"code", "program", "debug", "server", "software",
	},
	TopicLife: {
		"吃", "睡", "做饭", "房间", "天气", "买", "生活", "出门",
		"food", "sleep", "weather", "home",
	},
	TopicWork: {
		"工作", "上班", "加班", "同事", "老板", "项目", "开会",
		"work", "job", "office", "meeting",
	},
	TopicStudy: {
		"学习", "考试", "作业", "上课", "复习", "论文",
		"study", "exam", "homework", "class",
	},
	TopicEntertainment: {
		"电影", "游戏", "音乐", "小说", "动漫", "综艺", "看剧",
		"movie", "game", "music", "anime", "novel",
	},
	TopicEmotional: {
		"喜欢", "爱", "难过", "开心", "伤心", "孤独", "想你", "心情",
		"happy", "sad", "love", "lonely", "miss",
	},
	TopicDailyChat: {
		"你好", "早安", "晚安", "在吗", "在干嘛", "聊聊",
		"hello", "hi", "morning", "night",
	},
}

var positiveKeywords = []string{
	"开心", "高兴", "喜欢", "爱", "哈哈", "太好了", "棒", "幸福",
	"happy", "great", "awesome", "love",
}

var negativeKeywords = []string{
	"难过", "伤心", "生气", "讨厌", "烦", "哭", "累", "孤独",
	"sad", "angry", "tired", "hate", "lonely",
}

// Importance triggers. A hit on any table forces Important=true; a hit on
// the instruction table additionally tags TopicUserInstruction so the record
// can be retrieved deterministically by ImportantPrompts.
var (
	distressKeywords = []string{
		"难过", "伤心", "焦虑", "压力", "抑郁", "害怕", "想哭", "崩溃",
		"sad", "anxious", "depressed", "scared",
	}
	intimacyKeywords = []string{
		"抱抱", "亲亲", "想你", "爱你", "贴贴", "摸摸头", "牵手",
		"miss you", "love you", "hug", "kiss",
	}
	instructionKeywords = []string{
		"记住", "要记得", "别再", "不要再", "以后不要", "不许", "停下", "改掉",
		"remember", "never", "stop doing", "don't ever",
	}
)

// Classify scans content against the keyword tables. It never fails: content
// matching nothing gets no topics (or TopicOther when long enough) and a
// neutral emotion.
func (KeywordClassifier) Classify(content string) Classification {
	lower := strings.ToLower(content)

	c := Classification{Emotion: EmotionNeutral}

	for topic, words := range topicKeywords {
		if matchesAny(lower, words) {
			c.Topics = append(c.Topics, topic)
		}
	}

	if matchesAny(lower, positiveKeywords) {
		c.Emotion = EmotionPositive
	}
	if matchesAny(lower, negativeKeywords) {
		// Negative cues win over positive ones: a message mixing both is more
		// likely a complaint softened with politeness than genuine cheer.
		c.Emotion = EmotionNegative
	}

	if matchesAny(lower, distressKeywords) || matchesAny(lower, intimacyKeywords) {
		c.Important = true
	}
	if matchesAny(lower, instructionKeywords) {
		c.Important = true
		c.Topics = append(c.Topics, TopicUserInstruction)
	}

	if len(c.Topics) == 0 && utf8.RuneCountInString(content) >= minTopicFallbackRunes {
		c.Topics = []string{TopicOther}
	}

	sortTopics(c.Topics)
	return c
}

// matchesAny reports whether s contains any of the given keywords.
func matchesAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// sortTopics puts topic labels in a deterministic order so classification
// output is stable across runs (map iteration order is not).
func sortTopics(topics []string) {
	for i := 1; i < len(topics); i++ {
		for j := i; j > 0 && topics[j] < topics[j-1]; j-- {
			topics[j], topics[j-1] = topics[j-1], topics[j]
		}
	}
}

// Compile-time interface satisfaction check.
var _ Classifier = KeywordClassifier{}
