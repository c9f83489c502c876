// Package intent 识别用户输入中触发应用内活动的短语。
package intent

import (
	"strings"

	"github.com/zhouzirui/abby/backend/internal/model/activity"
)

var breathingPhrases = []string{
	"breathing exercise",
	"box breathing",
	"start breathing",
	"do breathing",
	"breathing technique",
	"guided breathing",
	"deep breathing",
	"i want to breathe",
	"let's breathe",
	"help me breathe",
	"breathe with me",
	"calm me down",
	"i need to calm down",
}

var emotionPhrases = []string{
	"how am i feeling",
	"track my emotions",
	"emotion check",
	"how do i feel",
	"check in on my mood",
	"how am i doing emotionally",
	"emotion tracking",
	"mood check",
	"how are my emotions",
	"feeling check",
}

// Detect returns the activity requested by text, or activity.None.
// Breathing takes precedence when both match.
func Detect(text string) activity.Kind {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return activity.None
	}
	// 客户端可能发送弯引号
	normalized = strings.ReplaceAll(normalized, "’", "'")

	if containsAny(normalized, breathingPhrases) {
		return activity.Breathing
	}
	if containsAny(normalized, emotionPhrases) {
		return activity.Emotions
	}
	return activity.None
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
