package speech

import (
	"strings"

	"github.com/zhouzirui/abby/backend/internal/analysis/emotion"
)

var emotionLabels = map[emotion.Label]string{
	emotion.Happy:    "happy",
	emotion.Sad:      "sad",
	emotion.Angry:    "angry",
	emotion.Anxious:  "comfort",
	emotion.Excited:  "excited",
	emotion.Tender:   "tender",
	emotion.Comfort:  "comfort",
	emotion.Magnetic: "magnetic",
}

// English voices that accept the emotion parameters.
var emotionVoices = map[string]struct{}{
	"en_female_candice_emo_v2_mars_bigtts": {},
	"en_female_skye_emo_v2_mars_bigtts":    {},
	"en_male_glen_emo_v2_mars_bigtts":      {},
	"en_male_sylus_emo_v2_mars_bigtts":     {},
	"en_male_corey_emo_v2_mars_bigtts":     {},
}

// ComputeEmotionParameters 根据音色与情绪判定给出 TTS 情绪参数，音色不支持时返回 false。
func ComputeEmotionParameters(voice string, decision emotion.Decision) (enable bool, label string, scale float32) {
	if decision.Emotion == emotion.Neutral || decision.Score <= 0 {
		return false, "", 0
	}
	if !supportsEmotion(voice) {
		return false, "", 0
	}

	mapped, ok := emotionLabels[decision.Emotion]
	if !ok {
		return false, "", 0
	}

	scale = decision.Scale
	switch {
	case scale <= 0:
		scale = 3
	case scale < 1:
		scale = 1
	case scale > 5:
		scale = 5
	}
	return true, mapped, scale
}

func supportsEmotion(voice string) bool {
	normalized := strings.ToLower(strings.TrimSpace(voice))
	if normalized == "" {
		return false
	}
	if _, ok := emotionVoices[normalized]; ok {
		return true
	}
	return strings.Contains(normalized, "_emo_")
}
