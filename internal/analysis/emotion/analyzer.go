package emotion

import (
	"math"
	"strings"
)

// Label 表示TTS可以接受的情绪标签。
type Label string

const (
	Neutral  Label = "neutral"
	Happy    Label = "happy"
	Sad      Label = "sad"
	Angry    Label = "angry"
	Anxious  Label = "anxious"
	Excited  Label = "excited"
	Tender   Label = "tender"
	Comfort  Label = "comfort"
	Magnetic Label = "magnetic"
)

// Decision 给出情绪识别结果以及推荐情绪强度。
type Decision struct {
	Emotion Label
	Scale   float32
	Score   int
}

var keywordBuckets = map[Label][]string{
	Happy: {
		"happy", "glad", "great", "good news", "thanks", "thank you", "grateful", "proud", "joy",
		"relieved", "love", "wonderful", "awesome", "amazing", "lol", "haha",
	},
	Sad: {
		"sad", "unhappy", "cry", "crying", "depressed", "lonely", "alone", "hurt", "grief", "miss",
		"lost", "hopeless", "empty", "heartbroken", "down", "upset", "tired of",
	},
	Angry: {
		"angry", "furious", "rage", "mad at", "annoyed", "pissed", "frustrated", "hate", "fed up",
		"sick of", "unfair",
	},
	Anxious: {
		"anxious", "anxiety", "worried", "worry", "nervous", "panic", "scared", "afraid", "stressed",
		"overwhelmed", "can't sleep", "racing thoughts", "on edge",
	},
	Excited: {
		"excited", "can't wait", "thrilled", "wow", "incredible", "unbelievable", "finally", "yay",
	},
	Tender: {
		"gentle", "gently", "soft", "softly", "calm", "slowly", "kind to yourself", "rest", "peace",
		"quiet", "warm",
	},
	Comfort: {
		"i'm here", "i am here", "you're not alone", "you are not alone", "it's okay", "it's ok",
		"that sounds hard", "that sounds difficult", "take your time", "breathe", "take it easy",
		"you're safe", "i hear you", "that makes sense", "be gentle with yourself",
	},
	Magnetic: {
		"important", "serious", "must", "focus", "critical", "remember", "please make sure",
		"emergency", "professional help", "hotline",
	},
}

var punctuationBoost = map[Label]int{
	Happy:   2,
	Excited: 3,
}

// Analyze 根据用户话语与AI回复推断应使用的语音情绪。
func Analyze(userUtterance, aiUtterance string) Decision {
	userScore := scoreText(userUtterance)
	aiScore := scoreText(aiUtterance)

	finalScore := aiScore
	// AI回复没有明显情感时，按用户情绪映射出共情的语气。
	if finalScore.Score == 0 && userScore.Score > 0 {
		finalScore = coerceEmotionFromUser(userScore)
	}

	if finalScore.Score == 0 {
		return Decision{Emotion: Neutral, Scale: 3, Score: 0}
	}

	scale := 2 + float32(finalScore.Score)/4
	switch finalScore.Emotion {
	case Excited:
		scale += 1
	case Magnetic:
		scale = float32(math.Min(4.0, float64(scale)))
	case Comfort, Tender:
		scale = float32(math.Min(3.5, float64(scale)))
	}

	if scale < 1 {
		scale = 1
	}
	if scale > 5 {
		scale = 5
	}

	return Decision{Emotion: finalScore.Emotion, Scale: scale, Score: finalScore.Score}
}

func scoreText(text string) Decision {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return Decision{Emotion: Neutral}
	}

	scores := make(map[Label]int)
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[label] += 3
			}
		}
	}

	exclamations := strings.Count(text, "!")
	if exclamations > 0 {
		scores[Excited] += exclamations * punctuationBoost[Excited]
		if exclamations == 1 {
			scores[Happy] += punctuationBoost[Happy]
		}
	}

	// 按固定顺序挑选最高分，避免 map 遍历顺序导致结果不稳定。
	bestLabel := Neutral
	bestScore := 0
	for _, label := range labelOrder {
		if s := scores[label]; s > bestScore {
			bestScore = s
			bestLabel = label
		}
	}

	if bestScore == 0 {
		return Decision{Emotion: Neutral}
	}

	return Decision{Emotion: bestLabel, Score: bestScore}
}

var labelOrder = []Label{Comfort, Sad, Anxious, Angry, Tender, Magnetic, Happy, Excited}

func coerceEmotionFromUser(user Decision) Decision {
	switch user.Emotion {
	case Sad, Anxious:
		return Decision{Emotion: Comfort, Score: user.Score}
	case Angry:
		return Decision{Emotion: Magnetic, Score: user.Score}
	case Excited:
		return Decision{Emotion: Excited, Score: user.Score}
	case Happy:
		return Decision{Emotion: Happy, Score: user.Score}
	case Tender, Comfort:
		return Decision{Emotion: Tender, Score: user.Score}
	default:
		return user
	}
}
