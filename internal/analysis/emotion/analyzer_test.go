package emotion

import "testing"

func TestAnalyzeSadUserGetsComfort(t *testing.T) {
	decision := Analyze("I feel so sad today", "Tell me more about your day.")
	if decision.Emotion != Comfort {
		t.Fatalf("expected comfort emotion, got %s", decision.Emotion)
	}
	if decision.Scale < 1 || decision.Scale > 3.5 {
		t.Fatalf("emotion scale out of range: %f", decision.Scale)
	}
}

func TestAnalyzeExcitedReply(t *testing.T) {
	decision := Analyze("We did it!!! I'm so excited", "Wow, that's incredible news!")
	if decision.Emotion != Excited {
		t.Fatalf("expected excited emotion, got %s", decision.Emotion)
	}
	if decision.Scale != 5 {
		t.Fatalf("expected capped scale, got %f", decision.Scale)
	}
}

func TestAnalyzeAngryUserGetsMagnetic(t *testing.T) {
	decision := Analyze("I'm so frustrated with my boss", "Tell me what happened.")
	if decision.Emotion != Magnetic {
		t.Fatalf("expected magnetic emotion, got %s", decision.Emotion)
	}
	if decision.Scale > 4 {
		t.Fatalf("magnetic scale should be capped at 4, got %f", decision.Scale)
	}
}

func TestAnalyzeNeutral(t *testing.T) {
	decision := Analyze("", "")
	if decision.Emotion != Neutral || decision.Score != 0 {
		t.Fatalf("expected neutral decision, got %+v", decision)
	}
}
