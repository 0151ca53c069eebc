package grounding

import (
	"testing"

	"github.com/kjellm/anchor/internal/log"
	"github.com/kjellm/anchor/internal/retrieval"
)

func citation(title, content string, score float64) retrieval.Citation {
	return retrieval.Citation{
		ChunkID:  title + ":0",
		DocID:    title,
		DocTitle: title,
		Content:  content,
		Score:    score,
	}
}

func TestValidateAllowsSupportedAnswer(t *testing.T) {
	v := NewValidator(nil, log.NewNop())

	citations := []retrieval.Citation{
		citation("doc_sky", "The sky is blue during the day.", 0.9),
		citation("doc_weather", "Clear weather makes the blue more vivid.", 0.8),
	}
	result := v.Validate("Why is the sky blue?", "The sky is blue.", citations)

	if result.Verdict != VerdictAllow {
		t.Errorf("Verdict = %s (triggered %v), want ALLOW", result.Verdict, result.Triggered)
	}
	if result.Confidence < allowThreshold {
		t.Errorf("Confidence = %f, want >= %f", result.Confidence, allowThreshold)
	}
	if len(result.Triggered) != 0 {
		t.Errorf("Triggered = %v, want none", result.Triggered)
	}
}

func TestValidateRefusesAssertionWithoutContext(t *testing.T) {
	v := NewValidator(nil, log.NewNop())

	result := v.Validate(
		"What is the capital of France?",
		"The capital of France is Paris, a large city in western Europe.",
		nil)

	if result.Verdict != VerdictRefuse {
		t.Errorf("Verdict = %s, want REFUSE for a factual claim with zero citations", result.Verdict)
	}
	if result.Confidence != 0 {
		t.Errorf("Confidence = %f, want 0 with no citations", result.Confidence)
	}
}

func TestValidateHedgedAnswerWithoutContextIsNotRefused(t *testing.T) {
	v := NewValidator(nil, log.NewNop())

	result := v.Validate(
		"What is your favorite movie?",
		"I don't have information about that in my knowledge base.",
		nil)

	if result.Verdict == VerdictRefuse {
		t.Errorf("Verdict = REFUSE for an honest hedge, want ALLOW or SOFTEN (triggered %v)", result.Triggered)
	}
}

func TestValidateHardRules(t *testing.T) {
	citations := []retrieval.Citation{
		citation("doc_work", "I spent ten years building backend services.", 0.9),
	}

	tests := []struct {
		name     string
		draft    string
		wantRule string
	}{
		{
			name:     "fabricated entity",
			draft:    "I worked closely with Jane Mercer on that project.",
			wantRule: "fabricated-entity",
		},
		{
			name:     "unsupported number",
			draft:    "I spent 15 years building backend services.",
			wantRule: "unsupported-number",
		},
		{
			name:     "unattested date",
			draft:    "That work started in March and wrapped up later.",
			wantRule: "unattested-date",
		},
		{
			name:     "unattested month of May",
			draft:    "That work started in May and wrapped up later.",
			wantRule: "unattested-date",
		},
	}

	v := NewValidator(nil, log.NewNop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate("Tell me about your work history", tt.draft, citations)
			if result.Verdict != VerdictRefuse {
				t.Errorf("Verdict = %s, want REFUSE", result.Verdict)
			}
			found := false
			for _, id := range result.Triggered {
				if id == tt.wantRule {
					found = true
				}
			}
			if !found {
				t.Errorf("Triggered = %v, want %s", result.Triggered, tt.wantRule)
			}
		})
	}
}

func TestValidateModalMayIsNotADate(t *testing.T) {
	v := NewValidator(nil, log.NewNop())

	citations := []retrieval.Citation{
		citation("doc_work", "I spent ten years building backend services.", 0.9),
	}
	draft := "Those habits may still shape how I build backend services today."

	result := v.Validate("Tell me about your work history", draft, citations)
	for _, id := range result.Triggered {
		if id == "unattested-date" {
			t.Errorf("Triggered = %v, modal \"may\" must not count as a month", result.Triggered)
		}
	}
}

func TestValidateSoftensOffTopicDraft(t *testing.T) {
	v := NewValidator(nil, log.NewNop())

	citations := []retrieval.Citation{
		citation("doc_stack", "The service stores chunks in a relational database.", 0.5),
	}
	result := v.Validate(
		"Which databases and caching layers do you use?",
		"My favorite hobby involves painting landscapes outdoors.",
		citations)

	if result.Verdict != VerdictSoften {
		t.Errorf("Verdict = %s (triggered %v), want SOFTEN", result.Verdict, result.Triggered)
	}
	if len(result.Triggered) != 1 || result.Triggered[0] != "off-topic" {
		t.Errorf("Triggered = %v, want [off-topic]", result.Triggered)
	}
}

// permissiveness ranks verdicts for the monotonicity check.
func permissiveness(v Verdict) int {
	switch v {
	case VerdictAllow:
		return 2
	case VerdictSoften:
		return 1
	default:
		return 0
	}
}

func TestValidateMonotoneUnderCitationRemoval(t *testing.T) {
	v := NewValidator(nil, log.NewNop())

	query := "Tell me about Project Atlas"
	draft := "Project Atlas shipped in 2019 with 12 engineers."
	citations := []retrieval.Citation{
		citation("doc_atlas", "Project Atlas shipped in 2019 after a long beta.", 0.9),
		citation("doc_team", "The team grew to 12 engineers by launch.", 0.9),
	}

	full := v.Validate(query, draft, citations)
	if full.Verdict != VerdictAllow {
		t.Fatalf("full citation set verdict = %s (triggered %v), want ALLOW", full.Verdict, full.Triggered)
	}

	// Dropping citations one at a time must never raise permissiveness or
	// confidence.
	prev := full
	for cut := len(citations) - 1; cut >= 0; cut-- {
		got := v.Validate(query, draft, citations[:cut])
		if permissiveness(got.Verdict) > permissiveness(prev.Verdict) {
			t.Errorf("removing a citation raised verdict from %s to %s", prev.Verdict, got.Verdict)
		}
		if got.Confidence > prev.Confidence {
			t.Errorf("removing a citation raised confidence from %f to %f", prev.Confidence, got.Confidence)
		}
		prev = got
	}

	// With no citations at all the factual draft must be refused outright.
	if prev.Verdict != VerdictRefuse {
		t.Errorf("empty citation set verdict = %s, want REFUSE", prev.Verdict)
	}
}

func TestValidateDeterministic(t *testing.T) {
	v := NewValidator(nil, log.NewNop())
	citations := []retrieval.Citation{
		citation("doc_bio", "I build small sharp tools.", 0.7),
	}

	a := v.Validate("What do you build?", "I build small sharp tools.", citations)
	b := v.Validate("What do you build?", "I build small sharp tools.", citations)
	if a.Verdict != b.Verdict || a.Confidence != b.Confidence {
		t.Errorf("same input produced %v then %v", a, b)
	}
}
