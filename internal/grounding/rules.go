package grounding

import (
	"regexp"
	"strings"

	"github.com/kjellm/anchor/internal/retrieval"
)

// Input is everything a trap rule may inspect for one draft answer.
type Input struct {
	Query     string
	Draft     string
	Citations []retrieval.Citation
}

// Rule is one independent trap check. Rules are pure predicates: a rule
// answers a single yes/no question about the draft and records nothing.
// New rules plug into DefaultRules without touching the scoring logic.
type Rule struct {
	// ID identifies the rule in Result.Triggered.
	ID string

	// Hard marks violations that force a REFUSE verdict regardless of the
	// numeric confidence.
	Hard bool

	// Evaluate reports whether the trap fired.
	Evaluate func(in Input) bool
}

var (
	entityRe = regexp.MustCompile(`[A-Z][a-z]+(?: [A-Z][a-z]+)+`)
	numberRe = regexp.MustCompile(`\d[\d,.]*\d|\d`)
	yearRe   = regexp.MustCompile(`\b(?:1[89]\d\d|20\d\d)\b`)
	monthRe  = regexp.MustCompile(`(?i)\b(?:january|february|march|april|june|july|august|september|october|november|december)\b`)
	// May needs a case-sensitive match of its own so the modal verb "may"
	// does not count as a month name.
	mayRe = regexp.MustCompile(`\bMay\b`)
)

// hedgePhrases mark drafts that explicitly disclaim knowledge; such drafts
// are not treated as factual assertions.
var hedgePhrases = []string{
	"i don't have",
	"i do not have",
	"i don't know",
	"i do not know",
	"i'm not sure",
	"i am not sure",
	"insufficient information",
	"cannot answer",
	"no information",
}

// stopwords excluded from topic-overlap comparison.
var stopwords = map[string]bool{
	"about": true, "after": true, "also": true, "been": true, "before": true,
	"could": true, "does": true, "from": true, "have": true, "into": true,
	"more": true, "over": true, "some": true, "than": true, "that": true,
	"their": true, "them": true, "then": true, "there": true, "these": true,
	"they": true, "this": true, "very": true, "were": true, "what": true,
	"when": true, "where": true, "which": true, "will": true, "with": true,
	"would": true, "your": true,
}

// DefaultRules returns the built-in trap battery in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:   "fabricated-entity",
			Hard: true,
			Evaluate: func(in Input) bool {
				source := sourceText(in)
				for _, entity := range entityRe.FindAllString(in.Draft, -1) {
					if !strings.Contains(source, strings.ToLower(entity)) {
						return true
					}
				}
				return false
			},
		},
		{
			ID:   "unsupported-number",
			Hard: true,
			Evaluate: func(in Input) bool {
				source := sourceText(in)
				for _, num := range numberRe.FindAllString(in.Draft, -1) {
					if !strings.Contains(source, num) {
						return true
					}
				}
				return false
			},
		},
		{
			ID:   "unattested-date",
			Hard: true,
			Evaluate: func(in Input) bool {
				source := sourceText(in)
				for _, year := range yearRe.FindAllString(in.Draft, -1) {
					if !strings.Contains(source, year) {
						return true
					}
				}
				for _, month := range monthRe.FindAllString(in.Draft, -1) {
					if !strings.Contains(source, strings.ToLower(month)) {
						return true
					}
				}
				if mayRe.MatchString(in.Draft) && !strings.Contains(source, "may") {
					return true
				}
				return false
			},
		},
		{
			ID:   "off-topic",
			Hard: false,
			Evaluate: func(in Input) bool {
				queryWords := contentWords(in.Query)
				draftWords := contentWords(in.Draft)
				if len(queryWords) < 2 || len(draftWords) < 2 {
					return false
				}
				for w := range queryWords {
					if draftWords[w] {
						return false
					}
				}
				return true
			},
		},
		{
			ID:   "no-context-assertion",
			Hard: true,
			Evaluate: func(in Input) bool {
				return len(in.Citations) == 0 && assertsFactualContent(in.Draft)
			},
		},
	}
}

// sourceText concatenates everything the draft is allowed to draw from:
// the retrieved citation texts, their titles and sections, and the query
// itself. Lowercased for case-insensitive matching.
func sourceText(in Input) string {
	var b strings.Builder
	b.WriteString(in.Query)
	b.WriteString("\n")
	for _, c := range in.Citations {
		b.WriteString(c.DocTitle)
		b.WriteString("\n")
		b.WriteString(c.Section)
		b.WriteString("\n")
		b.WriteString(c.Content)
		b.WriteString("\n")
	}
	return strings.ToLower(b.String())
}

// contentWords returns the lowercased words of s longer than three runes,
// minus stopwords.
func contentWords(s string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len(w) > 3 && !stopwords[w] {
			words[w] = true
		}
	}
	return words
}

// assertsFactualContent reports whether the draft makes concrete claims:
// specific numbers, named entities, or a substantial non-hedged statement.
func assertsFactualContent(draft string) bool {
	lower := strings.ToLower(draft)
	for _, hedge := range hedgePhrases {
		if strings.Contains(lower, hedge) {
			return false
		}
	}
	if numberRe.MatchString(draft) || entityRe.MatchString(draft) {
		return true
	}
	return len(strings.Fields(draft)) >= 8
}
