// Package mood guesses a mood label from free text with keyword heuristics.
package mood

import (
	"strings"
	"unicode"
)

// Label is a mood the analyzer can report.
type Label string

const (
	Neutral Label = "neutral"
	Happy   Label = "happy"
	Sad     Label = "sad"
	Angry   Label = "angry"
	Anxious Label = "anxious"
	Excited Label = "excited"
	Calm    Label = "calm"
	Tired   Label = "tired"
)

// Labels lists every label in tie-break order.
var Labels = []Label{Sad, Anxious, Angry, Tired, Happy, Excited, Calm, Neutral}

// Parse maps a raw string onto a known label.
func Parse(raw string) (Label, bool) {
	normalized := Label(strings.ToLower(strings.TrimSpace(raw)))
	for _, label := range Labels {
		if label == normalized {
			return label, true
		}
	}
	return "", false
}

// Decision is the analyzer's verdict for one message.
type Decision struct {
	Label Label
	// Hits counts keyword matches for Label.
	Hits int
	// Confidence is within [0, 1]; zero for Neutral.
	Confidence float64
	// Score is the suggested mood score on the 1..10 scale.
	Score float64
}

// suggested mood score per label on the 1..10 scale
var labelScores = map[Label]float64{
	Neutral: 5,
	Happy:   8,
	Sad:     3,
	Angry:   2,
	Anxious: 3,
	Excited: 9,
	Calm:    7,
	Tired:   4,
}

var keywordBuckets = map[Label][]string{
	Happy: {
		"happy", "glad", "great", "good day", "joy", "joyful", "cheerful", "grateful", "thankful",
		"awesome", "amazing", "wonderful", "love", "loved", "smile", "smiling", "lol", "haha", "pleased",
	},
	Sad: {
		"sad", "unhappy", "down", "depressed", "cry", "crying", "cried", "lonely", "alone", "hurt",
		"heartbroken", "miserable", "hopeless", "empty", "grief", "upset", "tears", "lost",
	},
	Angry: {
		"angry", "mad", "furious", "rage", "annoyed", "irritated", "pissed", "hate", "frustrated",
		"fed up", "sick of", "livid",
	},
	Anxious: {
		"anxious", "anxiety", "worried", "worry", "nervous", "panic", "panicking", "scared", "afraid",
		"stressed", "stress", "overwhelmed", "tense", "uneasy", "can't sleep", "on edge",
	},
	Excited: {
		"excited", "thrilled", "can't wait", "pumped", "hyped", "ecstatic", "wow", "finally",
	},
	Calm: {
		"calm", "relaxed", "peaceful", "at peace", "content", "fine", "okay", "ok", "rested", "serene",
	},
	Tired: {
		"tired", "exhausted", "drained", "sleepy", "worn out", "burned out", "burnt out", "fatigued", "no energy",
	},
}

// Analyze scores text against the keyword buckets and returns the strongest label.
func Analyze(text string) Decision {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return Decision{Label: Neutral, Score: labelScores[Neutral]}
	}

	words := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		words[tok] = struct{}{}
	}
	phrase := " " + strings.Join(tokens, " ") + " "

	hits := make(map[Label]int)
	total := 0
	for _, label := range Labels {
		for _, keyword := range keywordBuckets[label] {
			if matches(keyword, words, phrase) {
				hits[label]++
				total++
			}
		}
	}

	if exclamations := strings.Count(text, "!"); exclamations >= 2 && hits[Sad]+hits[Angry]+hits[Anxious] == 0 {
		hits[Excited]++
		total++
	}

	best := Neutral
	for _, label := range Labels {
		if hits[label] > hits[best] {
			best = label
		}
	}
	if hits[best] == 0 {
		return Decision{Label: Neutral, Score: labelScores[Neutral]}
	}

	// Confidence grows with hits for the winner and shrinks when other
	// labels compete for the same message.
	strength := min(100, 45+15*hits[best])
	confidence := float64(strength) / 100 * float64(hits[best]) / float64(total)

	return Decision{
		Label:      best,
		Hits:       hits[best],
		Confidence: confidence,
		Score:      labelScores[best],
	}
}

// SuggestedScore returns the default 1..10 score for a label.
func SuggestedScore(label Label) float64 {
	if score, ok := labelScores[label]; ok {
		return score
	}
	return labelScores[Neutral]
}

func matches(keyword string, words map[string]struct{}, phrase string) bool {
	keyword = strings.Join(tokenize(keyword), " ")
	if keyword == "" {
		return false
	}
	if !strings.Contains(keyword, " ") {
		_, ok := words[keyword]
		return ok
	}
	return strings.Contains(phrase, " "+keyword+" ")
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
