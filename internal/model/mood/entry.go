package mood

import (
	"strings"
	"time"

	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
)

// Source tells how a mood entry was captured.
type Source string

const (
	SourceCommand  Source = "command"
	SourceInferred Source = "inferred"
)

const (
	MinScore = 1.0
	MaxScore = 10.0
)

// Entry is one immutable mood report for a user.
type Entry struct {
	ID        string      `json:"id"`
	UserID    chat.UserID `json:"userId"`
	Label     string      `json:"label,omitempty"`
	Score     *float64    `json:"score,omitempty"`
	Source    Source      `json:"source"`
	CreatedAt time.Time   `json:"createdAt"`
}

// NormalizeLabel lower-cases a label and collapses inner whitespace.
func NormalizeLabel(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}

// ValidScore reports whether s lies in the accepted score range.
func ValidScore(s float64) bool {
	return s >= MinScore && s <= MaxScore
}
