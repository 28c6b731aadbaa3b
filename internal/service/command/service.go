// Package command turns user messages into bot replies: slash commands are
// answered here, everything else goes to the conversation orchestrator.
package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
	"github.com/zhouzirui/mindfriend/backend/internal/model/mood"
	"github.com/zhouzirui/mindfriend/backend/internal/model/persona"
	"github.com/zhouzirui/mindfriend/backend/internal/service/conversation"
	"github.com/zhouzirui/mindfriend/backend/internal/service/stats"
	"github.com/zhouzirui/mindfriend/backend/internal/store"
)

// ErrRateLimited is returned when a user sends messages too quickly.
var ErrRateLimited = errors.New("rate limited")

// ErrInvalidArgs marks a command whose arguments could not be used.
var ErrInvalidArgs = errors.New("invalid command arguments")

// Number of exchanges /history shows and mood entries /moodstats lists.
const (
	HistoryExchanges = 5
	RecentMoods      = 5
)

// User-visible replies.
const (
	ApologyText     = "I'm sorry, I couldn't process that right now. Please try again later."
	NotSavedText    = "Sorry, something went wrong on my side and your message may not have been saved. Please try again in a moment."
	RateLimitedText = "You're sending messages a little fast. Take a breath and try again in a moment."
	EmptyText       = "I'm listening. Send me a message whenever you're ready."
	MoodUsageText   = "Please provide your mood after the command, e.g., /mood happy or /mood anxious 4"
	NoHistoryText   = "No conversation history found."
	NoMoodsText     = "No mood records found. Use /mood <your mood> to log one!"
	UnknownText     = "Sorry, I don't know that command. Try /help to see what I can do."
	timeLayout      = "2006-01-02 15:04:05"
)

// Commands lists the slash commands with their help text.
var Commands = []struct {
	Name        string
	Description string
}{
	{"/start", "Say hello and get started"},
	{"/help", "Show this list"},
	{"/history", "Show your last 5 conversations"},
	{"/stats", "Show your chat statistics"},
	{"/mood", "Record your mood, e.g. /mood happy or /mood tired 4"},
	{"/moodstats", "Show your recent moods and how often you felt each"},
}

// Conversation runs chat turns and records moods.
type Conversation interface {
	Handle(ctx context.Context, msg chat.InboundMessage) (chat.OutboundMessage, error)
	RecordMood(ctx context.Context, userID chat.UserID, label string, score *float64) (mood.Entry, error)
}

// Store is what the commands read and write directly.
type Store interface {
	SaveUser(ctx context.Context, user chat.User) error
	RecentTurns(ctx context.Context, userID chat.UserID, limit int) ([]chat.Turn, error)
}

// Stats computes the figures /stats and /moodstats show.
type Stats interface {
	Activity(ctx context.Context, userID chat.UserID, r store.TimeRange) (stats.Activity, error)
	MoodSummary(ctx context.Context, userID chat.UserID, r store.TimeRange, recent int) (stats.MoodSummary, error)
}

// Service dispatches inbound messages.
type Service struct {
	conversation Conversation
	store        Store
	stats        Stats
	persona      persona.Persona
	limiter      *Limiter
	logger       zerolog.Logger
}

// NewService wires the command layer. limiter may be nil.
func NewService(conv Conversation, st Store, agg Stats, p persona.Persona, limiter *Limiter, logger zerolog.Logger) *Service {
	return &Service{
		conversation: conv,
		store:        st,
		stats:        agg,
		persona:      p,
		limiter:      limiter,
		logger:       logger.With().Str("component", "command").Logger(),
	}
}

// Handle always returns text for the user. A non-nil error says why the
// request did not fully succeed and is meant for logging and status codes.
func (s *Service) Handle(ctx context.Context, msg chat.InboundMessage) (chat.OutboundMessage, error) {
	if msg.UserID == "" {
		return chat.OutboundMessage{Text: ApologyText}, conversation.ErrUserRequired
	}
	if !s.limiter.Allow(msg.UserID) {
		return s.reply(msg, RateLimitedText), ErrRateLimited
	}

	s.saveUser(ctx, msg)

	name, args, isCommand := parseCommand(msg.Text)
	if !isCommand {
		return s.chat(ctx, msg)
	}

	switch name {
	case "start":
		return s.reply(msg, s.persona.OpeningLine), nil
	case "help":
		return s.reply(msg, helpText()), nil
	case "history":
		return s.history(ctx, msg)
	case "stats":
		return s.statsReply(ctx, msg)
	case "mood":
		return s.mood(ctx, msg, args)
	case "moodstats":
		return s.moodStats(ctx, msg)
	default:
		return s.reply(msg, UnknownText), nil
	}
}

func (s *Service) reply(msg chat.InboundMessage, text string) chat.OutboundMessage {
	return chat.OutboundMessage{UserID: msg.UserID, Text: text}
}

func (s *Service) saveUser(ctx context.Context, msg chat.InboundMessage) {
	user := chat.User{ID: msg.UserID}
	if msg.Profile != nil {
		user = *msg.Profile
		user.ID = msg.UserID
	}
	if err := s.store.SaveUser(ctx, user); err != nil {
		s.logger.Warn().Err(err).Str("user_id", string(msg.UserID)).Msg("save user failed")
	}
}

func (s *Service) chat(ctx context.Context, msg chat.InboundMessage) (chat.OutboundMessage, error) {
	out, err := s.conversation.Handle(ctx, msg)
	if err == nil {
		return out, nil
	}

	var genErr *conversation.GenerationError
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		return s.reply(msg, EmptyText), err
	case errors.As(err, &genErr):
		return s.reply(msg, ApologyText), err
	case store.KindOf(err) != 0:
		return s.reply(msg, NotSavedText), err
	default:
		return s.reply(msg, ApologyText), err
	}
}

func (s *Service) history(ctx context.Context, msg chat.InboundMessage) (chat.OutboundMessage, error) {
	turns, err := s.store.RecentTurns(ctx, msg.UserID, 2*HistoryExchanges)
	if err != nil {
		return s.reply(msg, ApologyText), err
	}

	exchanges := PairExchanges(turns)
	if len(exchanges) > HistoryExchanges {
		exchanges = exchanges[len(exchanges)-HistoryExchanges:]
	}
	if len(exchanges) == 0 {
		return s.reply(msg, NoHistoryText), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Here are your last %d conversations:\n", len(exchanges))
	for i, ex := range exchanges {
		fmt.Fprintf(&b, "\n%d. You: %s\n  %s: %s\n  Time: %s",
			i+1, ex.User.Text, s.persona.Name, ex.replyText(), ex.User.CreatedAt.Format(timeLayout))
	}
	return s.reply(msg, b.String()), nil
}

func (s *Service) statsReply(ctx context.Context, msg chat.InboundMessage) (chat.OutboundMessage, error) {
	activity, err := s.stats.Activity(ctx, msg.UserID, store.AllTime())
	if err != nil {
		return s.reply(msg, ApologyText), err
	}
	return s.reply(msg, FormatActivity(activity)), nil
}

// FormatActivity renders activity the way /stats shows it.
func FormatActivity(a stats.Activity) string {
	return fmt.Sprintf("📊 Your Stats:\n\nTotal messages: %d\nDays active: %d\nAverage messages per day: %.2f",
		a.TotalMessages, a.DaysActive, a.AveragePerDay)
}

func (s *Service) mood(ctx context.Context, msg chat.InboundMessage, args []string) (chat.OutboundMessage, error) {
	label, score, err := ParseMood(args)
	if err != nil {
		return s.reply(msg, MoodUsageText), err
	}

	entry, err := s.conversation.RecordMood(ctx, msg.UserID, label, score)
	if err != nil {
		if errors.Is(err, store.ErrInvalidRecord) {
			return s.reply(msg, MoodUsageText), err
		}
		return s.reply(msg, NotSavedText), err
	}

	return s.reply(msg, fmt.Sprintf("Mood %s recorded. Thank you for sharing!", describeMood(entry))), nil
}

func (s *Service) moodStats(ctx context.Context, msg chat.InboundMessage) (chat.OutboundMessage, error) {
	summary, err := s.stats.MoodSummary(ctx, msg.UserID, store.AllTime(), RecentMoods)
	if err != nil {
		return s.reply(msg, ApologyText), err
	}
	if summary.Total == 0 {
		return s.reply(msg, NoMoodsText), nil
	}
	return s.reply(msg, FormatMoodSummary(summary)), nil
}

// FormatMoodSummary renders a summary the way /moodstats shows it.
func FormatMoodSummary(summary stats.MoodSummary) string {
	var b strings.Builder
	b.WriteString("📝 Your Mood Stats:\n\n")

	b.WriteString("Recent moods:\n")
	for _, entry := range summary.Recent {
		fmt.Fprintf(&b, "- %s at %s\n", describeMood(entry), entry.CreatedAt.Format(timeLayout))
	}

	if labels := summary.Labels(); len(labels) > 0 {
		b.WriteString("\nMood frequency:\n")
		for _, label := range labels {
			fmt.Fprintf(&b, "- %s: %d\n", label, summary.Frequency[label])
		}
	} else {
		b.WriteString("\nNo mood frequency data available.\n")
	}

	if summary.Scored > 0 {
		fmt.Fprintf(&b, "\nAverage score: %.1f/10", summary.Mean)
		if summary.Scored > 1 {
			fmt.Fprintf(&b, " (±%.1f)", summary.StdDev)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func describeMood(entry mood.Entry) string {
	switch {
	case entry.Label != "" && entry.Score != nil:
		return fmt.Sprintf("'%s' (%s/10)", entry.Label, formatScore(*entry.Score))
	case entry.Score != nil:
		return fmt.Sprintf("score %s/10", formatScore(*entry.Score))
	default:
		return fmt.Sprintf("'%s'", entry.Label)
	}
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseMood reads "/mood" arguments: a free-text label optionally followed
// by a score from 1 to 10, or a bare score.
func ParseMood(args []string) (string, *float64, error) {
	if len(args) == 0 {
		return "", nil, fmt.Errorf("%w: mood is required", ErrInvalidArgs)
	}

	last := args[len(args)-1]
	value, err := strconv.ParseFloat(strings.TrimSuffix(last, "/10"), 64)
	if err != nil {
		return strings.Join(args, " "), nil, nil
	}
	if !mood.ValidScore(value) {
		return "", nil, fmt.Errorf("%w: score %s is outside %g..%g", ErrInvalidArgs, last, mood.MinScore, mood.MaxScore)
	}
	return strings.Join(args[:len(args)-1], " "), &value, nil
}

// parseCommand splits "/name@bot arg1 arg2" into its parts.
func parseCommand(text string) (string, []string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), fields[1:], true
}

func helpText() string {
	var b strings.Builder
	b.WriteString("Here's what I can do:\n")
	for _, c := range Commands {
		fmt.Fprintf(&b, "\n%s - %s", c.Name, c.Description)
	}
	b.WriteString("\n\nOr just tell me how you're doing.")
	return b.String()
}

// Exchange is a user turn and, when one was generated, the reply to it.
type Exchange struct {
	User  chat.Turn  `json:"user"`
	Reply *chat.Turn `json:"reply,omitempty"`
}

func (e Exchange) replyText() string {
	if e.Reply == nil {
		return "(no reply)"
	}
	return e.Reply.Text
}

// PairExchanges groups turns by exchange id, oldest first. Replies whose
// user turn is not in turns are dropped.
func PairExchanges(turns []chat.Turn) []Exchange {
	var out []Exchange
	index := make(map[string]int)
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleUser:
			if turn.ExchangeID != "" {
				index[turn.ExchangeID] = len(out)
			}
			out = append(out, Exchange{User: turn})
		case chat.RoleAssistant:
			if i, ok := index[turn.ExchangeID]; ok && out[i].Reply == nil {
				reply := turn
				out[i].Reply = &reply
			}
		}
	}
	return out
}
