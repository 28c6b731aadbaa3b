// Package telegram connects the command layer to a Telegram bot over long
// polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	tele "gopkg.in/telebot.v4"

	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
	"github.com/zhouzirui/mindfriend/backend/internal/service/command"
)

// Handler answers one inbound message.
type Handler interface {
	Handle(ctx context.Context, msg chat.InboundMessage) (chat.OutboundMessage, error)
}

// sender is the part of *tele.Bot used to deliver replies.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// DeliveryError reports a reply that could not be delivered after all retries.
type DeliveryError struct {
	UserID   chat.UserID
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("telegram: deliver to %s after %d attempts: %v", e.UserID, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Config configures the transport.
type Config struct {
	Token       string
	PollTimeout time.Duration
	// SendRetries is how many times a failed delivery is retried.
	SendRetries int
	// RetryBase is the first backoff delay; it doubles per retry. Default: 500ms.
	RetryBase time.Duration
}

// Transport receives Telegram updates and replies through the handler.
type Transport struct {
	bot     *tele.Bot
	sender  sender
	handler Handler
	cfg     Config
	logger  zerolog.Logger
	ctx     context.Context
}

// New creates the bot and registers the handlers. It contacts Telegram to
// validate the token.
func New(cfg Config, handler Handler, logger zerolog.Logger) (*Transport, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}

	logger = logger.With().Str("component", "telegram").Logger()
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
		OnError: func(err error, c tele.Context) {
			logger.Error().Err(err).Msg("telegram handler error")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return newTransport(bot, bot, handler, cfg, logger), nil
}

func newTransport(bot *tele.Bot, s sender, handler Handler, cfg Config, logger zerolog.Logger) *Transport {
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.SendRetries < 0 {
		cfg.SendRetries = 0
	}

	t := &Transport{
		bot:     bot,
		sender:  s,
		handler: handler,
		cfg:     cfg,
		logger:  logger,
		ctx:     context.Background(),
	}
	for _, c := range command.Commands {
		bot.Handle(c.Name, t.onMessage)
	}
	bot.Handle(tele.OnText, t.onMessage)
	return t
}

// Run polls for updates until ctx is done.
func (t *Transport) Run(ctx context.Context) error {
	t.ctx = ctx
	if err := t.bot.SetCommands(botCommands()); err != nil {
		t.logger.Warn().Err(err).Msg("set bot commands failed")
	}

	go func() {
		<-ctx.Done()
		t.bot.Stop()
	}()

	t.logger.Info().Str("bot", t.bot.Me.Username).Msg("telegram polling started")
	t.bot.Start()
	t.logger.Info().Msg("telegram polling stopped")
	return nil
}

func botCommands() []tele.Command {
	out := make([]tele.Command, 0, len(command.Commands))
	for _, c := range command.Commands {
		out = append(out, tele.Command{Text: c.Name[1:], Description: c.Description})
	}
	return out
}

func (t *Transport) onMessage(c tele.Context) error {
	from := c.Sender()
	if from == nil || c.Message() == nil {
		return nil
	}

	userID := chat.UserID(strconv.FormatInt(from.ID, 10))
	msg := chat.InboundMessage{
		UserID:    userID,
		Text:      c.Text(),
		Timestamp: c.Message().Time(),
		Profile: &chat.User{
			ID:        userID,
			Username:  from.Username,
			FirstName: from.FirstName,
			LastName:  from.LastName,
		},
	}

	logger := t.logger.With().Str("user_id", string(userID)).Logger()
	out, err := t.handler.Handle(t.ctx, msg)
	if err != nil {
		if errors.Is(err, command.ErrRateLimited) {
			logger.Debug().Msg("message rate limited")
		} else {
			logger.Warn().Err(err).Msg("message handling failed")
		}
	}
	if out.Text == "" {
		return nil
	}

	var to tele.Recipient = from
	if chatObj := c.Chat(); chatObj != nil {
		to = chatObj
	}
	if err := t.deliver(t.ctx, userID, to, out.Text); err != nil {
		logger.Error().Err(err).Msg("reply not delivered")
	}
	return nil
}

// deliver sends text with exponential backoff. It returns a *DeliveryError
// once the retries are used up.
func (t *Transport) deliver(ctx context.Context, userID chat.UserID, to tele.Recipient, text string) error {
	backoff := retry.WithMaxRetries(uint64(t.cfg.SendRetries), retry.NewExponential(t.cfg.RetryBase))

	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if _, err := t.sender.Send(to, text); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return &DeliveryError{UserID: userID, Attempts: attempts, Err: err}
	}
	return nil
}
