// Package telegram delivers notifications to a Telegram chat through
// telebot. The bot is send-only; it never polls for updates.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"taskmanager/internal/transport"
	logx "taskmanager/pkg/logx"
)

const textLimit = 4096

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int // forum topic, 0 for none
	Timeout  time.Duration
}

type Sender struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{cfg: cfg, log: log, bot: b}, nil
}

func (s *Sender) Send(ctx context.Context, n transport.Notification) error {
	chat := &tele.Chat{ID: s.cfg.ChatID}
	for _, chunk := range splitText(n.Body(), textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := s.bot.Send(chat, chunk, &tele.SendOptions{
			ThreadID:              s.cfg.ThreadID,
			DisableWebPagePreview: true,
			DisableNotification:   n.Silent,
		})
		if err != nil {
			return err
		}
	}
	s.log.Debug("telegram message sent", logx.String("key", n.Key), logx.Int64("chat_id", s.cfg.ChatID))
	return nil
}

// splitText cuts s into chunks of at most limit runes, preferring a newline
// in the last two thirds of each window.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, len(rs)/limit+1)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
