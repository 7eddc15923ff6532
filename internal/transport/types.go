package transport

import (
	"context"
	"sort"
	"strings"

	logx "taskmanager/pkg/logx"
)

// Notification is one outbound message. Key groups notifications for
// deduplication; an empty key falls back to a content hash.
type Notification struct {
	Channel  string // "telegram", "log"
	Key      string
	Priority int // 0 low .. 10 high
	Title    string
	Text     string
	Silent   bool
	Data     map[string]string
}

// Body renders Title and Text as one message.
func (n Notification) Body() string {
	title := strings.TrimSpace(n.Title)
	text := strings.TrimSpace(n.Text)
	switch {
	case title == "":
		return text
	case text == "":
		return title
	default:
		return title + "\n" + text
	}
}

type Sender interface {
	Send(ctx context.Context, n Notification) error
}

type SenderFunc func(ctx context.Context, n Notification) error

func (f SenderFunc) Send(ctx context.Context, n Notification) error { return f(ctx, n) }

// LogSender writes deliveries to the structured log. It is the fallback
// when no chat transport is configured.
type LogSender struct {
	Log logx.Logger
}

func (s LogSender) Send(_ context.Context, n Notification) error {
	fields := []logx.Field{
		logx.String("channel", n.Channel),
		logx.String("key", n.Key),
		logx.String("title", n.Title),
		logx.String("text", n.Text),
		logx.Bool("silent", n.Silent),
	}
	keys := make([]string, 0, len(n.Data))
	for k := range n.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, logx.String("data."+k, n.Data[k]))
	}
	s.Log.Info("notification delivered", fields...)
	return nil
}

// Alerter adapts a Sender to logx.Alerter so WARN+ log records reach the
// operator chat.
type Alerter struct {
	Sender  Sender
	Channel string
}

func (a Alerter) Alert(ctx context.Context, text string) error {
	if a.Sender == nil {
		return nil
	}
	return a.Sender.Send(ctx, Notification{Channel: a.Channel, Priority: 7, Text: text, Silent: true})
}
