// Package notify delivers the one user-visible message every flow emits on
// success or failure.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/charmbracelet/lipgloss"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

type Notifier interface {
	Success(ctx context.Context, msg string)
	Error(ctx context.Context, msg string)
	Info(ctx context.Context, msg string)
}

// Console prints styled lines, normally to stderr so stdout stays parseable.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	success lipgloss.Style
	failure lipgloss.Style
	info    lipgloss.Style
}

func NewConsole(out io.Writer) *Console {
	r := lipgloss.NewRenderer(out)
	return &Console{
		out:     out,
		success: r.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		failure: r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		info:    r.NewStyle().Foreground(lipgloss.Color("39")),
	}
}

func (c *Console) Success(_ context.Context, msg string) { c.write(c.success, "✓ "+msg) }
func (c *Console) Error(_ context.Context, msg string)   { c.write(c.failure, "✗ "+msg) }
func (c *Console) Info(_ context.Context, msg string)    { c.write(c.info, "• "+msg) }

func (c *Console) write(style lipgloss.Style, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, style.Render(line))
}

// Log routes notifications into the structured log, used by the companion
// server where there is no terminal.
type Log struct {
	log *slog.Logger
}

func NewLog(log *slog.Logger) *Log {
	if log == nil {
		log = slog.Default()
	}
	return &Log{log: log}
}

func (l *Log) Success(ctx context.Context, msg string) {
	l.log.InfoContext(ctx, msg, "notification", LevelSuccess)
}

func (l *Log) Error(ctx context.Context, msg string) {
	l.log.ErrorContext(ctx, msg, "notification", LevelError)
}

func (l *Log) Info(ctx context.Context, msg string) {
	l.log.InfoContext(ctx, msg, "notification", LevelInfo)
}

// Sender is the part of *tgbotapi.BotAPI the Telegram notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram mirrors notifications into a chat. Delivery failures are logged
// and never surface to the flow that emitted the message.
type Telegram struct {
	api    Sender
	chatID int64
	log    *slog.Logger
}

func NewTelegram(api Sender, chatID int64, log *slog.Logger) *Telegram {
	if log == nil {
		log = slog.Default()
	}
	return &Telegram{api: api, chatID: chatID, log: log}
}

func (t *Telegram) Success(ctx context.Context, msg string) { t.send(ctx, "✅ "+msg) }
func (t *Telegram) Error(ctx context.Context, msg string)   { t.send(ctx, "⚠️ "+msg) }
func (t *Telegram) Info(ctx context.Context, msg string)    { t.send(ctx, "ℹ️ "+msg) }

func (t *Telegram) send(ctx context.Context, text string) {
	if _, err := t.api.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		t.log.WarnContext(ctx, "telegram notification failed", "chat_id", t.chatID, "err", err)
	}
}

// Multi fans a notification out to every notifier in order.
type Multi []Notifier

func (m Multi) Success(ctx context.Context, msg string) {
	for _, n := range m {
		n.Success(ctx, msg)
	}
}

func (m Multi) Error(ctx context.Context, msg string) {
	for _, n := range m {
		n.Error(ctx, msg)
	}
}

func (m Multi) Info(ctx context.Context, msg string) {
	for _, n := range m {
		n.Info(ctx, msg)
	}
}

// Message is one recorded notification.
type Message struct {
	Level Level
	Text  string
}

// Recorder keeps notifications in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Success(_ context.Context, msg string) { r.add(LevelSuccess, msg) }
func (r *Recorder) Error(_ context.Context, msg string)   { r.add(LevelError, msg) }
func (r *Recorder) Info(_ context.Context, msg string)    { r.add(LevelInfo, msg) }

func (r *Recorder) add(level Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Level: level, Text: msg})
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Last returns the most recent message, if any.
func (r *Recorder) Last() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return Message{}, false
	}
	return r.messages[len(r.messages)-1], true
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Success(context.Context, string) {}
func (Discard) Error(context.Context, string)   {}
func (Discard) Info(context.Context, string)    {}
