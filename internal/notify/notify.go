// Package notify delivers the out-of-band messages: request cards for the
// bot operators, approval and rejection notices for requesters and
// announcements into tenant groups. Every message goes through the sender
// queue and failures are only logged.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	coreconfig "github.com/Fechomap/cargas-gas/core/config"
	"github.com/Fechomap/cargas-gas/core/logger"
	"github.com/Fechomap/cargas-gas/core/telegram/format"
	"github.com/Fechomap/cargas-gas/internal/domain"
	"github.com/Fechomap/cargas-gas/internal/onboarding"

	tele "gopkg.in/telebot.v4"
)

const defaultFollowUp = 3 * time.Second

// Sender sends one message. *tele.Bot implements it.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Queue schedules sends. *sender.Dispatcher implements it.
type Queue interface {
	Enqueue(ctx context.Context, action, endpoint string, run func() error) error
	EnqueueAfter(ctx context.Context, delay time.Duration, action, endpoint string, run func() error)
}

// Notifier implements onboarding.Notifier and fuel.Announcer.
type Notifier struct {
	bot         Sender
	queue       Queue
	admins      []int64
	followUp    time.Duration
	botUsername string
}

// New builds a Notifier. Without a queue messages are sent inline.
func New(bot Sender, queue Queue, cfg *coreconfig.Config, botUsername string) *Notifier {
	n := &Notifier{bot: bot, queue: queue, botUsername: botUsername, followUp: defaultFollowUp}
	if cfg != nil {
		n.admins = append([]int64(nil), cfg.Telegram.AdminIDs...)
		if cfg.Sender.FollowUpDelayS > 0 {
			n.followUp = time.Duration(cfg.Sender.FollowUpDelayS) * time.Second
		}
	}
	return n
}

var _ onboarding.Notifier = (*Notifier)(nil)

// NotifyAdmins sends the request card with approve and reject buttons to
// every operator.
func (n *Notifier) NotifyAdmins(ctx context.Context, req domain.RegistrationRequest) {
	text, markup := onboarding.Card(req)
	text = "🆕 Nueva solicitud de registro\n\n" + text
	for _, id := range n.admins {
		n.send(ctx, "notify.admins", id, text, markup)
	}
}

// NotifyApproval sends the token to the requester, then the linking
// instructions as a delayed second message.
func (n *Notifier) NotifyApproval(ctx context.Context, req domain.RegistrationRequest, token string) {
	n.send(ctx, "notify.approval", req.RequesterID, fmt.Sprintf(
		"✅ Tu solicitud #%d para *%s* fue aprobada.\n\nTu token de vinculación es: `%s`\nEs de un solo uso.",
		req.ID, format.MD(req.CompanyName), token), nil)

	steps := fmt.Sprintf("Para terminar:\n1. Agrega %s al grupo de tu empresa.\n2. Dentro del grupo escribe:\n`/vincular %s`",
		n.botMention(), token)
	to := recipient(req.RequesterID)
	n.later(ctx, "notify.approval.steps", func() error {
		_, err := n.bot.Send(to, steps, &tele.SendOptions{ParseMode: tele.ModeMarkdown})
		return err
	})
}

// NotifyRejection tells the requester the request was declined.
func (n *Notifier) NotifyRejection(ctx context.Context, req domain.RegistrationRequest, reason string) {
	text := fmt.Sprintf("❌ Tu solicitud #%d para *%s* fue rechazada.", req.ID, format.MD(req.CompanyName))
	if reason != "" {
		text += "\nMotivo: " + format.MD(reason)
	}
	text += "\n\nPuedes enviar una nueva solicitud con /registro."
	n.send(ctx, "notify.rejection", req.RequesterID, text, nil)
}

// Announce posts text into a tenant chat.
func (n *Notifier) Announce(ctx context.Context, chatID int64, text string) {
	n.send(ctx, "notify.announce", chatID, text, nil)
}

func (n *Notifier) send(ctx context.Context, action string, chatID int64, text string, markup *tele.ReplyMarkup) {
	to := recipient(chatID)
	run := func() error {
		_, err := n.bot.Send(to, text, &tele.SendOptions{ParseMode: tele.ModeMarkdown, ReplyMarkup: markup})
		return err
	}
	if n.queue == nil {
		n.report(ctx, action, chatID, run())
		return
	}
	if err := n.queue.Enqueue(ctx, action, "sendMessage", run); err != nil {
		n.report(ctx, action, chatID, err)
	}
}

func (n *Notifier) later(ctx context.Context, action string, run func() error) {
	ctx = context.WithoutCancel(ctx)
	if n.queue == nil {
		n.report(ctx, action, 0, run())
		return
	}
	n.queue.EnqueueAfter(ctx, n.followUp, action, "sendMessage", run)
}

func (n *Notifier) report(ctx context.Context, action string, chatID int64, err error) {
	if err == nil {
		return
	}
	logger.LogEvent(ctx, logger.SVCNotify, slog.LevelWarn, "notify.failed",
		slog.String("status", "fail"),
		slog.String("action", action),
		slog.Int64("chat_id", chatID),
		slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
	)
}

func (n *Notifier) botMention() string {
	if n.botUsername == "" {
		return "el bot"
	}
	return "@" + format.MD(n.botUsername)
}

type chatRecipient string

func (r chatRecipient) Recipient() string { return string(r) }

func recipient(id int64) tele.Recipient {
	return chatRecipient(strconv.FormatInt(id, 10))
}
