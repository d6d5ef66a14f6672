// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"khatam_bot/internal/app"
	"khatam_bot/internal/domain/khatam"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const (
	claimUsage       = "Usage: /claim <Juz numbers> <your name>\nExample: /claim 1 2 5-7 Ali"
	unavailableReply = "⚠️ Could not reach the tracker right now. Please try again later."
)

// Board is what the chat surface needs from the rollover service.
type Board interface {
	Reconcile(ctx context.Context, trigger string) (*app.Snapshot, error)
	Claim(ctx context.Context, indices []int, claimantName string) (*app.ClaimResult, error)
}

// HistoryBrowser serves the archive view.
type HistoryBrowser interface {
	Browse(ctx context.Context) ([]app.PeriodGroup, error)
}

type commandHandlers struct {
	board   Board
	history HistoryBrowser
	limiter *senderLimiter
	logger  *logrus.Entry
}

func RegisterBotCommands(
	ctx context.Context,
	b *telebot.Bot,
	board Board,
	history HistoryBrowser,
	claimRatePerMinute int,
	baseLogger *logrus.Entry,
) {
	h := &commandHandlers{
		board:   board,
		history: history,
		limiter: newSenderLimiter(claimRatePerMinute),
		logger:  baseLogger.WithField("handler_group", "participant"),
	}

	b.Handle("/start", func(c telebot.Context) error {
		h.logger.WithField("sender_id", c.Sender().ID).Info("Processing /start command")
		return c.Send(fmt.Sprintf("Assalamu alaikum, %s! Pick the Juz you will read for this month's Khatam.\n\n%s",
			c.Sender().FirstName, helpText()))
	})

	b.Handle("/help", func(c telebot.Context) error {
		return c.Send(helpText())
	})

	b.Handle("/status", func(c telebot.Context) error {
		logCtx := h.logger.WithFields(logrus.Fields{"command": "/status", "sender_id": c.Sender().ID})
		logCtx.Info("Processing /status command")
		return c.Send(h.statusReply(ctx))
	})

	b.Handle("/claim", func(c telebot.Context) error {
		logCtx := h.logger.WithFields(logrus.Fields{"command": "/claim", "sender_id": c.Sender().ID})
		logCtx.WithField("args", c.Args()).Info("Processing /claim command")
		return c.Send(h.claimReply(ctx, c.Sender().ID, c.Args()))
	})

	b.Handle("/history", func(c telebot.Context) error {
		logCtx := h.logger.WithFields(logrus.Fields{"command": "/history", "sender_id": c.Sender().ID})
		logCtx.Info("Processing /history command")
		return c.Send(h.historyReply(ctx))
	})
}

func helpText() string {
	var help strings.Builder
	help.WriteString("Available commands:\n\n")
	help.WriteString("/status - Show this month's board and progress.\n")
	help.WriteString("/claim <Juz numbers> <name> - Claim one or more Juz, e.g. /claim 3 4 Fatima\n")
	help.WriteString("/history - Browse completed Khatams.\n")
	help.WriteString("/help - Show this message.")
	return help.String()
}

func (h *commandHandlers) statusReply(ctx context.Context) string {
	snap, err := h.board.Reconcile(ctx, "status")
	if err != nil {
		h.logger.WithError(err).Warn("Status refresh failed")
		if snap == nil {
			return unavailableReply
		}
		return FormatStatus(snap) + "\n\n⚠️ Showing the last known board, the tracker is unreachable."
	}
	return FormatStatus(snap)
}

func (h *commandHandlers) claimReply(ctx context.Context, senderID int64, args []string) string {
	if !h.limiter.Allow(senderID) {
		return "Too many claims, please wait a minute and try again."
	}

	indices, name, err := ParseClaimArgs(args)
	if err != nil {
		return fmt.Sprintf("Please select a Juz and enter your name (%v).\n%s", err, claimUsage)
	}

	res, err := h.board.Claim(ctx, indices, name)

	var verr *app.ValidationError
	var cerr *app.ConflictError
	switch {
	case errors.As(err, &verr):
		return fmt.Sprintf("Please select a Juz and enter your name: %s.\n%s", verr.Reason, claimUsage)

	case errors.Is(err, khatam.ErrStoreUnavailable):
		if res == nil || len(res.Claimed) == 0 {
			return unavailableReply
		}
		reply := fmt.Sprintf("✅ Juz %s claimed for %s, but the board could not be refreshed. Use /status later.",
			joinInts(res.Claimed), strings.TrimSpace(name))
		if len(res.Taken) > 0 {
			reply += fmt.Sprintf("\n❌ Already taken: Juz %s.", joinInts(res.Taken))
		}
		return reply

	case errors.As(err, &cerr):
		var reply strings.Builder
		fmt.Fprintf(&reply, "❌ Already taken: Juz %s.", joinInts(cerr.Taken))
		if res == nil {
			return reply.String()
		}
		if len(res.Claimed) > 0 {
			fmt.Fprintf(&reply, " Claimed for you: Juz %s.", joinInts(res.Claimed))
		}
		reply.WriteString(" Please pick another Juz and try again.")
		if res.Snapshot != nil {
			reply.WriteString("\n\n" + FormatStatus(res.Snapshot))
		}
		return reply.String()

	case err != nil:
		h.logger.WithError(err).Error("Unexpected claim failure")
		return "❌ Error: " + err.Error()
	}

	if res.CompletedKhatam {
		return fmt.Sprintf("🎉 %s! Your claim finished Khatam #%d.\n\n%s",
			completionMessage, res.Snapshot.Metadata.CycleCount, FormatStatus(res.Snapshot))
	}
	return fmt.Sprintf("✅ Juz %s claimed for %s.\n\n%s", joinInts(res.Claimed), strings.TrimSpace(name), FormatStatus(res.Snapshot))
}

func (h *commandHandlers) historyReply(ctx context.Context) string {
	groups, err := h.history.Browse(ctx)
	if err != nil {
		h.logger.WithError(err).Warn("History lookup failed")
		return unavailableReply
	}
	return FormatHistory(groups)
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ", ")
}
