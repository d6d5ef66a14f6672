// internal/infra/telegram/announcer.go
package telegram

import (
	"fmt"

	"khatam_bot/internal/app"

	"github.com/sirupsen/logrus"
)

const completionMessage = "Mubarak on Completing a Khatam"

// Announcer posts rollover and period reset outcomes to a shared chat.
type Announcer struct {
	sender Sender
	chatID int64
	logger *logrus.Entry
}

func NewAnnouncer(sender Sender, chatID int64, logger *logrus.Entry) *Announcer {
	return &Announcer{sender: sender, chatID: chatID, logger: logger.WithField("component", "announcer")}
}

// Announce is registered as a rollover outcome hook.
func (a *Announcer) Announce(snap app.Snapshot) {
	text := AnnouncementText(snap)
	if text == "" {
		return
	}
	if err := a.sender.SendMessage(a.chatID, text, nil); err != nil {
		a.logger.WithError(err).WithField("chat_id", a.chatID).Error("Failed to send announcement")
		return
	}
	a.logger.WithFields(logrus.Fields{"chat_id": a.chatID, "outcome": snap.Outcome}).Info("Announcement sent")
}

// AnnouncementText returns the message for outcomes worth announcing, or "".
func AnnouncementText(snap app.Snapshot) string {
	switch snap.Outcome {
	case app.OutcomeCompletionRollover:
		return fmt.Sprintf("🎉 %s! Khatam #%d of %s is complete. A new one has started.",
			completionMessage, snap.Metadata.CycleCount, snap.Period)
	case app.OutcomePeriodReset:
		return fmt.Sprintf("🌙 %s has begun. The board has been cleared for a new Khatam.", snap.Period)
	default:
		return ""
	}
}
