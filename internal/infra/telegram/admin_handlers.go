package telegram

import (
	"context"
	"errors"
	"fmt"

	"khatam_bot/internal/app"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// RegisterAdminHandlers registers handlers for admin commands.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, adminService *app.AdminService, baseLogger *logrus.Entry) {
	b.Handle("/reset_board", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/reset_board",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if !adminService.IsAdmin(c.Sender().ID) {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Error: you are not allowed to run this command.")
		}

		snap, err := adminService.ResetBoard(ctx, c.Sender().ID)
		if err != nil {
			logWithError := handlerLogger.WithError(err)
			if errors.Is(err, app.ErrAdminNotAuthorized) {
				logWithError.Warn("Admin not authorized (service level)")
				return c.Send("Error: you are not allowed to run this command.")
			}
			logWithError.Error("Failed to reset board")
			return c.Send(fmt.Sprintf("An error occurred while resetting the board: %s", err.Error()))
		}

		handlerLogger.WithField("period", snap.Period).Info("Board reset by admin")
		return c.Send("Board reset. Khatam counter is back to 0.\n\n" + FormatStatus(snap))
	})
}
