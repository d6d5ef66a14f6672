package telegram

import (
	"errors"
	"io"
	"sync"
	"testing"

	"khatam_bot/internal/app"
	"khatam_bot/internal/domain/khatam"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v3"
)

type sentMessage struct {
	chatID int64
	text   string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) SendMessage(chatID int64, text string, _ *telebot.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func testEntry() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestAnnouncer_AnnouncesRolloverAndReset(t *testing.T) {
	sender := &fakeSender{}
	a := NewAnnouncer(sender, -100123, testEntry())

	a.Announce(app.Snapshot{
		Period:   "Ramadan",
		Metadata: khatam.Metadata{CycleCount: 3},
		Outcome:  app.OutcomeCompletionRollover,
	})
	a.Announce(app.Snapshot{Period: "Shawwal", Outcome: app.OutcomePeriodReset})
	a.Announce(app.Snapshot{Period: "Shawwal", Outcome: app.OutcomeNoOp})

	require.Len(t, sender.sent, 2)
	assert.Equal(t, int64(-100123), sender.sent[0].chatID)
	assert.Contains(t, sender.sent[0].text, "Mubarak on Completing a Khatam")
	assert.Contains(t, sender.sent[0].text, "Khatam #3 of Ramadan")
	assert.Contains(t, sender.sent[1].text, "Shawwal has begun")
}

func TestAnnouncer_SendFailureIsSwallowed(t *testing.T) {
	sender := &fakeSender{err: errors.New("telegram down")}
	a := NewAnnouncer(sender, 1, testEntry())

	assert.NotPanics(t, func() {
		a.Announce(app.Snapshot{Period: "Rajab", Outcome: app.OutcomePeriodReset})
	})
	assert.Empty(t, sender.sent)
}
