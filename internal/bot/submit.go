package bot

import (
	"context"
	"errors"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "chanpost/pkg/logx"

	"chanpost/internal/schedule"
	"chanpost/internal/transport/telegram"
)

func (a *App) registerMediaHandlers(b *tele.Bot) {
	for _, ev := range []string{
		tele.OnPhoto, tele.OnVideo, tele.OnAnimation,
		tele.OnAudio, tele.OnVoice, tele.OnDocument, tele.OnVideoNote,
	} {
		b.Handle(ev, a.adminOnly(a.handleSubmission))
	}
	b.Handle(tele.OnText, a.adminOnly(func(c tele.Context) error {
		return c.Send("Send me a media message (photo, video, GIF, audio, voice or document) to post it to the channel.")
	}))
}

func (a *App) handleSubmission(c tele.Context) error {
	ref, ok := telegram.FromMessage(c.Message())
	if !ok {
		return c.Send("I can't post that; send a media message.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	dec, err := a.engine.Submit(ctx, ref, c.Sender().ID, time.Now())
	if err != nil {
		var perr *schedule.PersistError
		if errors.As(err, &perr) {
			a.log.Error("submission not accepted (persist failed)",
				logx.Int64("by", c.Sender().ID), logx.Err(err))
			return c.Send("Could not save your post; it was NOT scheduled. Please try again.")
		}
		a.log.Error("submission failed", logx.Int64("by", c.Sender().ID), logx.Err(err))
		return c.Send("Something went wrong; the post was not scheduled.")
	}

	if dec.Kind == schedule.PublishNow {
		return c.Send("Queued for immediate publication.")
	}
	return c.Send("Scheduled for " + dec.At.In(a.loc).Format("2006-01-02 15:04 MST") + ".")
}
