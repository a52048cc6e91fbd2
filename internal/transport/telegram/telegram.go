// Package telegram adapts gopkg.in/telebot.v4 to the transport interfaces.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "chanpost/pkg/logx"

	"chanpost/internal/transport"
)

type Config struct {
	Token       string
	ChannelID   int64
	MainAdminID int64
	PollTimeout time.Duration
}

// Adapter owns the telebot instance. It is both the Publisher (channel
// sends) and the Notifier (operator DMs), and hands the raw bot to the
// command layer for handler registration.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	runMu   sync.Mutex
	running bool
	stopped chan struct{}
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChannelID == 0 {
		return nil, errors.New("telegram channel_id is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

// Bot exposes the underlying telebot instance for handler registration.
// Register handlers before Start().
func (a *Adapter) Bot() *tele.Bot { return a.bot }

func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.stopped = make(chan struct{})
	stopped := a.stopped
	a.runMu.Unlock()

	go func() {
		<-ctx.Done()
		a.bot.Stop()
	}()
	go func() {
		defer close(stopped)
		a.log.Info("polling started")
		// Start blocks until Stop() is called.
		a.bot.Start()
		a.log.Info("polling stopped")
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	stopped := a.stopped
	a.runMu.Unlock()
	if !wasRunning {
		return nil
	}

	// telebot Stop is expected to be fast; run it async just in case.
	go a.bot.Stop()

	// Grace window: keep shutdown snappy even if getUpdates long-poll is
	// still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	select {
	case <-stopped:
		return nil
	case <-time.After(grace):
		a.log.Warn("telegram stop timed out")
		return nil
	}
}

// Publish re-sends the media to the channel by file id. A file-id send
// creates a fresh message, so the published post carries no forward or
// origin metadata regardless of how the item reached the bot.
func (a *Adapter) Publish(ctx context.Context, m transport.MediaRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sendable, err := toSendable(m)
	if err != nil {
		return err
	}
	_, err = a.bot.Send(tele.ChatID(a.cfg.ChannelID), sendable)
	return err
}

// NotifyOperator DMs the main admin.
func (a *Adapter) NotifyOperator(ctx context.Context, text string) error {
	if a.cfg.MainAdminID == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.bot.Send(tele.ChatID(a.cfg.MainAdminID), text)
	return err
}

func toSendable(m transport.MediaRef) (tele.Sendable, error) {
	file := tele.File{FileID: m.FileID}
	switch m.Kind {
	case transport.MediaPhoto:
		return &tele.Photo{File: file, Caption: m.Caption}, nil
	case transport.MediaVideo:
		return &tele.Video{File: file, Caption: m.Caption}, nil
	case transport.MediaAnimation:
		return &tele.Animation{File: file, Caption: m.Caption}, nil
	case transport.MediaAudio:
		return &tele.Audio{File: file, Caption: m.Caption}, nil
	case transport.MediaVoice:
		return &tele.Voice{File: file, Caption: m.Caption}, nil
	case transport.MediaDocument:
		return &tele.Document{File: file, Caption: m.Caption}, nil
	case transport.MediaVideoNote:
		return &tele.VideoNote{File: file}, nil
	default:
		return nil, fmt.Errorf("unsupported media kind %q", m.Kind)
	}
}

// FromMessage extracts the media reference from an incoming message.
// ok is false for non-media messages.
func FromMessage(m *tele.Message) (transport.MediaRef, bool) {
	if m == nil {
		return transport.MediaRef{}, false
	}
	switch {
	case m.Photo != nil:
		return transport.MediaRef{Kind: transport.MediaPhoto, FileID: m.Photo.FileID, Caption: m.Caption}, true
	case m.Video != nil:
		return transport.MediaRef{Kind: transport.MediaVideo, FileID: m.Video.FileID, Caption: m.Caption}, true
	case m.Animation != nil:
		return transport.MediaRef{Kind: transport.MediaAnimation, FileID: m.Animation.FileID, Caption: m.Caption}, true
	case m.Audio != nil:
		return transport.MediaRef{Kind: transport.MediaAudio, FileID: m.Audio.FileID, Caption: m.Caption}, true
	case m.Voice != nil:
		return transport.MediaRef{Kind: transport.MediaVoice, FileID: m.Voice.FileID, Caption: m.Caption}, true
	case m.Document != nil:
		return transport.MediaRef{Kind: transport.MediaDocument, FileID: m.Document.FileID, Caption: m.Caption}, true
	case m.VideoNote != nil:
		return transport.MediaRef{Kind: transport.MediaVideoNote, FileID: m.VideoNote.FileID}, true
	default:
		return transport.MediaRef{}, false
	}
}
