package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "chanpost/pkg/logx"

	"chanpost/internal/auth"
	"chanpost/internal/schedule"
)

const handlerTimeout = 15 * time.Second

const helpText = `I schedule media posts for the channel.

Send me a photo, video, GIF, audio or document and I will either post it
right away or put it into the next free 30-minute slot of the posting
window.

Commands:
/last_post - when the last item was scheduled
/pending - queued posts (with cancel buttons)
/help - this message

Main admin only:
/add_admin <id> [name] - authorize an operator
/remove_admin <id> - revoke an operator
/list_admins - show authorized operators
/reset_schedule - forget the last scheduled time`

func (a *App) registerHandlers() {
	b := a.adapter.Bot()

	// Everything below is DM-only and admin-only except /start and /help.
	b.Handle("/start", a.public(a.cmdStart))
	b.Handle("/help", a.public(a.cmdHelp))

	b.Handle("/last_post", a.adminOnly(a.cmdLastPost))
	b.Handle("/pending", a.adminOnly(a.cmdPending))

	b.Handle("/add_admin", a.mainAdminOnly(a.cmdAddAdmin))
	b.Handle("/remove_admin", a.mainAdminOnly(a.cmdRemoveAdmin))
	b.Handle("/list_admins", a.mainAdminOnly(a.cmdListAdmins))
	b.Handle("/reset_schedule", a.mainAdminOnly(a.cmdResetSchedule))

	b.Handle(&btnCancel, a.adminOnly(a.cbCancel))

	a.registerMediaHandlers(b)
}

var btnCancel = tele.Btn{Unique: "qcancel"}

// public gates a handler to private chats only.
func (a *App) public(h tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if c.Chat() == nil || c.Chat().Type != tele.ChatPrivate {
			return nil
		}
		return h(c)
	}
}

func (a *App) adminOnly(h tele.HandlerFunc) tele.HandlerFunc {
	return a.public(func(c tele.Context) error {
		if c.Sender() == nil || !a.admins.IsAdmin(c.Sender().ID) {
			return c.Send("This bot only accepts posts from channel admins.")
		}
		return h(c)
	})
}

func (a *App) mainAdminOnly(h tele.HandlerFunc) tele.HandlerFunc {
	return a.public(func(c tele.Context) error {
		if c.Sender() == nil || !a.admins.IsMainAdmin(c.Sender().ID) {
			return c.Send("Only the main admin can do that.")
		}
		return h(c)
	})
}

func (a *App) cmdStart(c tele.Context) error {
	if c.Sender() != nil && a.admins.IsAdmin(c.Sender().ID) {
		return c.Send("Hello! Send me media and I will schedule it for the channel. /help for details.")
	}
	return c.Send("This bot only accepts posts from channel admins.")
}

func (a *App) cmdHelp(c tele.Context) error {
	return c.Send(helpText)
}

func (a *App) cmdLastPost(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	at, ok, err := a.engine.LastScheduled(ctx)
	if err != nil {
		return c.Send("Failed to read the schedule, sorry.")
	}
	if !ok {
		return c.Send("Nothing has been scheduled yet.")
	}
	return c.Send("Last item scheduled for: " + at.In(a.loc).Format("2006-01-02 15:04 MST"))
}

func (a *App) cmdPending(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	items, err := a.engine.Pending(ctx)
	if err != nil {
		return c.Send("Failed to read the queue, sorry.")
	}
	if len(items) == 0 {
		return c.Send("The queue is empty.")
	}

	markup := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(items))
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d queued post(s):\n", len(items))
	for _, it := range items {
		fmt.Fprintf(&sb, "#%d  %s  %s",
			it.ID, it.ScheduledAt.In(a.loc).Format("2006-01-02 15:04"), it.Content.Kind)
		if it.Attempts > 0 {
			fmt.Fprintf(&sb, "  (%d failed attempts)", it.Attempts)
		}
		sb.WriteByte('\n')
		rows = append(rows, markup.Row(markup.Data(
			fmt.Sprintf("Cancel #%d", it.ID), btnCancel.Unique, strconv.FormatInt(it.ID, 10))))
	}
	markup.Inline(rows...)
	return c.Send(sb.String(), markup)
}

func (a *App) cbCancel(c tele.Context) error {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Data()), 10, 64)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: "Bad item id."})
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	switch err := a.engine.Cancel(ctx, id); {
	case errors.Is(err, schedule.ErrNotFound):
		return c.Respond(&tele.CallbackResponse{Text: "Already gone."})
	case err != nil:
		a.log.Error("cancel failed", logx.Int64("item", id), logx.Err(err))
		return c.Respond(&tele.CallbackResponse{Text: "Cancel failed."})
	}
	a.log.Info("item cancelled", logx.Int64("item", id), logx.Int64("by", c.Sender().ID))
	return c.Respond(&tele.CallbackResponse{Text: fmt.Sprintf("Post #%d cancelled.", id)})
}

func (a *App) cmdAddAdmin(c tele.Context) error {
	args := strings.Fields(c.Message().Payload)
	if len(args) == 0 {
		return c.Send("Usage: /add_admin <user id> [name]")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Send("Usage: /add_admin <user id> [name]")
	}
	name := ""
	if len(args) > 1 {
		name = strings.Join(args[1:], " ")
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if err := a.admins.Add(ctx, id, name); err != nil {
		a.log.Error("add admin failed", logx.Int64("id", id), logx.Err(err))
		return c.Send("Failed to add admin.")
	}
	return c.Send(fmt.Sprintf("Admin %d added.", id))
}

func (a *App) cmdRemoveAdmin(c tele.Context) error {
	arg := strings.TrimSpace(c.Message().Payload)
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return c.Send("Usage: /remove_admin <user id>")
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	switch err := a.admins.Remove(ctx, id); {
	case errors.Is(err, auth.ErrMainAdmin):
		return c.Send("The main admin cannot be removed.")
	case err != nil:
		a.log.Error("remove admin failed", logx.Int64("id", id), logx.Err(err))
		return c.Send("Failed to remove admin.")
	}
	return c.Send(fmt.Sprintf("Admin %d removed.", id))
}

func (a *App) cmdListAdmins(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	admins, err := a.admins.List(ctx)
	if err != nil {
		return c.Send("Failed to list admins.")
	}
	var sb strings.Builder
	sb.WriteString("Authorized admins:\n")
	for _, ad := range admins {
		fmt.Fprintf(&sb, "- %d", ad.ID)
		if ad.Username != "" {
			fmt.Fprintf(&sb, " (%s)", ad.Username)
		}
		sb.WriteByte('\n')
	}
	if len(admins) == 0 {
		sb.WriteString("(none besides the main admin)\n")
	}
	return c.Send(sb.String())
}

func (a *App) cmdResetSchedule(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if err := a.engine.ResetLast(ctx); err != nil {
		a.log.Error("schedule reset failed", logx.Err(err))
		return c.Send("Failed to reset the schedule.")
	}
	a.log.Info("schedule reset", logx.Int64("by", c.Sender().ID))
	return c.Send("Schedule reset: the next submission is treated as the first one.")
}
