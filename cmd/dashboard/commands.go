package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"botdash/internal/app"
	"botdash/internal/models"
	"botdash/internal/session"
	"botdash/pkg/utils"
)

const commandHelp = `commands:
  login <user> <password>  войти и подключить стрим
  logout                   выйти во всех вкладках
  unlock                   снять блокировку по бездействию
  mode <local|paper|live>  сменить режим окружения
  hide | show              видимость вкладки
  status                   состояние сессии и стрима
  quit                     выход
любая другая строка - пользовательский ввод`

// execute выполняет одну команду stdin; возвращает true для выхода
func execute(ctx context.Context, d *app.Dashboard, line string, out io.Writer) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch strings.ToLower(fields[0]) {
	case "login":
		if len(fields) != 3 {
			fmt.Fprintln(out, "usage: login <user> <password>")
			return false
		}
		loginCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := d.Login(loginCtx, fields[1], fields[2]); err != nil {
			fmt.Fprintf(out, "login failed: %v\n", err)
			return false
		}
		fmt.Fprintln(out, "logged in")

	case "logout":
		d.Logout()
		fmt.Fprintln(out, "logged out")

	case "unlock":
		if d.Unlock() {
			fmt.Fprintln(out, "unlocked")
		} else {
			fmt.Fprintln(out, "nothing to unlock")
		}

	case "mode":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: mode <local|paper|live>")
			return false
		}
		mode, err := models.ParseMode(fields[1])
		if err != nil {
			fmt.Fprintln(out, err)
			return false
		}
		d.SetMode(mode)

	case "hide":
		d.SetVisible(false)

	case "show":
		d.SetVisible(true)

	case "status":
		st := d.Store().Snapshot()
		fmt.Fprintf(out, "authenticated=%t locked=%t mode=%s effective=%s stream=%s last_event_id=%s\n",
			d.Store().IsAuthenticated(), d.Store().IsLocked(),
			d.Mode(), d.EffectiveMode(), d.Stream().State(), d.Stream().LastEventID())
		if !st.ExpiresAt.IsZero() {
			fmt.Fprintf(out, "expires_at=%s (in %s)\n",
				st.ExpiresAt.Format(time.RFC3339), utils.FormatDuration(time.Until(st.ExpiresAt)))
		}

	case "help", "?":
		fmt.Fprintln(out, commandHelp)

	case "quit", "exit":
		return true

	default:
		d.Activity(session.ActivityKeyDown)
	}
	return false
}
