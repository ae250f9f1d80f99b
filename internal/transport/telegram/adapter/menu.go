package adapter

import (
	"context"
	"hash/fnv"

	tele "gopkg.in/telebot.v4"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const (
	maxMenuCommands    = 100
	maxMenuDescription = 256
)

// menuCommands converts the entries Telegram accepts and hashes them.
func menuCommands(cmds []kit.BotCommand) ([]tele.Command, uint64) {
	h := fnv.New64a()
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if rs := []rune(d); len(rs) > maxMenuDescription {
			d = string(rs[:maxMenuDescription])
		}
		out = append(out, tele.Command{Text: c.Command, Description: d})
		_, _ = h.Write([]byte(c.Command))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(d))
		_, _ = h.Write([]byte{0})
		if len(out) >= maxMenuCommands {
			break
		}
	}
	return out, h.Sum64()
}

// UpdateMenuCommands publishes the "/" menu for one chat, or for everyone
// when chatID is 0. It only calls Telegram when the list changed.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, chatID int64, cmds []kit.BotCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	list, sum := menuCommands(cmds)

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if prev, ok := a.menuHash[chatID]; ok && prev == sum {
		return nil
	}

	scope := tele.CommandScope{Type: tele.CommandScopeDefault}
	if chatID != 0 {
		scope = tele.CommandScope{Type: tele.CommandScopeChat, ChatID: chatID}
	}
	if err := a.bot.SetCommands(list, scope); err != nil {
		return err
	}
	a.menuHash[chatID] = sum
	a.log.Info("menu commands updated", logx.Int64("chat_id", chatID), logx.Int("count", len(list)))
	return nil
}
