package bot

import (
	"context"

	"remindbot/internal/dispatch"
	kit "remindbot/internal/transport"
)

// Sender delivers reminders and digests through the chat adapter. It
// satisfies dispatch.Sender and digest.Sender.
type Sender struct {
	ad kit.Adapter
}

func NewSender(ad kit.Adapter) *Sender { return &Sender{ad: ad} }

// Deliver sends the reminder text with its reschedule buttons.
func (s *Sender) Deliver(ctx context.Context, d dispatch.Delivery) error {
	opt := &kit.SendOptions{DisablePreview: true}
	if len(d.Actions) > 0 {
		opt.ReplyMarkupAdapter = rescheduleKeyboard(d.ReminderID, d.Actions)
	}
	_, err := s.ad.SendText(ctx, kit.ChatTarget{ChatID: d.ChatID}, d.Text, opt)
	return err
}

func (s *Sender) SendPlain(ctx context.Context, chatID int64, text string) error {
	_, err := s.ad.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}
