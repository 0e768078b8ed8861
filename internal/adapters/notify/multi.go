package notify

import (
	"context"
	"errors"

	"anilist-notifier/internal/domain"
)

// MultiNotifier пробует каналы доставки по порядку: уведомление считается
// доставленным, если его принял хотя бы один канал. Каналы, неприменимые к
// получателю (нет адреса, не привязан чат), пропускаются.
type MultiNotifier struct {
	channels []domain.Notifier
}

var _ domain.Notifier = (*MultiNotifier)(nil)

// NewMulti собирает составной канал доставки.
func NewMulti(channels ...domain.Notifier) *MultiNotifier {
	return &MultiNotifier{channels: channels}
}

// Send перебирает каналы до первой успешной доставки.
func (n *MultiNotifier) Send(ctx context.Context, in domain.SendInput) (bool, error) {
	if len(n.channels) == 0 {
		return false, errors.New("нет настроенных каналов доставки")
	}

	var lastErr error
	for _, channel := range n.channels {
		ok, err := channel.Send(ctx, in)
		if ok {
			return true, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	return false, lastErr
}
