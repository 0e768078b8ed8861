package notify

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"anilist-notifier/internal/domain"
	"anilist-notifier/internal/infra/metrics"
)

// TelegramNotifier доставляет уведомления в привязанный Telegram-чат
// пользователя. Работает только для получателей с заполненным tg_chat_id.
type TelegramNotifier struct {
	bot *tgbotapi.BotAPI
}

var _ domain.Notifier = (*TelegramNotifier)(nil)

// NewTelegram создаёт Telegram-канал доставки.
func NewTelegram(bot *tgbotapi.BotAPI) *TelegramNotifier {
	return &TelegramNotifier{bot: bot}
}

// Send отправляет сообщение в чат пользователя.
func (n *TelegramNotifier) Send(ctx context.Context, in domain.SendInput) (bool, error) {
	if in.Recipient.TGChatID == 0 {
		return false, fmt.Errorf("у пользователя %d не привязан Telegram", in.Recipient.UserID)
	}

	text := fmt.Sprintf("📺 %s\nEpisode %d airs in about %d hour(s) — %s\nhttps://anilist.co/anime/%d",
		in.Title, in.EpisodeNumber, in.HoursUntilAiring, in.AiringAt.UTC().Format("Jan 2, 15:04 MST"), in.AnilistID)
	msg := tgbotapi.NewMessage(in.Recipient.TGChatID, text)
	msg.DisableWebPagePreview = in.CoverImageURL == ""

	start := time.Now()
	_, err := n.bot.Send(msg)
	metrics.ObserveNetworkRequest("telegram", "send_message", "bot_api", start, err)
	if err != nil {
		return false, fmt.Errorf("отправка в Telegram: %w", err)
	}
	return true, nil
}
