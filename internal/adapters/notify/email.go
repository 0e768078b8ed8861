package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/resend/resend-go/v3"

	"anilist-notifier/internal/domain"
	"anilist-notifier/internal/infra/metrics"
)

// EmailNotifier отправляет уведомления о выходе эпизодов по почте через Resend.
type EmailNotifier struct {
	client *resend.Client
	from   string
}

var _ domain.Notifier = (*EmailNotifier)(nil)

// NewEmail создаёт почтовый канал доставки.
func NewEmail(apiKey, from string) *EmailNotifier {
	return &EmailNotifier{client: resend.NewClient(apiKey), from: from}
}

// Send отправляет письмо о скором выходе эпизода. Возвращает false с ошибкой,
// если доставка не удалась; повторная отправка того же уведомления безопасна.
func (n *EmailNotifier) Send(ctx context.Context, in domain.SendInput) (bool, error) {
	if in.Recipient.Email == "" {
		return false, fmt.Errorf("у пользователя %d нет адреса почты", in.Recipient.UserID)
	}

	subject := fmt.Sprintf("%s — Episode %d airs soon", in.Title, in.EpisodeNumber)
	params := &resend.SendEmailRequest{
		From:    n.from,
		To:      []string{in.Recipient.Email},
		Subject: subject,
		Html:    renderEmailBody(in),
		Headers: map[string]string{
			// Ключ идемпотентности на случай повторной доставки одного
			// и того же уведомления.
			"Idempotency-Key": uuid.NewString(),
		},
	}

	start := time.Now()
	_, err := n.client.Emails.Send(params)
	metrics.ObserveNetworkRequest("resend", "send_email", "emails", start, err)
	if err != nil {
		return false, fmt.Errorf("отправка письма: %w", err)
	}
	return true, nil
}

func renderEmailBody(in domain.SendInput) string {
	var b strings.Builder
	b.WriteString("<h2>")
	b.WriteString(in.Title)
	b.WriteString("</h2>")
	if in.CoverImageURL != "" {
		fmt.Fprintf(&b, `<img src=%q alt="cover" width="180"/>`, in.CoverImageURL)
	}
	greeting := in.Recipient.Username
	if greeting == "" {
		greeting = "there"
	}
	fmt.Fprintf(&b, "<p>Hi %s,</p>", greeting)
	if in.HoursUntilAiring > 0 {
		fmt.Fprintf(&b, "<p>Episode %d airs in about %d hour(s), at %s.</p>",
			in.EpisodeNumber, in.HoursUntilAiring, in.AiringAt.UTC().Format("Jan 2, 15:04 MST"))
	} else {
		fmt.Fprintf(&b, "<p>Episode %d is airing now (%s).</p>",
			in.EpisodeNumber, in.AiringAt.UTC().Format("Jan 2, 15:04 MST"))
	}
	fmt.Fprintf(&b, `<p><a href="https://anilist.co/anime/%d">Open on AniList</a></p>`, in.AnilistID)
	return b.String()
}
