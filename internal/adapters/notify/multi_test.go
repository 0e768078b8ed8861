package notify

import (
	"context"
	"errors"
	"testing"

	"anilist-notifier/internal/domain"
)

type fakeChannel struct {
	ok     bool
	err    error
	called bool
}

func (f *fakeChannel) Send(_ context.Context, _ domain.SendInput) (bool, error) {
	f.called = true
	return f.ok, f.err
}

func TestMultiFirstChannelWins(t *testing.T) {
	first := &fakeChannel{ok: true}
	second := &fakeChannel{ok: true}

	ok, err := NewMulti(first, second).Send(context.Background(), domain.SendInput{})
	if err != nil || !ok {
		t.Fatalf("ожидали успешную доставку: ok=%v err=%v", ok, err)
	}
	if second.called {
		t.Fatalf("после успеха первого канала второй не должен вызываться")
	}
}

func TestMultiFallsBackOnFailure(t *testing.T) {
	first := &fakeChannel{err: errors.New("resend: 429")}
	second := &fakeChannel{ok: true}

	ok, err := NewMulti(first, second).Send(context.Background(), domain.SendInput{})
	if err != nil || !ok {
		t.Fatalf("второй канал должен спасти доставку: ok=%v err=%v", ok, err)
	}
}

func TestMultiReturnsLastError(t *testing.T) {
	first := &fakeChannel{err: errors.New("resend: 429")}
	lastErr := errors.New("telegram: чат не привязан")
	second := &fakeChannel{err: lastErr}

	ok, err := NewMulti(first, second).Send(context.Background(), domain.SendInput{})
	if ok {
		t.Fatalf("все каналы отказали, доставки быть не должно")
	}
	if !errors.Is(err, lastErr) {
		t.Fatalf("ожидали последнюю ошибку, получили %v", err)
	}
}

func TestMultiNoChannels(t *testing.T) {
	if ok, err := NewMulti().Send(context.Background(), domain.SendInput{}); ok || err == nil {
		t.Fatalf("пустой набор каналов должен давать ошибку: ok=%v err=%v", ok, err)
	}
}
