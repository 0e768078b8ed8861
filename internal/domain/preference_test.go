package domain

import "testing"

func TestEffectivePreferenceDefaults(t *testing.T) {
	pref := EffectivePreference(nil)
	if pref.NotifyBeforeHours != DefaultNotifyBeforeHours {
		t.Fatalf("ожидали срок по умолчанию %d, получили %d", DefaultNotifyBeforeHours, pref.NotifyBeforeHours)
	}
	if !pref.Enabled || !pref.NotifyByEmail || !pref.NotifyInApp {
		t.Fatalf("ожидали включённые каналы по умолчанию: %+v", pref)
	}
}

func TestEffectivePreferenceKeepsExplicit(t *testing.T) {
	pref := EffectivePreference(&NotificationPreference{UserID: 7, NotifyBeforeHours: 48, Enabled: false})
	if pref.NotifyBeforeHours != 48 {
		t.Fatalf("ожидали 48 часов, получили %d", pref.NotifyBeforeHours)
	}
	if pref.Enabled {
		t.Fatalf("явное отключение не должно перетираться дефолтом")
	}
}

func TestEffectivePreferenceClampsOutOfRange(t *testing.T) {
	for _, hours := range []int{0, -5, MaxNotifyBeforeHours + 1} {
		pref := EffectivePreference(&NotificationPreference{NotifyBeforeHours: hours, Enabled: true})
		if pref.NotifyBeforeHours != DefaultNotifyBeforeHours {
			t.Fatalf("срок %d должен приводиться к %d, получили %d", hours, DefaultNotifyBeforeHours, pref.NotifyBeforeHours)
		}
	}
}

func TestFollowIsLive(t *testing.T) {
	cases := []struct {
		follow AnimeFollow
		want   bool
	}{
		{AnimeFollow{WatchStatus: WatchStatusWatching, NotifyEmail: "a@b.c"}, true},
		{AnimeFollow{WatchStatus: WatchStatusWatching, NotifyEmail: ""}, false},
		{AnimeFollow{WatchStatus: WatchStatusDropped, NotifyEmail: "a@b.c"}, false},
		{AnimeFollow{WatchStatus: WatchStatusCompleted, NotifyEmail: "a@b.c"}, false},
	}
	for _, tc := range cases {
		if got := tc.follow.IsLive(); got != tc.want {
			t.Fatalf("IsLive для %q/%q: ожидали %v, получили %v", tc.follow.WatchStatus, tc.follow.NotifyEmail, tc.want, got)
		}
	}
}
