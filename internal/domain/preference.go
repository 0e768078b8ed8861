package domain

// MaxNotifyBeforeHours — верхняя граница срока уведомления (неделя).
const MaxNotifyBeforeHours = 168

// EffectivePreference возвращает действующие настройки пользователя:
// переданные, если они есть, иначе значения по умолчанию.
func EffectivePreference(pref *NotificationPreference) NotificationPreference {
	if pref == nil {
		return NotificationPreference{
			NotifyBeforeHours: DefaultNotifyBeforeHours,
			Enabled:           true,
			NotifyByEmail:     true,
			NotifyInApp:       true,
		}
	}
	effective := *pref
	if effective.NotifyBeforeHours < 1 || effective.NotifyBeforeHours > MaxNotifyBeforeHours {
		effective.NotifyBeforeHours = DefaultNotifyBeforeHours
	}
	return effective
}
