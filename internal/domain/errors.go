package domain

import "errors"

// ErrFollowNotFound возвращается при обращении к несуществующей подписке.
var ErrFollowNotFound = errors.New("подписка не найдена")
