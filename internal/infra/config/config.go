package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"UTC"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	AMQPURL string `envconfig:"AMQP_URL"`

	AniList struct {
		BaseURL string        `envconfig:"ANILIST_BASE_URL" default:"https://graphql.anilist.co"`
		Timeout time.Duration `envconfig:"ANILIST_TIMEOUT" default:"15s"`
		InfoTTL time.Duration `envconfig:"ANILIST_INFO_TTL" default:"30m"`
	} `envconfig:""`

	Mail struct {
		ResendAPIKey string `envconfig:"RESEND_API_KEY"`
		From         string `envconfig:"MAIL_FROM" default:"AniList Notifier <notify@anilist-notifier.app>"`
	} `envconfig:""`

	Telegram struct {
		Token string `envconfig:"TG_BOT_TOKEN"`
	} `envconfig:""`

	Jobs struct {
		ScheduleEvery   time.Duration `envconfig:"SCHEDULE_EVERY" default:"6h"`
		SendEvery       time.Duration `envconfig:"SEND_EVERY" default:"15m"`
		ScheduleLimit   int           `envconfig:"SCHEDULE_ANIME_LIMIT" default:"100"`
		SendLimit       int           `envconfig:"SEND_BATCH_LIMIT" default:"100"`
		ScheduleWorkers int           `envconfig:"SCHEDULE_WORKERS" default:"4"`
		RetentionDays   int           `envconfig:"CLEANUP_RETENTION_DAYS" default:"30"`
	} `envconfig:""`

	Queues struct {
		Schedule string `envconfig:"SCHEDULE_QUEUE_KEY" default:"schedule_jobs"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
