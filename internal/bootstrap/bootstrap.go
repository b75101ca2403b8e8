package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kursadbilgin/appointment-dispatch/internal/config"
	"github.com/kursadbilgin/appointment-dispatch/internal/formatter"
	"github.com/kursadbilgin/appointment-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/appointment-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/appointment-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/appointment-dispatch/internal/observability"
	"github.com/kursadbilgin/appointment-dispatch/internal/provider"
	"github.com/kursadbilgin/appointment-dispatch/internal/repository"
	"github.com/kursadbilgin/appointment-dispatch/internal/service"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Infra holds the opened connections. Redis is nil when REDIS_URL is unset.
type Infra struct {
	DB    *gorm.DB
	SQLDB *sql.DB
	Redis *goredis.Client
}

// OpenInfra connects to Postgres and, when configured, Redis. Migrations
// run only when migrate is true so a single process owns the schema.
func OpenInfra(cfg *config.Config, migrate bool, logger *zap.Logger) (*Infra, error) {
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.Options{}, logger)
	if err != nil {
		return nil, fmt.Errorf("postgres initialization failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}

	if migrate {
		if err := migrations.Migrate(db); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("database migrations failed: %w", err)
		}
	}

	infra := &Infra{DB: db, SQLDB: sqlDB}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		rdb, err := infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("redis initialization failed: %w", err)
		}
		infra.Redis = rdb
	}

	return infra, nil
}

func (i *Infra) Close() {
	if i == nil {
		return
	}
	if i.Redis != nil {
		_ = i.Redis.Close()
	}
	if i.SQLDB != nil {
		_ = i.SQLDB.Close()
	}
}

// PingRedis is nil when Redis is not configured.
func (i *Infra) PingRedis() func(ctx context.Context) error {
	if i == nil || i.Redis == nil {
		return nil
	}
	return func(ctx context.Context) error {
		return i.Redis.Ping(ctx).Err()
	}
}

// Repositories returns the Postgres-backed batch and message stores.
func (i *Infra) Repositories() (*repository.GormBatchRepo, *repository.GormMessageRepo) {
	return repository.NewGormBatchRepo(i.DB), repository.NewGormMessageRepo(i.DB)
}

func NewSender(cfg *config.Config) (*provider.WhatsAppProvider, error) {
	return provider.NewWhatsAppProvider(provider.WhatsAppConfig{
		APIURL:        cfg.WhatsAppAPIURL,
		PhoneNumberID: cfg.WhatsAppPhoneNumberID,
		Token:         cfg.WhatsAppToken,
	})
}

// NewDispatcher wires the sequential batch dispatcher. The Redis limiter
// is attached only when Redis is available.
func NewDispatcher(
	cfg *config.Config,
	infra *Infra,
	sender provider.Sender,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*service.Dispatcher, error) {
	tmpl, err := formatter.New(formatter.Templates{
		Consulta: cfg.TemplateConsulta,
		Exame:    cfg.TemplateExame,
	}, cfg.WhatsAppLanguage)
	if err != nil {
		return nil, fmt.Errorf("template formatter init failed: %w", err)
	}

	batches, messages := infra.Repositories()
	dispatcher, err := service.NewDispatcher(batches, messages, tmpl, sender, cfg.DispatchInterval(), logger.Named("dispatcher"))
	if err != nil {
		return nil, err
	}
	dispatcher.SetMetrics(metrics)

	if infra.Redis != nil {
		limiter, err := infraredis.NewRedisRateLimiter(infra.Redis, cfg.RateLimitPerSec)
		if err != nil {
			return nil, fmt.Errorf("rate limiter init failed: %w", err)
		}
		dispatcher.SetRateLimiter(limiter)
	}

	return dispatcher, nil
}
