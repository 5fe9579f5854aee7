package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/walletledger/internal/config"
	"github.com/congo-pay/walletledger/internal/engine"
	"github.com/congo-pay/walletledger/internal/events"
	"github.com/congo-pay/walletledger/internal/httpapi"
	"github.com/congo-pay/walletledger/internal/infra"
	"github.com/congo-pay/walletledger/internal/lock"
	"github.com/congo-pay/walletledger/internal/middleware"
)

// Deps aggregates shared dependencies required to wire routes. DB, Cache
// and Nats are optional.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Nats   *nats.Conn
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	eng, err := NewEngine(d)
	if err != nil {
		return err
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID := middleware.RequestIDFrom(c)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	RegisterWalletRoutes(api, httpapi.NewHandler(eng))

	return nil
}

// NewEngine builds the engine from the configured backends.
func NewEngine(d Deps) (*engine.Engine, error) {
	if !isDev(d.Cfg.AppEnv) && d.DB == nil {
		return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if d.Cfg.LockBackend == config.LockBackendRedis {
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when LOCK_BACKEND=%s", config.LockBackendRedis)
		}
		locker = lock.NewRedisLocker(d.Cache, d.Cfg.LockTTL, d.Cfg.LockRetryInterval, d.Logger)
	}

	publishers := events.Fanout{events.NewLoggerPublisher(d.Logger)}
	if d.Nats != nil {
		publishers = append(publishers, events.NewNatsPublisher(d.Nats, d.Cfg.NatsSubjectPrefix))
	}

	wallets, entries := infra.NewStores(d.DB)
	return engine.New(wallets, entries, engine.Options{
		Locker:         locker,
		Publisher:      publishers,
		Logger:         d.Logger,
		CommitAttempts: d.Cfg.CommitAttempts,
		AppendAttempts: d.Cfg.AppendAttempts,
	}), nil
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
