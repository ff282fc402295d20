// Package app opens the infrastructure named in the configuration and
// assembles the messaging services on top of it. The server and the
// reconciler share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/messaging/internal/auth"
	"github.com/ignite/messaging/internal/config"
	"github.com/ignite/messaging/internal/dedup"
	"github.com/ignite/messaging/internal/notify"
	"github.com/ignite/messaging/internal/pkg/distlock"
	"github.com/ignite/messaging/internal/pkg/logger"
	"github.com/ignite/messaging/internal/repository/memory"
	"github.com/ignite/messaging/internal/repository/postgres"
	"github.com/ignite/messaging/internal/service/attachment"
	"github.com/ignite/messaging/internal/service/blocking"
	"github.com/ignite/messaging/internal/service/deletion"
	"github.com/ignite/messaging/internal/service/link"
	"github.com/ignite/messaging/internal/service/message"
	"github.com/ignite/messaging/internal/service/moderation"
	"github.com/ignite/messaging/internal/service/ratelimit"
	"github.com/ignite/messaging/internal/storage"
)

var log = logger.Named("app")

// Repository is everything the services need from a store. Both the
// PostgreSQL and the in-memory store implement it.
type Repository interface {
	message.Repository
	attachment.Repository
	link.Repository
	deletion.Repository
	moderation.Repository
	blocking.Repository
	auth.MembershipSource
}

var (
	_ Repository = (*postgres.Store)(nil)
	_ Repository = (*memory.Store)(nil)
)

// Infra holds the opened connections. DB and Redis are nil when not
// configured.
type Infra struct {
	Config *config.Config
	DB     *sql.DB
	Redis  *redis.Client
	Repo   Repository
	Blobs  storage.BlobStore
	Ledger storage.OrphanLedger
	CDN    storage.Invalidator

	closers []func() error
}

// Open connects to every backend named in cfg. A configured database that
// cannot be reached is fatal; an unreachable Redis is logged and skipped so
// the engine falls back to its database or in-process backends.
func Open(ctx context.Context, cfg *config.Config) (*Infra, error) {
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if cfg.Log.RedactPII != nil {
		logger.SetRedactPII(*cfg.Log.RedactPII)
	}

	in := &Infra{Config: cfg}
	if cfg.Database.URL != "" {
		db, err := openDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		in.DB = db
		in.Repo = postgres.New(db)
		in.closers = append(in.closers, db.Close)
		log.Info("using postgres store")
	} else {
		in.Repo = memory.NewStore()
		log.Warn("DATABASE_URL not set, using in-memory store")
	}

	if cfg.Redis.URL != "" {
		rdb, err := openRedis(ctx, cfg.Redis.URL)
		if err != nil {
			log.Warn("redis unavailable, continuing without it", "error", err.Error())
		} else {
			in.Redis = rdb
			in.closers = append(in.closers, rdb.Close)
		}
	}

	blobs, err := storage.NewBlobStore(ctx, cfg.Storage)
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("blob store: %w", err)
	}
	in.Blobs = blobs

	in.Ledger = storage.NewMemoryLedger()
	if cfg.Storage.OrphanLedgerTable != "" || cfg.Storage.CloudFrontDistributionID != "" {
		awsCfg, err := storage.LoadAWSConfig(ctx, cfg.Storage, "")
		if err != nil {
			in.Close()
			return nil, err
		}
		if t := cfg.Storage.OrphanLedgerTable; t != "" {
			in.Ledger = storage.NewDynamoLedger(dynamodb.NewFromConfig(awsCfg), t)
		}
		if id := cfg.Storage.CloudFrontDistributionID; id != "" {
			in.CDN = storage.NewCloudFrontInvalidator(cloudfront.NewFromConfig(awsCfg), id, cfg.Storage.KeyPrefix)
		}
	}
	return in, nil
}

func openDB(ctx context.Context, c config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", c.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// Close releases connections in reverse order of opening.
func (in *Infra) Close() error {
	var errs []error
	for i := len(in.closers) - 1; i >= 0; i-- {
		if err := in.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	in.closers = nil
	return errors.Join(errs...)
}

// Services are the assembled engine components.
type Services struct {
	Messages    *message.Service
	Attachments *attachment.Service
	Links       *link.Service
	Deletion    *deletion.Engine
	Moderation  *moderation.Service
	Blocking    *blocking.Service
	Switch      *message.RedisSwitch
	Notifier    *notify.Dispatcher
}

// NewServices wires the engine over in. Redis-backed variants are chosen
// when Redis is available, then PostgreSQL, then in-process.
func NewServices(ctx context.Context, in *Infra) (*Services, error) {
	cfg := in.Config.Messaging

	threshold, err := blocking.ParseThreshold(cfg.BlockThreshold)
	if err != nil {
		return nil, err
	}

	notifier, err := newNotifier(ctx, in)
	if err != nil {
		return nil, err
	}
	in.closers = append(in.closers, notifier.Close)

	att := attachment.NewService(in.Repo, in.Blobs, attachment.Config{
		BlobTimeout: cfg.BlobTimeout(),
		MaxBytes:    cfg.MaxAttachmentBytes,
	})
	att.SetLocker(distlock.NewLocker(in.Redis, in.DB, 30*time.Second))
	att.SetLedger(in.Ledger)
	if in.CDN != nil {
		att.SetInvalidator(in.CDN)
	}
	att.SetNotifier(notifier)

	del := deletion.NewEngine(in.Repo, att)
	del.SetMaxBulk(cfg.MaxBulkItems)
	del.SetNotifier(notifier)

	mod := moderation.NewService(in.Repo, del)
	mod.SetNotifier(notifier)

	links := link.NewService(in.Repo, cfg.LinkDenylist)
	links.SetNotifier(notifier)
	if cfg.UnfurlLinks {
		links.SetUnfurler(link.NewHTMLUnfurler(nil), cfg.UnfurlTimeout())
	}

	blocker := blocking.NewService(in.Repo, threshold)

	deps := message.Deps{
		Repo:        in.Repo,
		Blocker:     blocker,
		Attachments: att,
		Purger:      del,
		Notifier:    notifier,
	}
	var sw *message.RedisSwitch
	switch {
	case in.Redis != nil:
		deps.Limiter = ratelimit.NewRedisLimiter(in.Redis, cfg.MinSendInterval())
		deps.Dedup = dedup.NewRedisFilter(in.Redis, cfg.IdempotencyTTL())
		sw = message.NewRedisSwitch(in.Redis)
		deps.Switch = sw
	case in.DB != nil:
		deps.Limiter = ratelimit.NewPostgresLimiter(in.DB, cfg.MinSendInterval())
		deps.Dedup = dedup.NewMemoryFilter(cfg.IdempotencyTTL())
	default:
		deps.Limiter = ratelimit.NewMemoryLimiter(cfg.MinSendInterval())
		deps.Dedup = dedup.NewMemoryFilter(cfg.IdempotencyTTL())
	}

	return &Services{
		Messages: message.NewService(deps, message.Config{
			Enabled:       cfg.Enabled,
			MaxRecipients: cfg.MaxRecipients,
		}),
		Attachments: att,
		Links:       links,
		Deletion:    del,
		Moderation:  mod,
		Blocking:    blocker,
		Switch:      sw,
		Notifier:    notifier,
	}, nil
}

func newNotifier(ctx context.Context, in *Infra) (*notify.Dispatcher, error) {
	nc := in.Config.Notify
	var sinks []notify.Sink
	if in.Redis != nil && nc.RedisQueue != "" {
		sinks = append(sinks, notify.NewRedisSink(in.Redis, nc.RedisQueue, 10000))
	}
	if k := notify.NewKafkaSink(nc.KafkaBrokers, nc.KafkaTopic); k != nil {
		sinks = append(sinks, k)
	}
	if nc.SES.Enabled {
		awsCfg, err := storage.LoadAWSConfig(ctx, in.Config.Storage, nc.SES.Region)
		if err != nil {
			return nil, err
		}
		ses, err := notify.NewSESSink(sesv2.NewFromConfig(awsCfg), nc.SES.FromAddress, nc.SES.AppBaseURL)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ses)
	}
	return notify.NewDispatcher(nc.Timeout(), sinks...), nil
}
