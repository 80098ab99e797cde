package main

import (
	"log/slog"

	accessservice "refaccess/internal/access/service"
	accessstore "refaccess/internal/access/store"
	"refaccess/internal/audit"
	"refaccess/internal/platform/database"
	platformredis "refaccess/internal/platform/redis"
	"refaccess/internal/pricing/profile"
	pricingservice "refaccess/internal/pricing/service"
	pricingstore "refaccess/internal/pricing/store"
	"refaccess/internal/ratelimit"
	"refaccess/internal/seeder"
	"refaccess/pkg/platform/outbox"
)

// stores holds the persistence adapters for one process. Each dependency
// falls back to its in-memory implementation when its backend is not
// configured.
type stores struct {
	access   accessservice.Store
	audit    audit.Store
	profiles profile.Store
	quotes   pricingservice.QuoteStore
	outbox   outbox.Store
	limits   ratelimit.Store
}

func buildStores(pool *database.Pool, redisClient *platformredis.Client, logger *slog.Logger) stores {
	var s stores

	if pool != nil {
		db := pool.DB()
		s.access = accessstore.NewPostgres(db)
		s.audit = audit.NewPostgresStore(db)
		s.profiles = profile.NewPostgres(db)
		s.outbox = outbox.NewPostgresStore(db)
		logger.Info("using postgres stores")
	} else {
		s.access = accessstore.NewInMemory()
		s.audit = audit.NewInMemoryStore()
		s.outbox = outbox.NewInMemoryStore()
		profiles := profile.NewInMemory()
		seeder.New(profiles, logger).SeedAll()
		s.profiles = profiles
		logger.Warn("DATABASE_URL not set, using in-memory stores with demo profiles")
	}

	if redisClient != nil {
		s.quotes = pricingstore.NewRedisStore(redisClient.Client)
		s.limits = ratelimit.NewRedisStore(redisClient.Client)
		logger.Info("using redis quote cache and rate limits")
	} else {
		s.quotes = pricingstore.NewInMemoryStore()
		s.limits = ratelimit.NewInMemoryStore()
		logger.Warn("REDIS_URL not set, using in-memory quote cache and rate limits")
	}

	return s
}
