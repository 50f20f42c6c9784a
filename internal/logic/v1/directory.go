package v1

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/duynhne/registration-service/internal/core/domain"
	"github.com/duynhne/registration-service/internal/core/validation"
	"github.com/duynhne/registration-service/middleware"
)

const defaultQueryTimeout = 5 * time.Second

// Directory answers "does a customer with this email / phone exist?".
// Results never carry password material.
type Directory struct {
	repo         domain.CustomerRepository
	cache        domain.LookupCache
	logger       *zap.Logger
	group        singleflight.Group
	queryTimeout time.Duration
}

// NewDirectory creates a directory over repo. cache may be nil.
func NewDirectory(repo domain.CustomerRepository, cache domain.LookupCache, logger *zap.Logger, queryTimeout time.Duration) *Directory {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &Directory{
		repo:         repo,
		cache:        cache,
		logger:       logger,
		queryTimeout: queryTimeout,
	}
}

// FindByEmail returns the customer registered with email, or nil.
func (d *Directory) FindByEmail(ctx context.Context, email string) (*domain.CustomerRecord, error) {
	return d.find(ctx, "email", email, d.repo.FindUniqueByEmail, d.cacheGetter("email"))
}

// FindByPhone normalizes phone to digits and returns the first customer registered with it, or nil.
func (d *Directory) FindByPhone(ctx context.Context, phone string) (*domain.CustomerRecord, error) {
	return d.find(ctx, "phone", validation.NormalizePhone(phone), d.repo.FindFirstByPhone, d.cacheGetter("phone"))
}

// Remember caches a freshly created record. Failures are logged only.
func (d *Directory) Remember(ctx context.Context, record *domain.CustomerRecord) {
	if d.cache == nil || record == nil {
		return
	}
	if err := d.cache.Put(ctx, record.Redacted()); err != nil {
		d.logger.Warn("Failed to cache customer", zap.String("customer_id", record.ID), zap.Error(err))
	}
}

type lookupFunc func(ctx context.Context, value string) (*domain.CustomerRecord, error)

func (d *Directory) cacheGetter(key string) lookupFunc {
	if d.cache == nil {
		return nil
	}
	if key == "email" {
		return d.cache.GetByEmail
	}
	return d.cache.GetByPhone
}

func (d *Directory) find(ctx context.Context, key, value string, query, cached lookupFunc) (*domain.CustomerRecord, error) {
	ctx, span := middleware.StartSpan(ctx, "customer.lookup", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.String("lookup.key", key),
	))
	defer span.End()

	if cached != nil {
		record, err := cached(ctx, value)
		if err != nil {
			d.logger.Warn("Lookup cache read failed, falling back to storage", zap.String("key", key), zap.Error(err))
		} else if record != nil {
			customerLookupsTotal.WithLabelValues(key, "cache_hit").Inc()
			span.SetAttributes(attribute.Bool("customer.found", true))
			return record.Redacted(), nil
		}
	}

	// Identical concurrent lookups share one query. The query runs detached from the
	// caller so one cancelled caller does not fail the others waiting on it.
	ch := d.group.DoChan(key+":"+value, func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.queryTimeout)
		defer cancel()
		return query(qctx, value)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("find customer by %s: %w", key, ctx.Err())
	case res = <-ch:
	}

	if res.Err != nil {
		customerLookupsTotal.WithLabelValues(key, "error").Inc()
		middleware.RecordError(ctx, res.Err)
		return nil, fmt.Errorf("find customer by %s: %w", key, res.Err)
	}

	record, _ := res.Val.(*domain.CustomerRecord)
	if record == nil {
		customerLookupsTotal.WithLabelValues(key, "not_found").Inc()
		span.SetAttributes(attribute.Bool("customer.found", false))
		return nil, nil
	}

	customerLookupsTotal.WithLabelValues(key, "found").Inc()
	span.SetAttributes(attribute.Bool("customer.found", true))
	d.Remember(ctx, record)
	return record.Redacted(), nil
}
