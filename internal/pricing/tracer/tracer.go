// Package tracer is the tracing seam for the pricing module. Services depend
// on the Tracer interface; production wires the OpenTelemetry adapter and
// tests use the no-op tracer.
package tracer

import (
	"context"
	"time"
)

// Span is an active trace span. End must be called exactly once.
type Span interface {
	// End completes the span. A non-nil err marks it failed.
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute is a key-value pair attached to a span or event.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

func Float64(key string, value float64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration records value in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// Span names.
const (
	SpanGetPrice      = "pricing.get_price"
	SpanCompute       = "pricing.compute"
	SpanFetchSnapshot = "pricing.profile.snapshot"
	SpanFetchMarket   = "pricing.profile.market"
)

// Attribute keys.
const (
	AttrSubjectID      = "subject_id"
	AttrCacheHit       = "cache.hit"
	AttrCacheTTLRemain = "cache.ttl_remaining_ms"
	AttrLockAcquired   = "lock.acquired"
	AttrAmount         = "quote.amount"
	AttrClamped        = "quote.clamped"
)

// Event names.
const (
	EventLockWaitExpired = "lock.wait_expired"
	EventQuoteStored     = "quote.stored"
)
