package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
)

// TemplateStore reads and replaces doctors' weekly availability.
type TemplateStore interface {
	GetAvailability(ctx context.Context, doctorID uuid.UUID) (schedule.Template, error)
	ReplaceAvailability(ctx context.Context, doctorID uuid.UUID, tmpl schedule.Template) error
}

// CachedTemplateStore is a read-through cache in front of a TemplateStore.
// Templates are read on every slot listing and change rarely. Cache failures
// fall back to the underlying store.
type CachedTemplateStore struct {
	next   TemplateStore
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewCachedTemplateStore(next TemplateStore, client *redis.Client, ttl time.Duration, logger *logrus.Logger) *CachedTemplateStore {
	return &CachedTemplateStore{next: next, client: client, ttl: ttl, logger: logger}
}

func templateKey(doctorID uuid.UUID) string {
	return "availability:doctor:" + doctorID.String()
}

func (c *CachedTemplateStore) GetAvailability(ctx context.Context, doctorID uuid.UUID) (schedule.Template, error) {
	key := templateKey(doctorID)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var tmpl schedule.Template
		if jsonErr := json.Unmarshal(raw, &tmpl); jsonErr == nil {
			return tmpl, nil
		}
		c.logger.WithField("doctor_id", doctorID).Warn("discarding undecodable cached availability")
	case errors.Is(err, redis.Nil):
	default:
		c.logger.WithError(err).WithField("doctor_id", doctorID).Warn("availability cache read failed")
	}

	tmpl, err := c.next.GetAvailability(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(tmpl); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.WithError(err).WithField("doctor_id", doctorID).Warn("availability cache write failed")
		}
	}
	return tmpl, nil
}

// ReplaceAvailability writes through and drops the cached copy. A failed
// invalidation is returned since it would serve a stale template until ttl.
func (c *CachedTemplateStore) ReplaceAvailability(ctx context.Context, doctorID uuid.UUID, tmpl schedule.Template) error {
	if err := c.next.ReplaceAvailability(ctx, doctorID, tmpl); err != nil {
		return err
	}
	if err := c.client.Del(ctx, templateKey(doctorID)).Err(); err != nil {
		return fmt.Errorf("invalidate availability cache: %w", err)
	}
	return nil
}
