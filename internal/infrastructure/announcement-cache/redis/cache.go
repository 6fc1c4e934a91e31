package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ark-network/dlc/internal/core/ports"
	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dlc:oracle"

type cache struct {
	client *redis.Client
}

func NewAnnouncementCache(redisUrl string) (ports.AnnouncementCache, error) {
	opts, err := redis.ParseURL(redisUrl)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %s", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		// nolint
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %s", err)
	}
	return &cache{client}, nil
}

func (c *cache) GetInfo(ctx context.Context, endpoint string) (*oracle.Info, error) {
	var info oracle.Info
	found, err := c.get(ctx, infoKey(endpoint), &info)
	if err != nil || !found {
		return nil, err
	}
	return &info, nil
}

func (c *cache) AddInfo(ctx context.Context, endpoint string, info oracle.Info) error {
	return c.set(ctx, infoKey(endpoint), info, false)
}

func (c *cache) GetAnnouncement(
	ctx context.Context, endpoint, eventId string,
) (*oracle.Announcement, error) {
	var ann oracle.Announcement
	found, err := c.get(ctx, eventKey("announcement", endpoint, eventId), &ann)
	if err != nil || !found {
		return nil, err
	}
	return &ann, nil
}

func (c *cache) AddAnnouncement(
	ctx context.Context, endpoint string, ann oracle.Announcement,
) error {
	return c.set(ctx, eventKey("announcement", endpoint, ann.EventId), ann, false)
}

func (c *cache) GetAttestation(
	ctx context.Context, endpoint, eventId string,
) (*oracle.Attestation, error) {
	var att oracle.Attestation
	found, err := c.get(ctx, eventKey("attestation", endpoint, eventId), &att)
	if err != nil || !found {
		return nil, err
	}
	return &att, nil
}

// AddAttestation uses SETNX so the first attestation of an event wins, also
// across processes sharing the same redis.
func (c *cache) AddAttestation(
	ctx context.Context, endpoint string, att oracle.Attestation,
) error {
	return c.set(ctx, eventKey("attestation", endpoint, att.EventId), att, true)
}

func (c *cache) Close() {
	// nolint
	c.client.Close()
}

func (c *cache) get(ctx context.Context, key string, v any) (bool, error) {
	buf, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return false, fmt.Errorf("failed to decode cached value %s: %s", key, err)
	}
	return true, nil
}

func (c *cache) set(ctx context.Context, key string, v any, onlyIfMissing bool) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if onlyIfMissing {
		return c.client.SetNX(ctx, key, buf, 0).Err()
	}
	return c.client.Set(ctx, key, buf, 0).Err()
}

func infoKey(endpoint string) string {
	return fmt.Sprintf("%s:info:%s", keyPrefix, endpoint)
}

func eventKey(kind, endpoint, eventId string) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, kind, endpoint, eventId)
}
