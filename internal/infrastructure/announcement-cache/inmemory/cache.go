package inmemorycache

import (
	"context"
	"sync"

	"github.com/ark-network/dlc/internal/core/ports"
	"github.com/ark-network/dlc/pkg/oracle"
)

type eventKey struct {
	endpoint string
	eventId  string
}

type cache struct {
	lock          *sync.RWMutex
	infos         map[string]oracle.Info
	announcements map[eventKey]oracle.Announcement
	attestations  map[eventKey]oracle.Attestation
}

func NewAnnouncementCache() ports.AnnouncementCache {
	return &cache{
		lock:          &sync.RWMutex{},
		infos:         make(map[string]oracle.Info),
		announcements: make(map[eventKey]oracle.Announcement),
		attestations:  make(map[eventKey]oracle.Attestation),
	}
}

func (c *cache) GetInfo(_ context.Context, endpoint string) (*oracle.Info, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	info, ok := c.infos[endpoint]
	if !ok {
		return nil, nil
	}
	return &info, nil
}

func (c *cache) AddInfo(_ context.Context, endpoint string, info oracle.Info) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.infos[endpoint] = info
	return nil
}

func (c *cache) GetAnnouncement(
	_ context.Context, endpoint, eventId string,
) (*oracle.Announcement, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	ann, ok := c.announcements[eventKey{endpoint, eventId}]
	if !ok {
		return nil, nil
	}
	return &ann, nil
}

func (c *cache) AddAnnouncement(
	_ context.Context, endpoint string, ann oracle.Announcement,
) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.announcements[eventKey{endpoint, ann.EventId}] = ann
	return nil
}

func (c *cache) GetAttestation(
	_ context.Context, endpoint, eventId string,
) (*oracle.Attestation, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	att, ok := c.attestations[eventKey{endpoint, eventId}]
	if !ok {
		return nil, nil
	}
	return &att, nil
}

// AddAttestation keeps the first attestation of an event.
func (c *cache) AddAttestation(
	_ context.Context, endpoint string, att oracle.Attestation,
) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	key := eventKey{endpoint, att.EventId}
	if _, ok := c.attestations[key]; ok {
		return nil
	}
	c.attestations[key] = att
	return nil
}

func (c *cache) Close() {}
