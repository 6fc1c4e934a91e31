package ports

import (
	"context"
	"errors"
	"fmt"

	"github.com/ark-network/dlc/pkg/oracle"
)

var (
	ErrOracleUnreachable       = errors.New("oracle unreachable")
	ErrOracleMalformedResponse = errors.New("malformed oracle response")
	ErrEventNotFound           = errors.New("event not found")
	ErrNotYetMature            = errors.New("event not yet mature")
)

// ConflictingAttestationError is returned when an oracle attests an event
// again with a different outcome. Authoritative is the first verified one.
type ConflictingAttestationError struct {
	Authoritative oracle.Attestation
	Conflicting   oracle.Attestation
}

func (e *ConflictingAttestationError) Error() string {
	return fmt.Sprintf(
		"conflicting attestations for event %s: %s and %s",
		e.Authoritative.EventId, e.Authoritative.Outcome, e.Conflicting.Outcome,
	)
}

type OracleClient interface {
	GetOracleInfo(ctx context.Context, endpoint string) (*oracle.Info, error)
	GetAnnouncement(ctx context.Context, endpoint, eventId string) (*oracle.Announcement, error)
	GetAttestation(ctx context.Context, endpoint, eventId string) (*oracle.Attestation, error)
}

// AnnouncementCache stores immutable oracle data and verified attestations.
// Get methods return nil without error on cache miss.
type AnnouncementCache interface {
	GetInfo(ctx context.Context, endpoint string) (*oracle.Info, error)
	AddInfo(ctx context.Context, endpoint string, info oracle.Info) error
	GetAnnouncement(ctx context.Context, endpoint, eventId string) (*oracle.Announcement, error)
	AddAnnouncement(ctx context.Context, endpoint string, ann oracle.Announcement) error
	GetAttestation(ctx context.Context, endpoint, eventId string) (*oracle.Attestation, error)
	AddAttestation(ctx context.Context, endpoint string, att oracle.Attestation) error
	Close()
}
