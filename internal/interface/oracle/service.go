package oracleserver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

var (
	ErrEventNotFound    = errors.New("event not found")
	ErrEventExists      = errors.New("event already announced")
	ErrNotYetMature     = errors.New("event not yet mature")
	ErrAlreadyAttested  = errors.New("event already attested with another outcome")
	ErrNotYetAttested   = errors.New("event not yet attested")
	ErrInvalidOutcomes  = errors.New("invalid outcomes")
	ErrMissingTimestamp = errors.New("missing maturity time")
)

type AnnounceRequest struct {
	EventId      string            `json:"event_id,omitempty"`
	Description  string            `json:"description"`
	EventType    string            `json:"event_type,omitempty"`
	Outcomes     []string          `json:"outcomes"`
	MaturityTime int64             `json:"maturity_time"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type AttestRequest struct {
	EventId string `json:"event_id"`
	Outcome string `json:"outcome"`
}

// Service is a reference oracle serving announcements and attestations
// over HTTP. Events live in memory: the attestor nonces are derived from
// the key and the event id, so attesting a different outcome after a restart
// would leak the key.
type Service struct {
	*gin.Engine

	attestor *oracle.Attestor
	info     oracle.Info
	now      func() time.Time

	lock          *sync.RWMutex
	announcements map[string]oracle.Announcement
	attestations  map[string]oracle.Attestation
}

type Option func(*Service)

// WithClock overrides the time source used for announcement and maturity
// checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(
	attestor *oracle.Attestor, name, endpoint string, eventTypes []string, opts ...Option,
) *Service {
	router := gin.New()
	router.Use(gin.Recovery())

	svc := &Service{
		Engine:        router,
		attestor:      attestor,
		info:          attestor.Info(name, endpoint, eventTypes),
		now:           time.Now,
		lock:          &sync.RWMutex{},
		announcements: make(map[string]oracle.Announcement),
		attestations:  make(map[string]oracle.Attestation),
	}
	for _, opt := range opts {
		opt(svc)
	}

	v0 := svc.Group("/" + oracle.SchemeVersion)
	v0.GET("/info", svc.infoHandler)
	v0.GET("/announcements", svc.listAnnouncementsHandler)
	v0.GET("/announcements/:event_id", svc.announcementHandler)
	v0.GET("/attestations/:event_id", svc.attestationHandler)
	v0.POST("/announcements", svc.announceHandler)
	v0.POST("/attestations", svc.attestHandler)

	return svc
}

func (s *Service) Info() oracle.Info {
	return s.info
}

func (s *Service) Announce(req AnnounceRequest) (*oracle.Announcement, error) {
	if req.MaturityTime <= 0 {
		return nil, ErrMissingTimestamp
	}
	if len(req.Outcomes) <= 0 {
		return nil, ErrInvalidOutcomes
	}
	if !s.info.Supports(req.EventType) {
		return nil, fmt.Errorf("unsupported event type %s", req.EventType)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	eventId := req.EventId
	if len(eventId) <= 0 {
		eventId = oracle.EventId(req.Description, req.MaturityTime)
	}
	if _, ok := s.announcements[eventId]; ok {
		return nil, fmt.Errorf("%w: %s", ErrEventExists, eventId)
	}

	ann, err := s.attestor.Announce(
		eventId, req.Description, req.EventType, req.Outcomes,
		time.Unix(req.MaturityTime, 0), s.now(), req.Metadata,
	)
	if err != nil {
		return nil, err
	}
	s.announcements[ann.EventId] = *ann

	log.Infof("announced event %s maturing at %s", ann.EventId, ann.Maturity().Format(time.RFC3339))
	return ann, nil
}

// Attest is idempotent for the same outcome and refuses any other outcome
// once the event is attested.
func (s *Service) Attest(req AttestRequest) (*oracle.Attestation, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	ann, ok := s.announcements[req.EventId]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, req.EventId)
	}
	if att, ok := s.attestations[req.EventId]; ok {
		if att.Outcome != req.Outcome {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyAttested, att.Outcome)
		}
		return &att, nil
	}
	if !ann.IsMature(s.now()) {
		return nil, fmt.Errorf(
			"%w: matures at %s", ErrNotYetMature, ann.Maturity().Format(time.RFC3339),
		)
	}

	att, err := s.attestor.Attest(ann, req.Outcome)
	if err != nil {
		return nil, err
	}
	s.attestations[req.EventId] = *att

	log.Infof("attested outcome %s for event %s", att.Outcome, att.EventId)
	return att, nil
}

func (s *Service) GetAnnouncement(eventId string) (*oracle.Announcement, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	ann, ok := s.announcements[eventId]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventId)
	}
	return &ann, nil
}

func (s *Service) GetAttestation(eventId string) (*oracle.Attestation, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	ann, ok := s.announcements[eventId]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventId)
	}
	if !ann.IsMature(s.now()) {
		return nil, fmt.Errorf(
			"%w: matures at %s", ErrNotYetMature, ann.Maturity().Format(time.RFC3339),
		)
	}
	att, ok := s.attestations[eventId]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotYetAttested, eventId)
	}
	return &att, nil
}

func (s *Service) ListAnnouncements() []oracle.Announcement {
	s.lock.RLock()
	defer s.lock.RUnlock()

	list := make([]oracle.Announcement, 0, len(s.announcements))
	for _, ann := range s.announcements {
		list = append(list, ann)
	}
	return list
}
