package oracleclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ark-network/dlc/internal/core/ports"
	"github.com/ark-network/dlc/pkg/oracle"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	apiVersion     = "v0"
	defaultTimeout = 15 * time.Second
	maxBodySize    = 1 << 20
)

type Config struct {
	// RequestsPerSecond limits the requests sent to each oracle endpoint.
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

type client struct {
	cfg        Config
	httpClient *http.Client
	cache      ports.AnnouncementCache

	lock     sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewClient(cfg Config, cache ports.AnnouncementCache) (ports.OracleClient, error) {
	if cache == nil {
		return nil, fmt.Errorf("missing announcement cache")
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
		limiters:   make(map[string]*rate.Limiter),
	}, nil
}

func (c *client) GetOracleInfo(ctx context.Context, endpoint string) (*oracle.Info, error) {
	cached, err := c.cache.GetInfo(ctx, endpoint)
	if err != nil {
		log.WithError(err).Warn("failed to read oracle info from cache")
	}
	if cached != nil {
		return cached, nil
	}

	var info oracle.Info
	if err := c.get(ctx, endpoint, &info, "info"); err != nil {
		return nil, err
	}
	if err := info.Validate(); err != nil {
		if errors.Is(err, oracle.ErrSchemeVersionMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ports.ErrOracleMalformedResponse, err)
	}

	if err := c.cache.AddInfo(ctx, endpoint, info); err != nil {
		log.WithError(err).Warn("failed to cache oracle info")
	}
	return &info, nil
}

func (c *client) GetAnnouncement(
	ctx context.Context, endpoint, eventId string,
) (*oracle.Announcement, error) {
	cached, err := c.cache.GetAnnouncement(ctx, endpoint, eventId)
	if err != nil {
		log.WithError(err).Warn("failed to read announcement from cache")
	}
	if cached != nil {
		return cached, nil
	}

	info, err := c.GetOracleInfo(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	pubkey, err := info.PubKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ports.ErrOracleMalformedResponse, err)
	}

	var ann oracle.Announcement
	if err := c.get(ctx, endpoint, &ann, "announcements", eventId); err != nil {
		return nil, err
	}
	if ann.EventId != eventId {
		return nil, fmt.Errorf(
			"%w: got announcement for event %s", ports.ErrOracleMalformedResponse, ann.EventId,
		)
	}
	if err := oracle.VerifyAnnouncement(ann, pubkey); err != nil {
		if errors.Is(err, oracle.ErrSchemeVersionMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ports.ErrOracleMalformedResponse, err)
	}

	if err := c.cache.AddAnnouncement(ctx, endpoint, ann); err != nil {
		log.WithError(err).Warn("failed to cache announcement")
	}
	return &ann, nil
}

// GetAttestation always asks the oracle so that a second, different
// attestation of the same event is detected. A previously verified
// attestation is returned when the oracle can't be reached.
func (c *client) GetAttestation(
	ctx context.Context, endpoint, eventId string,
) (*oracle.Attestation, error) {
	ann, err := c.GetAnnouncement(ctx, endpoint, eventId)
	if err != nil {
		return nil, err
	}
	if !ann.IsMature(time.Now()) {
		return nil, fmt.Errorf(
			"%w: event %s matures at %s",
			ports.ErrNotYetMature, eventId, ann.Maturity().Format(time.RFC3339),
		)
	}

	cached, err := c.cache.GetAttestation(ctx, endpoint, eventId)
	if err != nil {
		log.WithError(err).Warn("failed to read attestation from cache")
	}

	var att oracle.Attestation
	if err := c.get(ctx, endpoint, &att, "attestations", eventId); err != nil {
		if cached != nil && errors.Is(err, ports.ErrOracleUnreachable) {
			return cached, nil
		}
		return nil, err
	}

	info, err := c.GetOracleInfo(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	pubkey, err := info.PubKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ports.ErrOracleMalformedResponse, err)
	}
	if err := oracle.VerifyAttestation(*ann, pubkey, att); err != nil {
		return nil, err
	}

	if cached != nil {
		if cached.Equal(att) {
			return cached, nil
		}
		log.Warnf(
			"oracle %s attested event %s twice: %s and %s",
			endpoint, eventId, cached.Outcome, att.Outcome,
		)
		return nil, &ports.ConflictingAttestationError{
			Authoritative: *cached,
			Conflicting:   att,
		}
	}

	if err := c.cache.AddAttestation(ctx, endpoint, att); err != nil {
		log.WithError(err).Warn("failed to cache attestation")
	}
	return &att, nil
}

func (c *client) get(ctx context.Context, endpoint string, v any, path ...string) error {
	if err := c.limiter(endpoint).Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s", ports.ErrOracleUnreachable, err)
	}

	reqUrl, err := url.JoinPath(endpoint, append([]string{apiVersion}, path...)...)
	if err != nil {
		return fmt.Errorf("invalid oracle endpoint %s: %s", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqUrl, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ports.ErrOracleUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: %s", ports.ErrOracleUnreachable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ports.ErrEventNotFound, reqUrl)
	case resp.StatusCode == http.StatusTooEarly:
		return fmt.Errorf("%w: %s", ports.ErrNotYetMature, reqUrl)
	case resp.StatusCode >= http.StatusInternalServerError,
		resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s returned %s", ports.ErrOracleUnreachable, reqUrl, resp.Status)
	default:
		return fmt.Errorf(
			"%w: %s returned %s", ports.ErrOracleMalformedResponse, reqUrl, resp.Status,
		)
	}

	if err := checkSchemeVersion(body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %s", ports.ErrOracleMalformedResponse, err)
	}
	return nil
}

// checkSchemeVersion rejects payloads of an unknown scheme before they are
// decoded into scheme types.
func checkSchemeVersion(body []byte) error {
	var payload struct {
		SchemeVersion *string `json:"scheme_version"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("%w: %s", ports.ErrOracleMalformedResponse, err)
	}
	if payload.SchemeVersion == nil {
		return fmt.Errorf("%w: missing scheme_version", ports.ErrOracleMalformedResponse)
	}
	if *payload.SchemeVersion != oracle.SchemeVersion {
		return fmt.Errorf(
			"%w: got %q, expected %q",
			oracle.ErrSchemeVersionMismatch, *payload.SchemeVersion, oracle.SchemeVersion,
		)
	}
	return nil
}

func (c *client) limiter(endpoint string) *rate.Limiter {
	c.lock.Lock()
	defer c.lock.Unlock()

	limiter, ok := c.limiters[endpoint]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(c.cfg.RequestsPerSecond), c.cfg.Burst)
		c.limiters[endpoint] = limiter
	}
	return limiter
}
