package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/ark-network/dlc/internal/core/ports"
	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// watcher drives funded contracts to settlement while the service is
// started: it polls the oracle from maturity, refunds once the timelock
// expires and keeps reconciling broadcast settlements until one confirms.
type watcher struct {
	svc *service

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// avoid scheduling the same task multiple times
	locker         sync.Locker
	scheduledTasks map[string]struct{}
}

func newWatcher(svc *service) *watcher {
	return &watcher{
		svc:            svc,
		locker:         &sync.Mutex{},
		scheduledTasks: make(map[string]struct{}),
	}
}

func (w *watcher) start() {
	w.ctx, w.cancel = context.WithCancel(context.Background())
}

func (w *watcher) stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *watcher) isRunning() bool {
	return w.ctx != nil && w.ctx.Err() == nil
}

func (w *watcher) watchFunding(contractId string) {
	at := time.Now().Add(w.svc.cfg.FundingPollInterval).Unix()
	w.schedule("funding:"+contractId, at, func() {
		contract, err := w.svc.CheckFunding(w.ctx, contractId)
		if err != nil {
			if IsNotReady(err) || IsTransient(err) {
				log.WithError(err).WithField("contract", contractId).Debug("funding not confirmed yet")
				w.watchFunding(contractId)
				return
			}
			log.WithError(err).WithField("contract", contractId).Warn("stopped watching funding")
			return
		}
		log.WithField("contract", contract.Id).Debug("funding confirmed")
	})
}

func (w *watcher) watchAttestation(contract domain.Contract) {
	contractId := contract.Id
	endpoint := contract.Offer.OracleEndpoint
	eventId := contract.Offer.EventId
	horizon := time.Unix(contract.Offer.RefundLocktime, 0).Add(-w.svc.cfg.RefundSafetyMargin)

	w.schedule("attestation:"+contractId, contract.Announcement.MaturityTime, func() {
		w.wg.Add(1)
		defer w.wg.Done()

		if err := w.pollAttestation(contractId, endpoint, eventId, horizon); err != nil {
			log.WithError(err).WithField("contract", contractId).Warnf(
				"stopped polling attestation, refund scheduled at %s",
				time.Unix(contract.Offer.RefundLocktime, 0).Format(time.RFC3339),
			)
		}
	})
}

// pollAttestation retries with exponential backoff until the attestation
// settles the contract or the horizon is reached. At least one attempt is
// made even if the horizon is already past.
func (w *watcher) pollAttestation(
	contractId, endpoint, eventId string, horizon time.Time,
) error {
	var bo backoff.BackOff = &backoff.StopBackOff{}
	if maxElapsed := time.Until(horizon); maxElapsed > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = w.svc.cfg.PollInitialInterval
		exp.MaxInterval = w.svc.cfg.PollMaxInterval
		exp.MaxElapsedTime = maxElapsed
		bo = exp
	}

	operation := func() error {
		contract, err := w.svc.GetContract(w.ctx, contractId)
		if err != nil {
			return err
		}
		if contract.IsTerminal() || contract.Settlement != nil {
			return nil
		}

		var conflicting *oracle.Attestation
		attestation, err := w.svc.oracle.GetAttestation(w.ctx, endpoint, eventId)
		if err != nil {
			var conflict *ports.ConflictingAttestationError
			if !errors.As(err, &conflict) {
				cerr := classify(err, map[string]string{"contract": contractId, "event_id": eventId})
				if IsTransient(cerr) || IsNotReady(cerr) {
					log.WithError(cerr).WithField("contract", contractId).Debug("attestation not available")
					return cerr
				}
				return backoff.Permanent(cerr)
			}
			log.WithField("contract", contractId).Warnf(
				"oracle attested conflicting outcomes for event %s, using first verified one",
				eventId,
			)
			attestation = &conflict.Authoritative
			conflicting = &conflict.Conflicting
		}

		_, err = w.svc.ExecuteContract(w.ctx, contractId, *attestation)
		if conflicting != nil {
			// records the conflict on the contract
			w.svc.ExecuteContract(w.ctx, contractId, *conflicting) // nolint
		}
		if err != nil {
			if IsTransient(err) {
				return err
			}
			if KindOf(err) == ErrKindProtocolViolation {
				return nil
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	return backoff.Retry(operation, backoff.WithContext(bo, w.ctx))
}

// scheduleRefund broadcasts the refund tx once its timelock expires,
// regardless of late attestations. It is scheduled together with the
// attestation polling and is what settles the contract once polling gives up.
func (w *watcher) scheduleRefund(contract domain.Contract) {
	contractId := contract.Id
	w.schedule("refund:"+contractId, contract.Offer.RefundLocktime, func() {
		w.refund(contract)
	})
}

func (w *watcher) refund(contract domain.Contract) {
	contractId := contract.Id
	if _, err := w.svc.RefundContract(w.ctx, contractId); err != nil {
		if IsNotReady(err) || IsTransient(err) {
			log.WithError(err).WithField("contract", contractId).Debug("retrying refund later")
			at := time.Now().Add(w.svc.cfg.FundingPollInterval).Unix()
			w.schedule("refund:"+contractId, at, func() { w.refund(contract) })
			return
		}
		log.WithError(err).WithField("contract", contractId).Debug("refund skipped")
	}
}

func (w *watcher) watchSettlement(contractId string) {
	at := time.Now().Add(w.svc.cfg.ReconcileInterval).Unix()
	w.schedule("settlement:"+contractId, at, func() {
		contract, err := w.svc.ReconcileSettlement(w.ctx, contractId)
		if err != nil && !IsTransient(err) {
			log.WithError(err).WithField("contract", contractId).Warn("stopped reconciling settlement")
			return
		}
		if contract == nil || !contract.SettlementConfirmed {
			w.watchSettlement(contractId)
			return
		}
		log.WithField("contract", contractId).Infof(
			"settlement tx %s confirmed", contract.SettlementTxid,
		)
	})
}

func (w *watcher) schedule(key string, at int64, task func()) {
	if !w.isRunning() {
		return
	}

	w.locker.Lock()
	if _, scheduled := w.scheduledTasks[key]; scheduled {
		w.locker.Unlock()
		return
	}
	w.scheduledTasks[key] = struct{}{}
	w.locker.Unlock()

	wrapped := func() {
		w.removeTask(key)
		if !w.isRunning() {
			return
		}
		task()
	}
	if err := w.svc.scheduler.ScheduleTaskOnce(at, wrapped); err != nil {
		w.removeTask(key)
		log.WithError(err).Warnf("failed to schedule task %s", key)
		return
	}
	log.Debugf("scheduled task %s at %s", key, time.Unix(at, 0).Format(time.RFC3339))
}

func (w *watcher) removeTask(key string) {
	w.locker.Lock()
	defer w.locker.Unlock()
	delete(w.scheduledTasks, key)
}
