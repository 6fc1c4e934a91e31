package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ark-network/dlc/internal/core/ports"
	"github.com/ark-network/dlc/pkg/adaptor"
	"github.com/ark-network/dlc/pkg/oracle"
)

type ErrorKind string

const (
	// Retried with backoff, never a contract failure on first occurrence.
	ErrKindTransient ErrorKind = "TRANSIENT"
	// Never retried, the contract moves to disputed-failed.
	ErrKindProtocolViolation ErrorKind = "PROTOCOL_VIOLATION"
	// Local invariant broken, the engine refuses to sign.
	ErrKindFatal ErrorKind = "FATAL"
	// Try again later.
	ErrKindNotReady ErrorKind = "NOT_READY"
	ErrKindInvalid  ErrorKind = "INVALID"
)

// Error is the classified error returned by the contract service.
type Error struct {
	Kind    ErrorKind
	Code    string
	Msg     string
	Context map[string]string
	cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Code)
	if len(e.Msg) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s=%s", k, e.Context[k]))
		}
		msg = fmt.Sprintf("%s (%s)", msg, strings.Join(pairs, ", "))
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches errors by code, so that errors.Is(err, ErrDecryptionMismatch)
// holds for any decorated copy.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrOracleUnreachable      = &Error{Kind: ErrKindTransient, Code: "ORACLE_UNREACHABLE"}
	ErrChainClientUnavailable = &Error{Kind: ErrKindTransient, Code: "CHAIN_CLIENT_UNAVAILABLE"}

	ErrInvalidAttestationSignature = &Error{Kind: ErrKindProtocolViolation, Code: "INVALID_ATTESTATION_SIGNATURE"}
	ErrOutcomeSetMismatch          = &Error{Kind: ErrKindProtocolViolation, Code: "OUTCOME_SET_MISMATCH"}
	ErrUnanticipatedOutcome        = &Error{Kind: ErrKindProtocolViolation, Code: "UNANTICIPATED_OUTCOME"}
	ErrDecryptionMismatch          = &Error{Kind: ErrKindProtocolViolation, Code: "DECRYPTION_MISMATCH"}
	ErrInvalidCounterpartySig      = &Error{Kind: ErrKindProtocolViolation, Code: "INVALID_COUNTERPARTY_SIGNATURE"}
	ErrOracleMalformedResponse     = &Error{Kind: ErrKindProtocolViolation, Code: "ORACLE_MALFORMED_RESPONSE"}
	ErrOracleMismatch              = &Error{Kind: ErrKindProtocolViolation, Code: "ORACLE_MISMATCH"}
	ErrConflictingAttestation      = &Error{Kind: ErrKindProtocolViolation, Code: "CONFLICTING_ATTESTATION"}

	ErrNonceReuse            = &Error{Kind: ErrKindFatal, Code: "NONCE_REUSE"}
	ErrSchemeVersionMismatch = &Error{Kind: ErrKindFatal, Code: "SCHEME_VERSION_MISMATCH"}

	ErrNotYetMature       = &Error{Kind: ErrKindNotReady, Code: "NOT_YET_MATURE"}
	ErrRefundNotAvailable = &Error{Kind: ErrKindNotReady, Code: "REFUND_NOT_AVAILABLE"}
	ErrFundingNotFound    = &Error{Kind: ErrKindNotReady, Code: "FUNDING_NOT_CONFIRMED"}

	ErrContractNotFound = &Error{Kind: ErrKindInvalid, Code: "CONTRACT_NOT_FOUND"}
	ErrEventNotFound    = &Error{Kind: ErrKindInvalid, Code: "EVENT_NOT_FOUND"}
	ErrInvalidStatus    = &Error{Kind: ErrKindInvalid, Code: "INVALID_STATUS"}
	ErrInvalidRequest   = &Error{Kind: ErrKindInvalid, Code: "INVALID_REQUEST"}
)

func newError(base *Error, msg string, cause error, ctx map[string]string) *Error {
	if len(msg) <= 0 && cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Kind:    base.Kind,
		Code:    base.Code,
		Msg:     msg,
		Context: ctx,
		cause:   cause,
	}
}

// KindOf returns the kind of a classified error, ErrKindFatal otherwise.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindFatal
}

func IsTransient(err error) bool {
	return KindOf(err) == ErrKindTransient
}

func IsNotReady(err error) bool {
	return KindOf(err) == ErrKindNotReady
}

// classify maps errors of ports and crypto packages to the service taxonomy.
func classify(err error, ctx map[string]string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}

	var conflict *ports.ConflictingAttestationError
	switch {
	case errors.As(err, &conflict):
		return newError(ErrConflictingAttestation, "", err, ctx)
	case errors.Is(err, ports.ErrOracleUnreachable):
		return newError(ErrOracleUnreachable, "", err, ctx)
	case errors.Is(err, ports.ErrOracleMalformedResponse):
		return newError(ErrOracleMalformedResponse, "", err, ctx)
	case errors.Is(err, ports.ErrEventNotFound):
		return newError(ErrEventNotFound, "", err, ctx)
	case errors.Is(err, ports.ErrNotYetMature):
		return newError(ErrNotYetMature, "", err, ctx)
	case errors.Is(err, ports.ErrChainUnavailable):
		return newError(ErrChainClientUnavailable, "", err, ctx)
	case errors.Is(err, ports.ErrNonceReuse):
		return newError(ErrNonceReuse, "", err, ctx)
	case errors.Is(err, oracle.ErrSchemeVersionMismatch):
		return newError(ErrSchemeVersionMismatch, "", err, ctx)
	case errors.Is(err, oracle.ErrInvalidAttestationSignature),
		errors.Is(err, oracle.ErrEventMismatch),
		errors.Is(err, oracle.ErrInvalidNonce):
		return newError(ErrInvalidAttestationSignature, "", err, ctx)
	case errors.Is(err, adaptor.ErrDecryptionMismatch):
		return newError(ErrDecryptionMismatch, "", err, ctx)
	}
	return err
}
