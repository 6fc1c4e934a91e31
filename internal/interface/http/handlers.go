package httpservice

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ark-network/dlc/internal/core/application"
	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/ark-network/dlc/internal/core/ports"
	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type handler struct {
	svc    application.Service
	oracle ports.OracleClient
}

// NewRouter exposes the operator API of the daemon.
func NewRouter(svc application.Service, oracleClient ports.OracleClient) http.Handler {
	h := &handler{svc, oracleClient}

	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/v1")
	v1.GET("/contracts", h.listContracts)
	v1.GET("/contracts/:id", h.getContract)
	v1.POST("/contracts/:id/execute", h.executeContract)
	v1.POST("/contracts/:id/refund", h.refundContract)
	v1.POST("/contracts/:id/reconcile", h.reconcileSettlement)
	v1.GET("/oracle/info", h.oracleInfo)
	v1.GET("/oracle/announcements/:event_id", h.oracleAnnouncement)
	return router
}

type contractInfo struct {
	Id                   string               `json:"id"`
	Role                 string               `json:"role"`
	Status               string               `json:"status"`
	OracleEndpoint       string               `json:"oracle_endpoint"`
	EventId              string               `json:"event_id"`
	Outcomes             []string             `json:"outcomes"`
	RefundLocktime       int64                `json:"refund_locktime"`
	FundingTxid          string               `json:"funding_txid,omitempty"`
	FundingConfirmations int64                `json:"funding_confirmations"`
	SettlementTxid       string               `json:"settlement_txid,omitempty"`
	SettlementConfirmed  bool                 `json:"settlement_confirmed"`
	Outcome              string               `json:"outcome,omitempty"`
	Conflicts            []oracle.Attestation `json:"conflicts,omitempty"`
	Failure              *failureInfo         `json:"failure,omitempty"`
	CreatedAt            int64                `json:"created_at"`
	UpdatedAt            int64                `json:"updated_at"`
}

type failureInfo struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type errorResponse struct {
	Kind    string            `json:"kind"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Context map[string]string `json:"context,omitempty"`
}

func toContractInfo(c domain.Contract) contractInfo {
	info := contractInfo{
		Id:                   c.Id,
		Role:                 c.Role.String(),
		Status:               c.Status.String(),
		OracleEndpoint:       c.Offer.OracleEndpoint,
		EventId:              c.Offer.EventId,
		Outcomes:             c.Offer.Outcomes(),
		RefundLocktime:       c.Offer.RefundLocktime,
		FundingTxid:          c.Funding.Txid,
		FundingConfirmations: c.FundingConfirmations,
		SettlementTxid:       c.SettlementTxid,
		SettlementConfirmed:  c.SettlementConfirmed,
		Conflicts:            c.Conflicts,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}
	if c.Attestation != nil {
		info.Outcome = c.Attestation.Outcome
	}
	if c.Failure != nil {
		info.Failure = &failureInfo{c.Failure.Code, c.Failure.Reason}
	}
	return info
}

func (h *handler) listContracts(c *gin.Context) {
	statuses := make([]domain.ContractStatus, 0)
	if query := c.Query("status"); len(query) > 0 {
		for _, str := range strings.Split(query, ",") {
			status, err := domain.ParseContractStatus(strings.ToUpper(strings.TrimSpace(str)))
			if err != nil {
				abortWithError(c, err)
				return
			}
			statuses = append(statuses, status)
		}
	}

	contracts, err := h.svc.ListContracts(c.Request.Context(), statuses...)
	if err != nil {
		abortWithError(c, err)
		return
	}
	list := make([]contractInfo, 0, len(contracts))
	for _, contract := range contracts {
		list = append(list, toContractInfo(contract))
	}
	c.JSON(http.StatusOK, gin.H{"contracts": list})
}

func (h *handler) getContract(c *gin.Context) {
	contract, err := h.svc.GetContract(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toContractInfo(*contract))
}

func (h *handler) executeContract(c *gin.Context) {
	var attestation oracle.Attestation
	if err := c.ShouldBindJSON(&attestation); err != nil {
		abortWithError(c, err)
		return
	}
	contract, err := h.svc.ExecuteContract(c.Request.Context(), c.Param("id"), attestation)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toContractInfo(*contract))
}

func (h *handler) refundContract(c *gin.Context) {
	contract, err := h.svc.RefundContract(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toContractInfo(*contract))
}

func (h *handler) reconcileSettlement(c *gin.Context) {
	contract, err := h.svc.ReconcileSettlement(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toContractInfo(*contract))
}

func (h *handler) oracleInfo(c *gin.Context) {
	endpoint := c.Query("endpoint")
	if len(endpoint) <= 0 {
		abortWithError(c, errMissingEndpoint)
		return
	}
	info, err := h.oracle.GetOracleInfo(c.Request.Context(), endpoint)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *handler) oracleAnnouncement(c *gin.Context) {
	endpoint := c.Query("endpoint")
	if len(endpoint) <= 0 {
		abortWithError(c, errMissingEndpoint)
		return
	}
	ann, err := h.oracle.GetAnnouncement(c.Request.Context(), endpoint, c.Param("event_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, ann)
}

var errMissingEndpoint = errors.New("missing oracle endpoint")

func abortWithError(c *gin.Context, err error) {
	var appErr *application.Error
	if !errors.As(err, &appErr) {
		switch {
		case errors.Is(err, ports.ErrEventNotFound):
			appErr = application.ErrEventNotFound
		case errors.Is(err, ports.ErrNotYetMature):
			appErr = application.ErrNotYetMature
		case errors.Is(err, ports.ErrOracleUnreachable):
			appErr = application.ErrOracleUnreachable
		case errors.Is(err, ports.ErrOracleMalformedResponse):
			appErr = application.ErrOracleMalformedResponse
		case errors.Is(err, oracle.ErrSchemeVersionMismatch):
			appErr = application.ErrSchemeVersionMismatch
		default:
			appErr = application.ErrInvalidRequest
		}
	}

	status := http.StatusBadRequest
	switch appErr.Kind {
	case application.ErrKindInvalid:
		if appErr.Code == application.ErrContractNotFound.Code ||
			appErr.Code == application.ErrEventNotFound.Code {
			status = http.StatusNotFound
		}
		if appErr.Code == application.ErrInvalidStatus.Code {
			status = http.StatusConflict
		}
	case application.ErrKindNotReady:
		status = http.StatusTooEarly
	case application.ErrKindTransient:
		status = http.StatusServiceUnavailable
	case application.ErrKindProtocolViolation:
		status = http.StatusUnprocessableEntity
	case application.ErrKindFatal:
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		log.WithError(err).Warn("request failed")
	}

	c.AbortWithStatusJSON(status, errorResponse{
		Kind:    string(appErr.Kind),
		Code:    appErr.Code,
		Message: err.Error(),
		Context: appErr.Context,
	})
}
