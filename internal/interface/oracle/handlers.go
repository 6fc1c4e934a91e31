package oracleserver

import (
	"errors"
	"net/http"
	"sort"

	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Error         string `json:"error"`
	SchemeVersion string `json:"scheme_version"`
}

func (s *Service) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.info)
}

func (s *Service) listAnnouncementsHandler(c *gin.Context) {
	list := s.ListAnnouncements()
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].MaturityTime < list[j].MaturityTime
	})
	c.JSON(http.StatusOK, gin.H{
		"announcements":  list,
		"scheme_version": oracle.SchemeVersion,
	})
}

func (s *Service) announcementHandler(c *gin.Context) {
	ann, err := s.GetAnnouncement(c.Param("event_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, ann)
}

func (s *Service) attestationHandler(c *gin.Context) {
	att, err := s.GetAttestation(c.Param("event_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, att)
}

func (s *Service) announceHandler(c *gin.Context) {
	var req AnnounceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithStatus(c, http.StatusBadRequest, err)
		return
	}
	ann, err := s.Announce(req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ann)
}

func (s *Service) attestHandler(c *gin.Context) {
	var req AttestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithStatus(c, http.StatusBadRequest, err)
		return
	}
	att, err := s.Attest(req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, att)
}

func abortWithError(c *gin.Context, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, ErrEventNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrNotYetMature), errors.Is(err, ErrNotYetAttested):
		status = http.StatusTooEarly
	case errors.Is(err, ErrEventExists), errors.Is(err, ErrAlreadyAttested):
		status = http.StatusConflict
	}
	abortWithStatus(c, status, err)
}

func abortWithStatus(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, errorResponse{
		Error:         err.Error(),
		SchemeVersion: oracle.SchemeVersion,
	})
}
