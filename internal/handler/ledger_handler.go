package handler

import (
	"errors"
	"strconv"
	"strings"

	"trustchain/internal/ledger"
	"trustchain/internal/logger"
	"trustchain/internal/reputation"

	"github.com/gin-gonic/gin"
)

// LedgerHandler serves mining, verification and reputation reads
type LedgerHandler struct {
	ledger  *ledger.Ledger
	service *reputation.Service
	log     *logger.Logger
}

// NewLedgerHandler creates the handler
func NewLedgerHandler(lg *ledger.Ledger, service *reputation.Service, log *logger.Logger) *LedgerHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &LedgerHandler{ledger: lg, service: service, log: log}
}

// MineRequest is the body of POST /users/:id/blocks
type MineRequest struct {
	ActionType string                 `json:"action_type" binding:"required"`
	Points     int64                  `json:"points"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// AwardRequest is the body of POST /users/:id/awards
type AwardRequest struct {
	Trigger string `json:"trigger" binding:"required"`
	RefID   string `json:"ref_id"`
	Rating  int    `json:"rating"`
}

// Mine appends a block to the user's chain
// @Router /api/v1/users/{id}/blocks [post]
func (h *LedgerHandler) Mine(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))
	var req MineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}

	hash, err := h.ledger.Mine(c.Request.Context(), userID, req.ActionType, req.Points, req.Metadata)
	if err != nil {
		h.mineError(c, err)
		return
	}
	Created(c, gin.H{"current_hash": hash})
}

// Award records an application event on the user's chain
// @Router /api/v1/users/{id}/awards [post]
func (h *LedgerHandler) Award(c *gin.Context) {
	var req AwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}

	hash, awarded, err := h.service.Award(c.Request.Context(), reputation.Award{
		Trigger: reputation.Trigger(req.Trigger),
		UserID:  strings.TrimSpace(c.Param("id")),
		RefID:   req.RefID,
		Rating:  req.Rating,
	})
	if err != nil {
		if errors.Is(err, reputation.ErrUnknownTrigger) {
			BadRequest(c, err.Error())
			return
		}
		h.mineError(c, err)
		return
	}
	if !awarded {
		Success(c, gin.H{"awarded": false})
		return
	}
	Created(c, gin.H{"awarded": true, "current_hash": hash})
}

// Chain returns the trust chain, newest block first
// @Router /api/v1/users/{id}/chain [get]
func (h *LedgerHandler) Chain(c *gin.Context) {
	chain, err := h.service.TrustChain(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.log.Errorw("load trust chain failed", "user_id", c.Param("id"), "error", err)
		InternalError(c, "failed to load reputation history")
		return
	}
	Success(c, chain)
}

// Verify checks the integrity of the user's chain
// @Router /api/v1/users/{id}/verify [get]
func (h *LedgerHandler) Verify(c *gin.Context) {
	v, err := h.ledger.Inspect(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.log.Errorw("verify chain failed", "user_id", c.Param("id"), "error", err)
		InternalError(c, "failed to verify reputation chain")
		return
	}
	Success(c, v)
}

// Score returns the user's points and tier
// @Router /api/v1/users/{id}/score [get]
func (h *LedgerHandler) Score(c *gin.Context) {
	standing, err := h.service.Standing(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.log.Errorw("load score failed", "user_id", c.Param("id"), "error", err)
		InternalError(c, "failed to load reputation score")
		return
	}
	Success(c, standing)
}

// Leaderboard returns the top users by score
// @Param limit query int false "rows" default(10)
// @Router /api/v1/leaderboard [get]
func (h *LedgerHandler) Leaderboard(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			BadRequest(c, "invalid limit")
			return
		}
		limit = n
	}

	board, err := h.service.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		h.log.Errorw("load leaderboard failed", "error", err)
		InternalError(c, "failed to load leaderboard")
		return
	}
	Success(c, board)
}

func (h *LedgerHandler) mineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidBlock):
		BadRequest(c, err.Error())
	case errors.Is(err, ledger.ErrForkDetected):
		Conflict(c, "reputation chain is busy, try again")
	default:
		InternalError(c, "reputation could not be recorded this time")
	}
}
