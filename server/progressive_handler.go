package server

import (
	"strconv"

	"github.com/Digital-Creators-Team/slot-progressives/auth"
	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/Digital-Creators-Team/slot-progressives/pkg/progressive"
	"github.com/Digital-Creators-Team/slot-progressives/provider"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// ProgressiveHandler serves the operator configuration routes.
type ProgressiveHandler struct {
	config   ConfigService
	shared   SharedPools
	linked   LinkedPools
	disabler DisableStatus
	logger   zerolog.Logger
}

// NewProgressiveHandler creates a new operator handler
func NewProgressiveHandler(services Services, logger zerolog.Logger) *ProgressiveHandler {
	return &ProgressiveHandler{
		config:   services.Config,
		shared:   services.Shared,
		linked:   services.Linked,
		disabler: services.Disabler,
		logger:   logger.With().Str("handler", "progressive").Logger(),
	}
}

// AssignRequest attaches levels to pools.
type AssignRequest struct {
	Assignments []progressive.LevelAssignment `json:"assignments" binding:"required,min=1,dive"`
}

// LockRequest freezes the configuration of levels.
type LockRequest struct {
	DeviceIDs []int `json:"deviceIds" binding:"required,min=1"`
}

// FaultsResponse lists active faults and the reasons play is disabled.
type FaultsResponse struct {
	Disabled bool                     `json:"disabled"`
	Faults   []progressive.Fault      `json:"faults"`
	Reasons  []provider.DisableReason `json:"reasons"`
}

// ViewLevels returns every configured level.
// Route: GET /api/progressives/levels
func (h *ProgressiveHandler) ViewLevels(c *gin.Context) {
	OK(c, h.config.ViewProgressiveLevels())
}

// ViewLevel returns one level by device id.
// Route: GET /api/progressives/levels/:deviceId
func (h *ProgressiveHandler) ViewLevel(c *gin.Context) {
	deviceID, err := strconv.Atoi(c.Param("deviceId"))
	if err != nil {
		BadRequest(c, apperrors.New(apperrors.ErrInvalidRequest, "Invalid device id"))
		return
	}
	level, ok := lo.Find(h.config.ViewProgressiveLevels(), func(l progressive.ProgressiveLevel) bool {
		return l.DeviceID == deviceID
	})
	if !ok {
		NotFound(c, apperrors.Newf(apperrors.ErrLevelNotFound, "level %d not found", deviceID))
		return
	}
	OK(c, level)
}

// AssignLevels attaches levels to shared or linked pools.
// Route: POST /api/progressives/levels/assign
func (h *ProgressiveHandler) AssignLevels(c *gin.Context) {
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error().Err(err).Msg("Failed to parse assign request")
		BadRequest(c, apperrors.New(apperrors.ErrInvalidRequest, "Invalid request payload"))
		return
	}

	levels, err := h.config.AssignLevelsToGame(c.Request.Context(), req.Assignments)
	if err != nil {
		h.logger.Error().Err(err).Int("assignments", len(req.Assignments)).Msg("Failed to assign levels")
		HandleAppError(c, err)
		return
	}

	operatorID, _ := auth.GetOperatorID(c)
	h.logger.Info().
		Str("operator_id", operatorID).
		Int("levels", len(levels)).
		Msg("Levels assigned")

	OK(c, levels)
}

// LockLevels freezes the configuration of levels.
// Route: POST /api/progressives/levels/lock
func (h *ProgressiveHandler) LockLevels(c *gin.Context) {
	var req LockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, apperrors.New(apperrors.ErrInvalidRequest, "Invalid request payload"))
		return
	}
	if err := h.config.LockProgressiveLevels(c.Request.Context(), req.DeviceIDs); err != nil {
		h.logger.Error().Err(err).Ints("device_ids", req.DeviceIDs).Msg("Failed to lock levels")
		HandleAppError(c, err)
		return
	}
	NoContent(c)
}

// ValidateLevels recomputes level error flags and returns the faulty levels.
// Route: POST /api/progressives/levels/validate
func (h *ProgressiveHandler) ValidateLevels(c *gin.Context) {
	faulty, err := h.config.ValidateLevels(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to validate levels")
		HandleAppError(c, err)
		return
	}
	OK(c, lo.Ternary(faulty == nil, []progressive.ProgressiveLevel{}, faulty))
}

// ViewSharedLevels returns every shared pool.
// Route: GET /api/progressives/shared
func (h *ProgressiveHandler) ViewSharedLevels(c *gin.Context) {
	OK(c, h.shared.ViewSharedSapLevels())
}

// ViewSharedLevel returns one shared pool.
// Route: GET /api/progressives/shared/:id
func (h *ProgressiveHandler) ViewSharedLevel(c *gin.Context) {
	level, err := h.shared.ViewSharedSapLevel(c.Param("id"))
	if err != nil {
		HandleAppError(c, err)
		return
	}
	OK(c, level)
}

// AddSharedLevel registers a shared pool.
// Route: POST /api/progressives/shared
func (h *ProgressiveHandler) AddSharedLevel(c *gin.Context) {
	var req progressive.SharedSapLevel
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error().Err(err).Msg("Failed to parse shared pool")
		BadRequest(c, apperrors.New(apperrors.ErrInvalidRequest, "Invalid request payload"))
		return
	}
	level, err := h.shared.AddSharedSapLevel(c.Request.Context(), req)
	if err != nil {
		h.logger.Error().Err(err).Str("name", req.Name).Msg("Failed to add shared pool")
		HandleAppError(c, err)
		return
	}
	Created(c, level)
}

// UpdateSharedLevel replaces a shared pool's configuration.
// Route: PUT /api/progressives/shared/:id
func (h *ProgressiveHandler) UpdateSharedLevel(c *gin.Context) {
	var req progressive.SharedSapLevel
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, apperrors.New(apperrors.ErrInvalidRequest, "Invalid request payload"))
		return
	}
	req.ID = c.Param("id")

	level, err := h.shared.UpdateSharedSapLevel(c.Request.Context(), req)
	if err != nil {
		h.logger.Error().Err(err).Str("shared_id", req.ID).Msg("Failed to update shared pool")
		HandleAppError(c, err)
		return
	}
	OK(c, level)
}

// RemoveSharedLevel deletes a shared pool.
// Route: DELETE /api/progressives/shared/:id
func (h *ProgressiveHandler) RemoveSharedLevel(c *gin.Context) {
	if err := h.shared.RemoveSharedSapLevel(c.Request.Context(), c.Param("id")); err != nil {
		h.logger.Error().Err(err).Str("shared_id", c.Param("id")).Msg("Failed to remove shared pool")
		HandleAppError(c, err)
		return
	}
	NoContent(c)
}

// ViewLinkedLevels returns every linked level.
// Route: GET /api/progressives/linked
func (h *ProgressiveHandler) ViewLinkedLevels(c *gin.Context) {
	OK(c, h.linked.ViewLinkedProgressiveLevels())
}

// ViewLinkedLevel returns one linked level.
// Route: GET /api/progressives/linked/:name
func (h *ProgressiveHandler) ViewLinkedLevel(c *gin.Context) {
	level, err := h.linked.ViewLinkedProgressiveLevel(c.Param("name"))
	if err != nil {
		HandleAppError(c, err)
		return
	}
	OK(c, level)
}

// AddLinkedLevels registers host-owned levels by hand, for hosts that do not announce them.
// Route: POST /api/progressives/linked
func (h *ProgressiveHandler) AddLinkedLevels(c *gin.Context) {
	var req []progressive.LinkedProgressiveLevel
	if err := c.ShouldBindJSON(&req); err != nil || len(req) == 0 {
		BadRequest(c, apperrors.New(apperrors.ErrInvalidRequest, "Invalid request payload"))
		return
	}
	if err := h.linked.AddLinkedProgressiveLevels(c.Request.Context(), req); err != nil {
		h.logger.Error().Err(err).Int("levels", len(req)).Msg("Failed to add linked levels")
		HandleAppError(c, err)
		return
	}
	Created(c, lo.Map(req, func(l progressive.LinkedProgressiveLevel, _ int) string { return l.LevelName }))
}

// RemoveLinkedLevel deletes a linked level.
// Route: DELETE /api/progressives/linked/:name
func (h *ProgressiveHandler) RemoveLinkedLevel(c *gin.Context) {
	if err := h.linked.RemoveLinkedProgressiveLevels(c.Request.Context(), []string{c.Param("name")}); err != nil {
		h.logger.Error().Err(err).Str("level_name", c.Param("name")).Msg("Failed to remove linked level")
		HandleAppError(c, err)
		return
	}
	NoContent(c)
}

// ViewFaults returns the active faults and disable reasons.
// Route: GET /api/progressives/faults
func (h *ProgressiveHandler) ViewFaults(c *gin.Context) {
	faults := h.config.ActiveFaults()
	resp := FaultsResponse{
		Faults:  lo.Ternary(faults == nil, []progressive.Fault{}, faults),
		Reasons: []provider.DisableReason{},
	}
	if h.disabler != nil {
		resp.Disabled = h.disabler.Disabled()
		if reasons := h.disabler.Reasons(); len(reasons) > 0 {
			resp.Reasons = reasons
		}
	}
	OK(c, resp)
}

// ClearFault acknowledges a fault.
// Route: DELETE /api/progressives/faults/:key
func (h *ProgressiveHandler) ClearFault(c *gin.Context) {
	key := c.Param("key")
	if err := h.config.ClearFault(key); err != nil {
		HandleAppError(c, err)
		return
	}
	operatorID, _ := auth.GetOperatorID(c)
	h.logger.Info().Str("operator_id", operatorID).Str("fault", key).Msg("Fault cleared")
	NoContent(c)
}
