package server

import (
	"strings"

	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/Digital-Creators-Team/slot-progressives/provider"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// GameHandler serves the game runtime's progressive calls.
//
// Flow: HTTP Request -> gameRoutes -> GameHandler -> GameService
//
// The handler only binds and validates requests. Pool arithmetic, hit selection and
// transaction bookkeeping live behind GameService.
type GameHandler struct {
	game     GameService
	history  HistoryReader
	disabler DisableStatus
	logger   zerolog.Logger
}

// NewGameHandler creates a new game handler
func NewGameHandler(services Services, logger zerolog.Logger) *GameHandler {
	return &GameHandler{
		game:     services.Game,
		history:  services.History,
		disabler: services.Disabler,
		logger:   logger.With().Str("handler", "game").Logger(),
	}
}

// ActivateRequest selects the game configuration whose levels become active.
type ActivateRequest struct {
	GameID       int    `json:"gameId" binding:"required"`
	Denomination int64  `json:"denomination" binding:"required,gt=0"`
	BetOption    string `json:"betOption"`
}

// WagerRequest reports one wager.
type WagerRequest struct {
	PackName string `json:"packName" binding:"required"`
	Wager    int64  `json:"wager" binding:"gte=0"`
	Ante     int64  `json:"ante" binding:"gte=0"`
	// Wagers optionally sets per-device wager credits before contributing.
	Wagers map[int]int64 `json:"wagers,omitempty"`
}

// WagerResponse lists the levels a mystery draw selected, by pack name.
type WagerResponse struct {
	Hits map[string][]int `json:"hits"`
}

// TriggerRequest reports levels won by game outcome.
type TriggerRequest struct {
	PackName string `json:"packName" binding:"required"`
	LevelIDs []int  `json:"levelIds" binding:"required,min=1"`
}

// TriggerResponse maps level id to the transaction id opened for it.
type TriggerResponse struct {
	Transactions map[int]int64 `json:"transactions"`
}

// CommitRequest acknowledges paid transactions.
type CommitRequest struct {
	TransactionIDs []int64 `json:"transactionIds" binding:"required,min=1"`
}

// CommitResponse lists the transactions that could not be committed.
type CommitResponse struct {
	Failed []int64 `json:"failed"`
}

// HistoryQueryParams are the query parameters of the history route.
type HistoryQueryParams struct {
	GameID   int `form:"gameId"`
	DeviceID int `form:"deviceId"`
	Offset   int `form:"offset" binding:"gte=0"`
	Limit    int `form:"limit" binding:"gte=0,lte=100"`
}

// Activate enables the levels configured for a game, denomination and bet option.
// Route: POST /api/game/activate
func (h *GameHandler) Activate(c *gin.Context) {
	var req ActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error().Err(err).Msg("Failed to parse activate request")
		BadRequest(c, apperrors.New(apperrors.ErrInvalidRequest, "Invalid request payload"))
		return
	}
	if h.rejectDisabled(c) {
		return
	}

	levels, err := h.game.ActivateProgressiveLevels(c.Request.Context(), req.GameID, req.Denomination, req.BetOption)
	if err != nil {
		h.logger.Error().Err(err).
			Int("game_id", req.GameID).
			Int64("denomination", req.Denomination).
			Msg("Failed to activate progressive levels")
		HandleAppError(c, err)
		return
	}

	h.logger.Info().
		Int("game_id", req.GameID).
		Int64("denomination", req.Denomination).
		Str("bet_option", req.BetOption).
		Int("levels", len(levels)).
		Msg("Progressive levels activated")

	OK(c, levelValues(levels))
}

// Deactivate disables the active levels.
// Route: POST /api/game/deactivate
func (h *GameHandler) Deactivate(c *gin.Context) {
	if err := h.game.DeactivateProgressiveLevels(c.Request.Context()); err != nil {
		h.logger.Error().Err(err).Msg("Failed to deactivate progressive levels")
		HandleAppError(c, err)
		return
	}
	NoContent(c)
}

// GetLevels returns the displayed values of the active levels.
// Route: GET /api/game/levels
func (h *GameHandler) GetLevels(c *gin.Context) {
	levels, err := h.game.GetActiveProgressiveLevels()
	if err != nil {
		HandleAppError(c, err)
		return
	}
	OK(c, levelValues(levels))
}

// Wager contributes a wager to a pack, then runs the mystery draw.
// Route: POST /api/game/wager
func (h *GameHandler) Wager(c *gin.Context) {
	var req WagerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error().Err(err).Msg("Failed to parse wager request")
		BadRequest(c, apperrors.New(apperrors.ErrInvalidRequest, "Invalid request payload"))
		return
	}
	if req.Wager+req.Ante == 0 {
		BadRequest(c, apperrors.New(apperrors.ErrInvalidRequest, "Invalid wager: wager plus ante must be greater than 0"))
		return
	}
	if h.rejectDisabled(c) {
		return
	}

	ctx := c.Request.Context()
	if len(req.Wagers) > 0 {
		if err := h.game.SetProgressiveWagerAmounts(req.Wagers); err != nil {
			HandleAppError(c, err)
			return
		}
	}
	if err := h.game.IncrementProgressiveLevelPack(ctx, req.PackName, req.Wager, req.Ante); err != nil {
		h.logger.Error().Err(err).
			Str("pack_name", req.PackName).
			Int64("wager", req.Wager).
			Int64("ante", req.Ante).
			Msg("Failed to increment progressive pack")
		HandleAppError(c, err)
		return
	}

	hits, err := h.game.CheckMysteryJackpot(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to check mystery jackpot")
		HandleAppError(c, err)
		return
	}
	if hits == nil {
		hits = map[string][]int{}
	}
	OK(c, WagerResponse{Hits: hits})
}

// Trigger opens transactions for levels won by game outcome.
// Route: POST /api/game/trigger
func (h *GameHandler) Trigger(c *gin.Context) {
	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error().Err(err).Msg("Failed to parse trigger request")
		BadRequest(c, apperrors.New(apperrors.ErrInvalidRequest, "Invalid request payload"))
		return
	}

	txs, err := h.game.TriggerProgressiveLevel(c.Request.Context(), req.PackName, req.LevelIDs)
	if err != nil {
		h.logger.Error().Err(err).
			Str("pack_name", req.PackName).
			Ints("level_ids", req.LevelIDs).
			Msg("Failed to trigger progressive levels")
		HandleAppError(c, err)
		return
	}

	h.logger.Info().
		Str("pack_name", req.PackName).
		Ints("level_ids", req.LevelIDs).
		Int("transactions", len(txs)).
		Msg("Progressive levels triggered")

	OK(c, TriggerResponse{Transactions: txs})
}

// Commit acknowledges payment of awarded transactions.
// Route: POST /api/game/commit
func (h *GameHandler) Commit(c *gin.Context) {
	var req CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error().Err(err).Msg("Failed to parse commit request")
		BadRequest(c, apperrors.New(apperrors.ErrInvalidRequest, "Invalid request payload"))
		return
	}

	failed, err := h.game.CommitProgressiveWin(c.Request.Context(), req.TransactionIDs)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to commit progressive wins")
		HandleAppError(c, err)
		return
	}
	if len(failed) > 0 {
		h.logger.Warn().Interface("failed", failed).Msg("Some progressive wins were not committed")
	}
	OK(c, CommitResponse{Failed: lo.Ternary(failed == nil, []int64{}, failed)})
}

// GetTransactions returns the transactions that are not committed yet.
// Route: GET /api/game/transactions
func (h *GameHandler) GetTransactions(c *gin.Context) {
	OK(c, h.game.PendingTransactions())
}

// GetHistory returns one page of recorded jackpot wins.
// Route: GET /api/game/history
func (h *GameHandler) GetHistory(c *gin.Context) {
	var params HistoryQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		BadRequest(c, apperrors.New(apperrors.ErrInvalidRequest, "Invalid query parameters"))
		return
	}
	if h.history == nil {
		ServiceUnavailable(c, apperrors.New(apperrors.ErrServiceUnavailable, "History service not configured"))
		return
	}

	page, err := h.history.JackpotHistory(c.Request.Context(), provider.HistoryQuery{
		GameID:   params.GameID,
		DeviceID: params.DeviceID,
		Offset:   params.Offset,
		Limit:    params.Limit,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read jackpot history")
		HandleAppError(c, err)
		return
	}
	OK(c, page)
}

// rejectDisabled answers 503 while a disable reason is active.
func (h *GameHandler) rejectDisabled(c *gin.Context) bool {
	if h.disabler == nil || !h.disabler.Disabled() {
		return false
	}
	messages := lo.Map(h.disabler.Reasons(), func(r provider.DisableReason, _ int) string { return r.Message })
	ServiceUnavailable(c, apperrors.New(apperrors.ErrServiceUnavailable, "Play disabled: "+strings.Join(messages, "; ")))
	return true
}
