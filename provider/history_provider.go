package provider

import (
	"context"
	"net/url"
	"strconv"

	"github.com/Digital-Creators-Team/slot-progressives/config"
	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/Digital-Creators-Team/slot-progressives/httpclient"
	"github.com/Digital-Creators-Team/slot-progressives/logging"
	"github.com/Digital-Creators-Team/slot-progressives/pkg/providers"
	"github.com/Digital-Creators-Team/slot-progressives/types"
	"github.com/rs/zerolog"
)

const (
	jackpotsPath = "/jackpots"
	historyRetry = 2
	// idempotencyHeader lets the history service drop retried appends of the same transaction.
	idempotencyHeader = "Idempotency-Key"
	defaultPageSize   = 20
)

// JackpotHistoryPage is one page of recorded jackpot wins.
type JackpotHistoryPage struct {
	Items []providers.JackpotInfo `json:"items"`
	Total int                     `json:"total"`
}

// HistoryQuery filters the jackpot history. Zero fields are not sent.
type HistoryQuery struct {
	GameID   int
	DeviceID int
	Offset   int
	Limit    int
}

// HistoryProvider implements providers.GameHistory against the game history service
type HistoryProvider struct {
	client *httpclient.Client
	logger zerolog.Logger
}

// NewHistoryProvider creates a history provider. Without a base URL every append is logged and dropped.
func NewHistoryProvider(cfg *config.Config, logger zerolog.Logger) *HistoryProvider {
	svc := cfg.ExternalServices.HistoryService
	p := &HistoryProvider{
		logger: logging.WithComponent(logger, "history_provider"),
	}
	if svc.BaseURL != "" {
		p.client = httpclient.New(httpclient.Config{
			BaseURL:    svc.BaseURL,
			Timeout:    svc.Timeout,
			Logger:     logger,
			MaxRetries: historyRetry,
		})
	}
	return p
}

// AppendJackpotInfo records a committed progressive win
func (p *HistoryProvider) AppendJackpotInfo(ctx context.Context, info *providers.JackpotInfo) error {
	log := logging.WithTransaction(p.logger, info.TransactionID)
	if p.client == nil {
		log.Warn().Int("device_id", info.DeviceID).Int64("amount", info.Amount).
			Msg("History service not configured, skipping jackpot record")
		return nil
	}

	headers := map[string]string{idempotencyHeader: "jackpot-" + strconv.FormatInt(info.TransactionID, 10)}
	var result types.ServiceResponse[any]
	if err := p.client.PostJSON(ctx, jackpotsPath, info, headers, &result); err != nil {
		log.Error().Err(err).Msg("Failed to append jackpot info")
		return err
	}
	if !result.IsSuccess {
		return serviceError(result.Error)
	}
	log.Info().Int("device_id", info.DeviceID).Int64("amount", info.Amount).Msg("Jackpot info recorded")
	return nil
}

// JackpotHistory lists recorded wins, newest first.
func (p *HistoryProvider) JackpotHistory(ctx context.Context, query HistoryQuery) (*JackpotHistoryPage, error) {
	if p.client == nil {
		return &JackpotHistoryPage{Items: []providers.JackpotInfo{}}, nil
	}

	var result types.ServiceResponse[JackpotHistoryPage]
	if err := p.client.GetJSON(ctx, jackpotsPath, query.values(), &result); err != nil {
		return nil, err
	}
	if !result.IsSuccess {
		return nil, serviceError(result.Error)
	}
	return &result.Data, nil
}

func (q HistoryQuery) values() url.Values {
	params := url.Values{}
	if q.GameID != 0 {
		params.Set("game_id", strconv.Itoa(q.GameID))
	}
	if q.DeviceID != 0 {
		params.Set("device_id", strconv.Itoa(q.DeviceID))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	params.Set("offset", strconv.Itoa(q.Offset))
	params.Set("limit", strconv.Itoa(limit))
	return params
}

func serviceError(detail types.ErrorDetail) error {
	msg := detail.ErrorMessage
	if msg == "" {
		msg = "unknown error"
	}
	return apperrors.NewWithDebug(apperrors.ErrServiceUnavailable, "history service error", msg)
}
