package handlers

import (
	"github.com/brandforge/metering/internal/app/service/billing"
	"github.com/brandforge/metering/internal/app/service/statistics"
	"github.com/brandforge/metering/internal/models"
	"github.com/brandforge/metering/pkg/response"
	"github.com/brandforge/metering/pkg/types"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

// RespSubscription wraps a subscription record in the standard envelope.
type RespSubscription struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    models.Subscription      `json:"data"`
}

// RespUsageSnapshot wraps a usage snapshot in the standard envelope.
type RespUsageSnapshot struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    types.UsageSnapshot      `json:"data"`
}

// RespDecision wraps a denied quota decision in the standard envelope.
type RespDecision struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    types.Decision           `json:"data"`
}

// RespMeteringStatistic wraps MeteringStatisticResponse in the standard envelope.
type RespMeteringStatistic struct {
	Code    response.APIResponseCode             `json:"code"`
	Message string                               `json:"message"`
	Data    statistics.MeteringStatisticResponse `json:"data"`
}

// RespConvertResult wraps a trial conversion sweep result in the standard envelope.
type RespConvertResult struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    billing.ConvertResult    `json:"data"`
}
