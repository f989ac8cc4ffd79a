package trading

import (
	"strings"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/provider"

	"github.com/shopspring/decimal"
)

// ValidationError lists every rule a request violated.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Violations, "; ")
}

func (e *ValidationError) add(msg string) {
	e.Violations = append(e.Violations, msg)
}

func (e *ValidationError) asError(op string) error {
	if len(e.Violations) == 0 {
		return nil
	}
	return &provider.Error{Kind: provider.KindValidation, Op: op, Message: e.Error(), Err: e}
}

// normalizeOrder upper-cases the enumerations and applies the DAY default.
func normalizeOrder(req models.OrderRequest) models.OrderRequest {
	req.AccountId = strings.TrimSpace(req.AccountId)
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	req.Side = strings.ToUpper(strings.TrimSpace(req.Side))
	req.OrderType = strings.ToUpper(strings.TrimSpace(req.OrderType))
	req.TimeInForce = strings.ToUpper(strings.TrimSpace(req.TimeInForce))
	if req.TimeInForce == "" {
		req.TimeInForce = models.TimeInForceDay
	}
	return req
}

// orderFingerprint identifies the payload of a direct order so an idempotency
// key cannot be reused for a different one. Previewed trades are identified by
// their trade id instead.
func orderFingerprint(req models.OrderRequest) string {
	if req.TradeId != "" {
		return ""
	}
	parts := []string{req.Symbol, req.Side, req.OrderType, req.TimeInForce, req.Quantity.String()}
	for _, price := range []*decimal.Decimal{req.LimitPrice, req.StopPrice} {
		if price == nil {
			parts = append(parts, "")
			continue
		}
		parts = append(parts, price.String())
	}
	return strings.Join(parts, "|")
}

func validTimeInForce(tif string) bool {
	switch tif {
	case models.TimeInForceDay, models.TimeInForceGTC, models.TimeInForceFOK, models.TimeInForceIOC:
		return true
	}
	return false
}

// validateOrder checks a draft order without calling any provider.
func validateOrder(req models.OrderRequest) error {
	verr := &ValidationError{}
	if req.AccountId == "" {
		verr.add("accountId is required")
	}
	if req.Symbol == "" {
		verr.add("symbol is required")
	}
	if req.Side != models.SideBuy && req.Side != models.SideSell {
		verr.add("side must be BUY or SELL")
	}
	if !req.Quantity.IsPositive() {
		verr.add("quantity must be > 0")
	}
	switch req.OrderType {
	case models.OrderTypeMarket:
		if req.LimitPrice != nil {
			verr.add("limitPrice is only allowed for LIMIT orders")
		}
	case models.OrderTypeLimit:
		if req.LimitPrice == nil {
			verr.add("limitPrice is required for LIMIT orders")
		} else if !req.LimitPrice.IsPositive() {
			verr.add("limitPrice must be > 0")
		}
	default:
		verr.add("orderType must be MARKET or LIMIT")
	}
	if !validTimeInForce(req.TimeInForce) {
		verr.add("timeInForce must be one of DAY, GTC, FOK, IOC")
	}
	if req.StopPrice != nil {
		verr.add("stopPrice is not supported")
	}
	return verr.asError("validate_order")
}

// validateReplace checks a replacement after defaults were filled in.
func validateReplace(req models.ReplaceRequest) error {
	verr := &ValidationError{}
	if req.AccountId == "" {
		verr.add("accountId is required")
	}
	if req.OrderId == "" {
		verr.add("orderId is required")
	}
	if !req.Quantity.IsPositive() {
		verr.add("quantity must be > 0")
	}
	switch req.OrderType {
	case models.OrderTypeMarket:
		if req.LimitPrice != nil {
			verr.add("limitPrice is only allowed for LIMIT orders")
		}
	case models.OrderTypeLimit:
		if req.LimitPrice == nil {
			verr.add("limitPrice is required for LIMIT orders")
		} else if !req.LimitPrice.IsPositive() {
			verr.add("limitPrice must be > 0")
		}
	default:
		verr.add("orderType must be MARKET or LIMIT")
	}
	if !validTimeInForce(req.TimeInForce) {
		verr.add("timeInForce must be one of DAY, GTC, FOK, IOC")
	}
	return verr.asError("validate_replace")
}
