package brokerage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/provider"
	"unified-portfolio-go/internal/provider/httpapi"

	"github.com/shopspring/decimal"
)

func idempotencyHeader(key string) http.Header {
	h := http.Header{}
	if key != "" {
		h.Set("Idempotency-Key", key)
	}
	return h
}

// ResolveInstrument finds the brokerage's identifier for symbol in the account.
func (a *Adapter) ResolveInstrument(ctx context.Context, cred provider.Credential, accountId, symbol string) (*models.Instrument, error) {
	var matches []symbolRef
	err := a.userCall(ctx, cred, httpapi.Request{
		Op:     "search_symbols",
		Method: http.MethodPost,
		Path:   accountPath(accountId, "/symbols"),
		Body:   map[string]string{"substring": symbol},
	}, &matches)
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		if strings.EqualFold(m.Symbol, symbol) {
			cur := strings.ToUpper(m.Currency.Code)
			if cur == "" {
				cur = "USD"
			}
			return &models.Instrument{Id: m.Id, Symbol: m.Symbol, Description: m.Description, Currency: cur}, nil
		}
	}
	return nil, &provider.Error{
		Kind:     provider.KindValidation,
		Provider: models.ProviderBrokerage,
		Op:       "search_symbols",
		Message:  fmt.Sprintf("symbol %s is not tradable in account %s", symbol, accountId),
	}
}

func newOrderBody(req models.OrderRequest, instrument models.Instrument) orderBody {
	return orderBody{
		AccountId:         req.AccountId,
		Action:            req.Side,
		UniversalSymbolId: instrument.Id,
		OrderType:         req.OrderType,
		TimeInForce:       req.TimeInForce,
		Units:             req.Quantity,
		Price:             req.LimitPrice,
		Stop:              req.StopPrice,
	}
}

// PreviewOrder asks the brokerage for the impact of an order and returns the trade id to place it.
func (a *Adapter) PreviewOrder(ctx context.Context, cred provider.Credential, req models.OrderRequest, instrument models.Instrument) (*models.OrderImpact, error) {
	var resp impactResponse
	err := a.userCall(ctx, cred, httpapi.Request{
		Op:     "order_impact",
		Method: http.MethodPost,
		Path:   "/trade/impact",
		Body:   newOrderBody(req, instrument),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Trade.Id == "" {
		return nil, &provider.Error{Kind: provider.KindUnknown, Provider: models.ProviderBrokerage, Op: "order_impact", Message: "impact returned no trade id"}
	}

	units := req.Quantity
	if resp.Trade.Units.Valid {
		units = resp.Trade.Units.Decimal
	}
	impact := &models.OrderImpact{TradeId: resp.Trade.Id, Currency: instrument.Currency}
	if resp.Trade.Price.Valid {
		impact.EstimatedCost = resp.Trade.Price.Decimal.Mul(units)
	} else if req.LimitPrice != nil {
		impact.EstimatedCost = req.LimitPrice.Mul(units)
	}
	fees := decimal.Zero
	for _, ti := range resp.TradeImpacts {
		fees = fees.Add(ti.EstimatedCommission.Decimal).Add(ti.ForexFees.Decimal)
		if ti.RemainingCash.Valid {
			impact.RemainingBalance = ti.RemainingCash.Decimal
		}
		if ti.Currency.Code != "" {
			impact.Currency = strings.ToUpper(ti.Currency.Code)
		}
	}
	impact.EstimatedFees = fees
	return impact, nil
}

// PlaceTrade executes a previously previewed trade exactly as previewed.
func (a *Adapter) PlaceTrade(ctx context.Context, cred provider.Credential, tradeId, idempotencyKey string) (*models.ProviderOrder, error) {
	var resp order
	err := a.userCall(ctx, cred, httpapi.Request{
		Op:     "place_trade",
		Method: http.MethodPost,
		Path:   "/trade/" + url.PathEscape(tradeId),
		Header: idempotencyHeader(idempotencyKey),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return a.placed(resp, "")
}

// PlaceOrder places an order without a preview.
func (a *Adapter) PlaceOrder(ctx context.Context, cred provider.Credential, req models.OrderRequest, instrument models.Instrument, idempotencyKey string) (*models.ProviderOrder, error) {
	var resp order
	err := a.userCall(ctx, cred, httpapi.Request{
		Op:     "place_order",
		Method: http.MethodPost,
		Path:   "/trade/place",
		Header: idempotencyHeader(idempotencyKey),
		Body:   newOrderBody(req, instrument),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return a.placed(resp, req.AccountId)
}

func (a *Adapter) CancelOrder(ctx context.Context, cred provider.Credential, accountId, orderId string) (*models.ProviderOrder, error) {
	var resp order
	err := a.userCall(ctx, cred, httpapi.Request{
		Op:     "cancel_order",
		Method: http.MethodPost,
		Path:   accountPath(accountId, "/orders/cancel"),
		Body:   map[string]string{"brokerage_order_id": orderId},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return a.placed(resp, accountId)
}

// ReplaceOrder returns the new order that supersedes req.OrderId.
func (a *Adapter) ReplaceOrder(ctx context.Context, cred provider.Credential, req models.ReplaceRequest) (*models.ProviderOrder, error) {
	var resp order
	err := a.userCall(ctx, cred, httpapi.Request{
		Op:     "replace_order",
		Method: http.MethodPost,
		Path:   accountPath(req.AccountId, "/orders/replace"),
		Body: orderBody{
			AccountId:        req.AccountId,
			BrokerageOrderId: req.OrderId,
			OrderType:        req.OrderType,
			TimeInForce:      req.TimeInForce,
			Units:            req.Quantity,
			Price:            req.LimitPrice,
			Stop:             req.StopPrice,
		},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return a.placed(resp, req.AccountId)
}

func (a *Adapter) placed(resp order, accountId string) (*models.ProviderOrder, error) {
	if resp.BrokerageOrderId == "" {
		return nil, &provider.Error{Kind: provider.KindUnknown, Provider: models.ProviderBrokerage, Message: "order response has no order id"}
	}
	o := resp.toModel(accountId)
	if o.PlacedAt.IsZero() {
		o.PlacedAt = a.now().UTC()
		o.UpdatedAt = o.PlacedAt
	}
	return &o, nil
}
