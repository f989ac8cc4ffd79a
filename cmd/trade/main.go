package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"unified-portfolio-go/internal/common"
	"unified-portfolio-go/internal/config"
	"unified-portfolio-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type tradeFlags struct {
	user      string
	account   string
	symbol    string
	side      string
	orderType string
	tif       string
	quantity  string
	limit     string
	key       string
	execute   bool
	cancel    string
	replace   string
}

func parseFlags() (*tradeFlags, error) {
	f := &tradeFlags{}
	flag.StringVar(&f.user, "user", "", "User id (required)")
	flag.StringVar(&f.account, "account", "", "Brokerage account id (required)")
	flag.StringVar(&f.symbol, "symbol", "", "Ticker symbol (required)")
	flag.StringVar(&f.side, "side", "BUY", "BUY or SELL")
	flag.StringVar(&f.orderType, "type", "MARKET", "MARKET or LIMIT")
	flag.StringVar(&f.tif, "tif", "DAY", "DAY, GTC, FOK or IOC")
	flag.StringVar(&f.quantity, "quantity", "", "Units to trade (required)")
	flag.StringVar(&f.limit, "limit", "", "Limit price for LIMIT orders")
	flag.StringVar(&f.key, "idempotency-key", "", "Reuse a key to safely retry a placement")
	flag.BoolVar(&f.execute, "execute", false, "Place the previewed trade (default: preview only)")
	flag.StringVar(&f.cancel, "cancel", "", "Cancel this open order id")
	flag.StringVar(&f.replace, "replace", "", "Replace this open order id (with --quantity, --limit, --type, --tif)")
	flag.Parse()

	if f.user == "" || f.account == "" {
		return nil, fmt.Errorf("flags are required: --user, --account")
	}
	if f.cancel == "" && f.replace == "" && (f.symbol == "" || f.quantity == "") {
		return nil, fmt.Errorf("placing an order requires --symbol and --quantity")
	}
	return f, nil
}

// replaceRequest leaves unset fields empty so the service keeps the open order's values.
func (f *tradeFlags) replaceRequest() (models.ReplaceRequest, error) {
	req := models.ReplaceRequest{UserId: f.user, AccountId: f.account, OrderId: f.replace}
	if isSet("type") {
		req.OrderType = strings.ToUpper(f.orderType)
	}
	if isSet("tif") {
		req.TimeInForce = strings.ToUpper(f.tif)
	}
	if f.quantity != "" {
		quantity, err := decimal.NewFromString(f.quantity)
		if err != nil {
			return req, fmt.Errorf("invalid quantity format: %w", err)
		}
		req.Quantity = quantity
	}
	if f.limit != "" {
		limit, err := decimal.NewFromString(f.limit)
		if err != nil {
			return req, fmt.Errorf("invalid limit format: %w", err)
		}
		req.LimitPrice = &limit
	}
	return req, nil
}

func isSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func cancelOrder(ctx context.Context, services *common.Services, f *tradeFlags) {
	result, err := services.TradingSvc.Cancel(ctx, f.user, f.account, f.cancel)
	if err != nil {
		zap.L().Fatal("Cancel failed", zap.String("order_id", f.cancel), zap.Error(err))
	}
	common.PrintFooter(fmt.Sprintf("CANCEL: order %s is %s", result.Order.OrderId, result.State), common.DefaultWidth)
}

func replaceOrder(ctx context.Context, services *common.Services, f *tradeFlags) {
	req, err := f.replaceRequest()
	if err != nil {
		zap.L().Fatal("Invalid replacement", zap.Error(err))
	}
	result, err := services.TradingSvc.Replace(ctx, req)
	if err != nil {
		zap.L().Fatal("Replace failed", zap.String("order_id", f.replace), zap.Error(err))
	}
	common.PrintFooter(fmt.Sprintf("REPLACE: order %s replaced by %s (%s)", result.Replaced.OrderId, result.Order.OrderId, result.State), common.DefaultWidth)
}

func (f *tradeFlags) order() (models.OrderRequest, error) {
	quantity, err := decimal.NewFromString(f.quantity)
	if err != nil {
		return models.OrderRequest{}, fmt.Errorf("invalid quantity format: %w", err)
	}

	req := models.OrderRequest{
		UserId:         f.user,
		AccountId:      f.account,
		Symbol:         f.symbol,
		Side:           strings.ToUpper(f.side),
		OrderType:      strings.ToUpper(f.orderType),
		TimeInForce:    strings.ToUpper(f.tif),
		Quantity:       quantity,
		IdempotencyKey: f.key,
	}
	if f.limit != "" {
		limit, err := decimal.NewFromString(f.limit)
		if err != nil {
			return models.OrderRequest{}, fmt.Errorf("invalid limit format: %w", err)
		}
		req.LimitPrice = &limit
	}
	return req, nil
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	flags, err := parseFlags()
	if err != nil {
		logger.Fatal("Invalid flags", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	switch {
	case flags.cancel != "":
		cancelOrder(ctx, services, flags)
		return
	case flags.replace != "":
		replaceOrder(ctx, services, flags)
		return
	}

	req, err := flags.order()
	if err != nil {
		logger.Fatal("Invalid order", zap.Error(err))
	}

	preview, err := services.TradingSvc.Preview(ctx, req)
	if err != nil {
		logger.Fatal("Preview failed", zap.Error(err))
	}

	common.PrintHeader("TRADE PREVIEW", common.DefaultWidth)
	fmt.Printf("Trade:      %s\n", preview.TradeId)
	fmt.Printf("Order:      %s %s %s (%s, %s)\n", req.Side, req.Quantity.String(), preview.Instrument.Symbol, req.OrderType, req.TimeInForce)
	fmt.Printf("Est. cost:  %s %s\n", preview.Impact.EstimatedCost.StringFixed(2), preview.Impact.Currency)
	fmt.Printf("Est. fees:  %s %s\n", preview.Impact.EstimatedFees.StringFixed(2), preview.Impact.Currency)
	fmt.Printf("Remaining:  %s %s\n", preview.Impact.RemainingBalance.StringFixed(2), preview.Impact.Currency)

	if !flags.execute {
		common.PrintFooter("Preview only. Re-run with --execute to place the trade.", common.DefaultWidth)
		return
	}

	result, err := services.TradingSvc.Place(ctx, models.OrderRequest{
		UserId:         req.UserId,
		AccountId:      req.AccountId,
		TradeId:        preview.TradeId,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		logger.Fatal("Placement failed", zap.String("trade_id", preview.TradeId), zap.Error(err))
	}

	summary := fmt.Sprintf("PLACED: order %s is %s (idempotency key %s)", result.Order.OrderId, result.State, result.IdempotencyKey)
	if result.Deduplicated {
		summary = fmt.Sprintf("ALREADY PLACED: order %s (idempotency key %s)", result.Order.OrderId, result.IdempotencyKey)
	}
	common.PrintFooter(summary, common.DefaultWidth)
}
