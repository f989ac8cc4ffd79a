package brokerage

import (
	"strings"
	"time"

	"unified-portfolio-go/internal/models"

	"github.com/shopspring/decimal"
)

type currency struct {
	Code string `json:"code"`
}

type symbolRef struct {
	Id          string   `json:"id"`
	Symbol      string   `json:"symbol"`
	Description string   `json:"description"`
	Currency    currency `json:"currency"`
}

type authorization struct {
	Id        string `json:"id"`
	Brokerage struct {
		Name string `json:"name"`
	} `json:"brokerage"`
	Disabled    bool      `json:"disabled"`
	UpdatedDate time.Time `json:"updated_date"`
}

type account struct {
	Id                     string `json:"id"`
	BrokerageAuthorization string `json:"brokerage_authorization"`
	Name                   string `json:"name"`
	Number                 string `json:"number"`
	InstitutionName        string `json:"institution_name"`
	Status                 string `json:"status"`
	Meta                   struct {
		Type string `json:"type"`
	} `json:"meta"`
	Balance struct {
		Total *struct {
			Amount   decimal.Decimal `json:"amount"`
			Currency string          `json:"currency"`
		} `json:"total"`
	} `json:"balance"`
}

func (a account) toModel(now time.Time) models.ProviderAccount {
	out := models.ProviderAccount{
		AccountId:       a.Id,
		Provider:        models.ProviderBrokerage,
		ConnectionId:    a.BrokerageAuthorization,
		Name:            a.Name,
		InstitutionName: a.InstitutionName,
		Subtype:         a.Meta.Type,
		MaskedNumber:    maskNumber(a.Number),
		Currency:        "USD",
		Status:          a.Status,
		SyncedAt:        now.UTC(),
	}
	if a.Balance.Total != nil {
		total := a.Balance.Total.Amount
		out.Balance = &total
		if a.Balance.Total.Currency != "" {
			out.Currency = strings.ToUpper(a.Balance.Total.Currency)
		}
	}
	return out
}

func maskNumber(number string) string {
	if len(number) <= 4 {
		return number
	}
	return "****" + number[len(number)-4:]
}

type balance struct {
	Currency    currency            `json:"currency"`
	Cash        decimal.NullDecimal `json:"cash"`
	BuyingPower decimal.NullDecimal `json:"buying_power"`
}

type position struct {
	Symbol               symbolRef           `json:"symbol"`
	Units                decimal.NullDecimal `json:"units"`
	Price                decimal.NullDecimal `json:"price"`
	AveragePurchasePrice decimal.NullDecimal `json:"average_purchase_price"`
	Currency             currency            `json:"currency"`
}

type order struct {
	BrokerageOrderId string              `json:"brokerage_order_id"`
	Status           string              `json:"status"`
	UniversalSymbol  symbolRef           `json:"universal_symbol"`
	Action           string              `json:"action"`
	OrderType        string              `json:"order_type"`
	TimeInForce      string              `json:"time_in_force"`
	TotalQuantity    decimal.NullDecimal `json:"total_quantity"`
	FilledQuantity   decimal.NullDecimal `json:"filled_quantity"`
	LimitPrice       decimal.NullDecimal `json:"limit_price"`
	ExecutionPrice   decimal.NullDecimal `json:"execution_price"`
	TimePlaced       time.Time           `json:"time_placed"`
	TimeUpdated      *time.Time          `json:"time_updated"`
}

func (o order) toModel(accountId string) models.ProviderOrder {
	updated := o.TimePlaced
	if o.TimeUpdated != nil {
		updated = *o.TimeUpdated
	}
	return models.ProviderOrder{
		AccountId:      accountId,
		OrderId:        o.BrokerageOrderId,
		Symbol:         o.UniversalSymbol.Symbol,
		Side:           strings.ToUpper(o.Action),
		OrderType:      strings.ToUpper(o.OrderType),
		TimeInForce:    strings.ToUpper(o.TimeInForce),
		Status:         strings.ToUpper(o.Status),
		Quantity:       o.TotalQuantity.Decimal,
		FilledQuantity: o.FilledQuantity.Decimal,
		LimitPrice:     decimalPtr(o.LimitPrice),
		ExecutionPrice: decimalPtr(o.ExecutionPrice),
		PlacedAt:       o.TimePlaced,
		UpdatedAt:      updated,
	}
}

type activity struct {
	Id          string              `json:"id"`
	Type        string              `json:"type"`
	Symbol      *symbolRef          `json:"symbol"`
	Description string              `json:"description"`
	Amount      decimal.NullDecimal `json:"amount"`
	Units       decimal.NullDecimal `json:"units"`
	Price       decimal.NullDecimal `json:"price"`
	Currency    currency            `json:"currency"`
	TradeDate   time.Time           `json:"trade_date"`
}

type registerResponse struct {
	UserId     string `json:"userId"`
	UserSecret string `json:"userSecret"`
}

type orderBody struct {
	AccountId         string           `json:"account_id"`
	Action            string           `json:"action,omitempty"`
	UniversalSymbolId string           `json:"universal_symbol_id,omitempty"`
	OrderType         string           `json:"order_type"`
	TimeInForce       string           `json:"time_in_force"`
	Units             decimal.Decimal  `json:"units"`
	Price             *decimal.Decimal `json:"price,omitempty"`
	Stop              *decimal.Decimal `json:"stop,omitempty"`
	BrokerageOrderId  string           `json:"brokerage_order_id,omitempty"`
}

type impactResponse struct {
	Trade struct {
		Id    string              `json:"id"`
		Units decimal.NullDecimal `json:"units"`
		Price decimal.NullDecimal `json:"price"`
	} `json:"trade"`
	TradeImpacts []struct {
		EstimatedCommission decimal.NullDecimal `json:"estimated_commission"`
		ForexFees           decimal.NullDecimal `json:"forex_fees"`
		RemainingCash       decimal.NullDecimal `json:"remaining_cash"`
		Currency            currency            `json:"currency"`
	} `json:"trade_impacts"`
}
