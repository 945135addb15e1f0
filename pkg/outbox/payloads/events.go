package payloads

import "github.com/shopspring/decimal"

// OrderCreatedEvent announces a freshly committed order. The orderNumber,
// skuCode, quantity and status field names are wire-stable for downstream
// consumers; unitPrice is additive so existing readers ignore it.
type OrderCreatedEvent struct {
	OrderNumber string          `json:"orderNumber"`
	SkuCode     string          `json:"skuCode"`
	Quantity    int             `json:"quantity"`
	Status      string          `json:"status"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}
