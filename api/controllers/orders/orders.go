package orders

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderflow-backend/api/responses"
	"github.com/angelmondragon/orderflow-backend/api/validators"
	internalorders "github.com/angelmondragon/orderflow-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
)

const defaultListLimit = 50

// PlaceOrderRequest is the intake body for a new order.
type PlaceOrderRequest struct {
	SkuCode  string          `json:"sku_code" validate:"required"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity" validate:"required,gt=0"`
}

// Place accepts an order and answers with its generated order number.
func Place(svc internalorders.Service, logg *logger.Logger, saga *metrics.SagaMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		var req PlaceOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			saga.IncOrderPlaced("rejected")
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		summary, err := svc.PlaceOrder(r.Context(), internalorders.PlaceOrderInput{
			SkuCode:  strings.TrimSpace(req.SkuCode),
			Price:    req.Price,
			Quantity: req.Quantity,
		})
		if err != nil {
			saga.IncOrderPlaced("rejected")
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		saga.IncOrderPlaced("accepted")
		responses.WriteSuccessStatus(w, http.StatusCreated, summary)
	}
}

// Detail returns one order by its order number.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		rawOrderNumber := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
		if rawOrderNumber == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order number is required"))
			return
		}
		if _, err := uuid.Parse(rawOrderNumber); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order number"))
			return
		}

		summary, err := svc.GetOrder(r.Context(), rawOrderNumber)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// List returns the most recent orders.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		limit := defaultListLimit
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "limit must be a positive integer"))
				return
			}
			limit = parsed
		}

		skuCode := strings.TrimSpace(r.URL.Query().Get("sku"))

		list, err := svc.ListOrders(r.Context(), skuCode, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}
