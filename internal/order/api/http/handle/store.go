package handle

import (
	"fmt"
	"net/http"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/lifecycle"
	"restaurant-ops/internal/order/app/core"
	"restaurant-ops/internal/order/app/services"
	"restaurant-ops/internal/xpkg/logger"

	"github.com/gorilla/mux"
)

// StoreHandler serves the per-store views consumers re-fetch after reconnecting.
type StoreHandler struct {
	orderService *services.OrderService
	mylog        logger.Logger
}

func NewStoreHandler(orderService *services.OrderService, mylog logger.Logger) *StoreHandler {
	return &StoreHandler{orderService: orderService, mylog: mylog}
}

func (sh *StoreHandler) ActiveOrders() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := models.OrderStatus(r.URL.Query().Get("status"))
		if status != "" && (!lifecycle.ValidStatus(status) || status.Terminal()) {
			jsonError(w, http.StatusBadRequest, fmt.Errorf("%w: status %q is not an active status", core.ErrInvalidRequest, status))
			return
		}

		ctx, cancel := requestContext(r)
		defer cancel()

		orders, err := sh.orderService.ListActive(ctx, mux.Vars(r)["storeId"], status)
		if err != nil {
			sh.mylog.Action("list_orders_failed").Error("Failed to list active orders", err)
			serviceError(w, err)
			return
		}
		if orders == nil {
			orders = []models.Order{}
		}
		jsonResponse(w, http.StatusOK, orders)
	}
}

func (sh *StoreHandler) LateOrders() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := requestContext(r)
		defer cancel()

		resp, err := sh.orderService.LateOrders(ctx, mux.Vars(r)["storeId"])
		if err != nil {
			sh.mylog.Action("late_orders_failed").Error("Failed to compute late orders", err)
			serviceError(w, err)
			return
		}
		jsonResponse(w, http.StatusOK, resp)
	}
}

func (sh *StoreHandler) Tables() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := requestContext(r)
		defer cancel()

		tables, err := sh.orderService.ListTables(ctx, mux.Vars(r)["storeId"])
		if err != nil {
			sh.mylog.Action("list_tables_failed").Error("Failed to list tables", err)
			serviceError(w, err)
			return
		}
		if tables == nil {
			tables = []models.Table{}
		}
		jsonResponse(w, http.StatusOK, tables)
	}
}
