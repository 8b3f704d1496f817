package handle

import (
	"context"
	"errors"
	"net/http"
	"time"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/lifecycle"
	"restaurant-ops/internal/order/app/core"
	"restaurant-ops/internal/order/app/services"
	"restaurant-ops/internal/order/domain/dto"
	"restaurant-ops/internal/xpkg/logger"

	"github.com/gorilla/mux"
)

const actorHeader = "X-Actor"

type OrderHandler struct {
	orderService      *services.OrderService
	transitionService *services.TransitionService
	mylog             logger.Logger
}

func NewOrderHandler(orderService *services.OrderService, transitionService *services.TransitionService, mylog logger.Logger) *OrderHandler {
	return &OrderHandler{
		orderService:      orderService,
		transitionService: transitionService,
		mylog:             mylog,
	}
}

func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), core.WaitTime*time.Second)
}

// actorOf prefers the body, then an X-Actor "role:name" header.
func actorOf(body models.Actor, r *http.Request) (models.Actor, error) {
	if body.Role != "" {
		return body, nil
	}
	if h := r.Header.Get(actorHeader); h != "" {
		return models.ParseActor(h), nil
	}
	return models.Actor{}, errors.New("actor is required")
}

func (oh *OrderHandler) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.CreateOrderRequest
		if err := decode(r, &req); err != nil {
			oh.mylog.Action("parse_failed").Error("Failed to parse order", err)
			jsonError(w, http.StatusBadRequest, err)
			return
		}

		ctx, cancel := requestContext(r)
		defer cancel()

		order, err := oh.orderService.Create(ctx, req)
		if err != nil {
			serviceError(w, err)
			return
		}
		jsonResponse(w, http.StatusCreated, order)
	}
}

func (oh *OrderHandler) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := requestContext(r)
		defer cancel()

		order, err := oh.orderService.Get(ctx, mux.Vars(r)["id"])
		if err != nil {
			serviceError(w, err)
			return
		}
		jsonResponse(w, http.StatusOK, order)
	}
}

func (oh *OrderHandler) History() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := requestContext(r)
		defer cancel()

		records, err := oh.orderService.History(ctx, mux.Vars(r)["id"])
		if err != nil {
			serviceError(w, err)
			return
		}
		jsonResponse(w, http.StatusOK, records)
	}
}

func (oh *OrderHandler) Transition() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.TransitionRequest
		if err := decode(r, &req); err != nil {
			jsonError(w, http.StatusBadRequest, err)
			return
		}
		actor, err := actorOf(req.Actor, r)
		if err != nil {
			jsonError(w, http.StatusBadRequest, err)
			return
		}

		ctx, cancel := requestContext(r)
		defer cancel()

		result, err := oh.transitionService.RequestTransition(ctx, mux.Vars(r)["id"], req.TargetStatus, actor)
		if err != nil {
			serviceError(w, err)
			return
		}
		jsonResponse(w, http.StatusOK, result)
	}
}

func (oh *OrderHandler) AssignDriver() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.AssignDriverRequest
		if err := decode(r, &req); err != nil {
			jsonError(w, http.StatusBadRequest, err)
			return
		}
		actor, err := actorOf(req.Actor, r)
		if err != nil {
			jsonError(w, http.StatusBadRequest, err)
			return
		}
		if req.CommissionPercent != nil {
			if err := services.ValidatePercent(*req.CommissionPercent); err != nil {
				jsonError(w, http.StatusBadRequest, err)
				return
			}
		}

		ctx, cancel := requestContext(r)
		defer cancel()

		delivery, err := oh.transitionService.AssignDriver(ctx, mux.Vars(r)["id"], lifecycle.DriverAssignment{
			DriverID:          req.DriverID,
			DriverName:        req.DriverName,
			CommissionPercent: req.CommissionPercent,
		}, actor)
		if err != nil {
			serviceError(w, err)
			return
		}
		jsonResponse(w, http.StatusOK, delivery)
	}
}

func (oh *OrderHandler) Pickup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.PickupRequest
		if r.ContentLength != 0 {
			if err := decode(r, &req); err != nil {
				jsonError(w, http.StatusBadRequest, err)
				return
			}
		}
		actor, err := actorOf(req.Actor, r)
		if err != nil {
			jsonError(w, http.StatusBadRequest, err)
			return
		}

		ctx, cancel := requestContext(r)
		defer cancel()

		delivery, err := oh.transitionService.MarkPickedUp(ctx, mux.Vars(r)["id"], actor)
		if err != nil {
			serviceError(w, err)
			return
		}
		jsonResponse(w, http.StatusOK, delivery)
	}
}

func (oh *OrderHandler) UpdateItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.ItemStatusRequest
		if err := decode(r, &req); err != nil {
			jsonError(w, http.StatusBadRequest, err)
			return
		}
		actor, err := actorOf(req.Actor, r)
		if err != nil {
			jsonError(w, http.StatusBadRequest, err)
			return
		}

		ctx, cancel := requestContext(r)
		defer cancel()

		vars := mux.Vars(r)
		item, err := oh.transitionService.UpdateItemStatus(ctx, vars["id"], vars["itemId"], req.PrepStatus, actor)
		if err != nil {
			serviceError(w, err)
			return
		}
		jsonResponse(w, http.StatusOK, item)
	}
}
