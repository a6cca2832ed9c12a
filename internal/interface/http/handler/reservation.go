package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xiebiao/stockledger/internal/application/ledger"
	"github.com/xiebiao/stockledger/internal/interface/http/dto"
	apperrors "github.com/xiebiao/stockledger/pkg/errors"
	"github.com/xiebiao/stockledger/pkg/response"
)

// ReservationHandler serves the reservation endpoints.
type ReservationHandler struct {
	manager *ledger.Manager
}

func NewReservationHandler(manager *ledger.Manager) *ReservationHandler {
	return &ReservationHandler{manager: manager}
}

// Reserve holds stock for a pending order.
// @Summary      Reserve stock
// @Tags         reservations
// @Accept       json
// @Produce      json
// @Param        request body dto.ReserveRequest true "SKU, quantity and optional TTL"
// @Success      200 {object} response.Response{data=dto.ReservationResponse}
// @Failure      400 {object} response.Response "invalid quantity or TTL"
// @Failure      404 {object} response.Response "SKU not found"
// @Failure      409 {object} response.Response "insufficient stock"
// @Failure      503 {object} response.Response "too much contention"
// @Router       /api/v1/reservations [post]
func (h *ReservationHandler) Reserve(c *gin.Context) {
	var req dto.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Invalid(c, apperrors.ErrBindError, err)
		return
	}

	res, err := h.manager.ReserveStock(c.Request.Context(), req.ToLedger())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.NewReservationResponse(res))
}

// ReserveBatch reserves several lines, all or none.
// @Summary      Reserve a batch
// @Tags         reservations
// @Accept       json
// @Produce      json
// @Param        request body dto.ReserveBatchRequest true "lines"
// @Success      200 {object} response.Response{data=response.ListData{list=[]dto.ReservationResponse}}
// @Failure      409 {object} response.Response "a line could not be reserved; none were kept"
// @Router       /api/v1/reservations/batch [post]
func (h *ReservationHandler) ReserveBatch(c *gin.Context) {
	var req dto.ReserveBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Invalid(c, apperrors.ErrBindError, err)
		return
	}

	lines := make([]ledger.ReserveRequest, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = l.ToLedger()
	}

	out, err := h.manager.ReserveBatch(c.Request.Context(), lines)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithList(c, dto.NewReservationResponses(out), len(out))
}

// Get returns a reservation.
// @Summary      Get reservation
// @Tags         reservations
// @Produce      json
// @Param        id path string true "reservation ID"
// @Success      200 {object} response.Response{data=dto.ReservationResponse}
// @Failure      404 {object} response.Response "reservation not found"
// @Router       /api/v1/reservations/{id} [get]
func (h *ReservationHandler) Get(c *gin.Context) {
	res, err := h.manager.GetReservation(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.NewReservationResponse(res))
}

// Commit turns a pending reservation into a permanent deduction.
// @Summary      Commit reservation
// @Description  Idempotent: committing a committed reservation succeeds without changing stock.
// @Tags         reservations
// @Produce      json
// @Param        id path string true "reservation ID"
// @Success      200 {object} response.Response{data=dto.ReservationResponse}
// @Failure      404 {object} response.Response "reservation not found"
// @Failure      409 {object} response.Response "reservation expired or already released"
// @Router       /api/v1/reservations/{id}/commit [post]
func (h *ReservationHandler) Commit(c *gin.Context) {
	res, err := h.manager.CommitStock(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.NewReservationResponse(res))
}

// Release cancels a pending reservation.
// @Summary      Release reservation
// @Description  Idempotent: releasing a released or expired reservation succeeds without changing stock.
// @Tags         reservations
// @Produce      json
// @Param        id path string true "reservation ID"
// @Success      200 {object} response.Response{data=dto.ReservationResponse}
// @Failure      404 {object} response.Response "reservation not found"
// @Failure      409 {object} response.Response "reservation already committed"
// @Router       /api/v1/reservations/{id}/release [post]
func (h *ReservationHandler) Release(c *gin.Context) {
	res, err := h.manager.ReleaseStock(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.NewReservationResponse(res))
}
