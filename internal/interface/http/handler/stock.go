package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xiebiao/stockledger/internal/application/ledger"
	"github.com/xiebiao/stockledger/internal/application/lowstock"
	"github.com/xiebiao/stockledger/internal/interface/http/dto"
	apperrors "github.com/xiebiao/stockledger/pkg/errors"
	"github.com/xiebiao/stockledger/pkg/response"
)

// StockHandler serves the SKU endpoints.
type StockHandler struct {
	manager *ledger.Manager
	monitor *lowstock.Monitor
}

func NewStockHandler(manager *ledger.Manager, monitor *lowstock.Monitor) *StockHandler {
	return &StockHandler{
		manager: manager,
		monitor: monitor,
	}
}

// RegisterSKU creates the stock record of a new SKU.
// @Summary      Register SKU
// @Tags         stocks
// @Accept       json
// @Produce      json
// @Param        request body dto.RegisterSKURequest true "SKU and initial on-hand quantity"
// @Success      200 {object} response.Response{data=dto.StockResponse}
// @Failure      400 {object} response.Response "invalid parameters"
// @Failure      409 {object} response.Response "SKU already registered"
// @Router       /api/v1/stocks [post]
func (h *StockHandler) RegisterSKU(c *gin.Context) {
	var req dto.RegisterSKURequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Invalid(c, apperrors.ErrBindError, err)
		return
	}

	rec, err := h.manager.RegisterSKU(c.Request.Context(), req.SKU, req.OnHand)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.NewStockResponse(rec))
}

// GetStock returns on-hand, reserved and available quantity of a SKU.
// @Summary      Get stock
// @Tags         stocks
// @Produce      json
// @Param        sku path string true "SKU"
// @Success      200 {object} response.Response{data=dto.StockResponse}
// @Failure      404 {object} response.Response "SKU not found"
// @Router       /api/v1/stocks/{sku} [get]
func (h *StockHandler) GetStock(c *gin.Context) {
	rec, err := h.manager.GetStock(c.Request.Context(), c.Param("sku"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.NewStockResponse(rec))
}

// UpdateStock adjusts on-hand quantity by a delta.
// @Summary      Adjust stock
// @Description  Restock with a positive delta, record shrinkage with a negative one. On-hand never drops below reserved.
// @Tags         stocks
// @Accept       json
// @Produce      json
// @Param        sku     path string                 true "SKU"
// @Param        request body dto.UpdateStockRequest true "delta"
// @Success      200 {object} response.Response{data=dto.UpdateStockResponse}
// @Failure      404 {object} response.Response "SKU not found"
// @Failure      409 {object} response.Response "would drop below reserved"
// @Failure      503 {object} response.Response "too much contention"
// @Router       /api/v1/stocks/{sku} [patch]
func (h *StockHandler) UpdateStock(c *gin.Context) {
	var req dto.UpdateStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Invalid(c, apperrors.ErrBindError, err)
		return
	}

	sku := c.Param("sku")
	onHand, err := h.manager.UpdateStock(c.Request.Context(), sku, *req.Delta)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, &dto.UpdateStockResponse{SKU: sku, OnHand: onHand})
}

// CheckLowStock reports whether a SKU is at or below its threshold.
// @Summary      Check low stock
// @Tags         stocks
// @Produce      json
// @Param        sku       path  string true  "SKU"
// @Param        threshold query int    false "threshold override"
// @Success      200 {object} response.Response{data=dto.LowStockResponse}
// @Failure      404 {object} response.Response "SKU not found"
// @Router       /api/v1/stocks/{sku}/low [get]
func (h *StockHandler) CheckLowStock(c *gin.Context) {
	var q dto.ThresholdQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Invalid(c, apperrors.ErrInvalidParams, err)
		return
	}

	low, item, err := h.monitor.CheckLowStock(c.Request.Context(), c.Param("sku"), q.Threshold)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, &dto.LowStockResponse{Low: low, Item: item})
}

// ListLowStock lists every SKU at or below its threshold.
// @Summary      List low stock
// @Tags         stocks
// @Produce      json
// @Param        threshold query int false "threshold override for all SKUs"
// @Success      200 {object} response.Response{data=response.ListData{list=[]lowstock.Item}}
// @Router       /api/v1/low-stock [get]
func (h *StockHandler) ListLowStock(c *gin.Context) {
	var q dto.ThresholdQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Invalid(c, apperrors.ErrInvalidParams, err)
		return
	}

	items, err := h.monitor.ListLowStock(c.Request.Context(), q.Threshold)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithList(c, items, len(items))
}

// Reconcile compares the reserved counter with the pending reservations.
// @Summary      Reconcile SKU
// @Tags         stocks
// @Produce      json
// @Param        sku path string true "SKU"
// @Success      200 {object} response.Response{data=dto.ReconcileResponse}
// @Failure      404 {object} response.Response "SKU not found"
// @Router       /api/v1/stocks/{sku}/reconcile [get]
func (h *StockHandler) Reconcile(c *gin.Context) {
	report, err := h.manager.Reconcile(c.Request.Context(), c.Param("sku"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, &dto.ReconcileResponse{ReconcileReport: *report, Consistent: report.Consistent()})
}

// ListMovements returns the newest stock journal entries of a SKU.
// @Summary      List stock movements
// @Tags         stocks
// @Produce      json
// @Param        sku   path  string true  "SKU"
// @Param        limit query int    false "max entries (default 50, max 500)"
// @Success      200 {object} response.Response{data=response.ListData{list=[]dto.MovementResponse}}
// @Failure      404 {object} response.Response "SKU not found"
// @Router       /api/v1/stocks/{sku}/movements [get]
func (h *StockHandler) ListMovements(c *gin.Context) {
	var q dto.MovementsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Invalid(c, apperrors.ErrInvalidParams, err)
		return
	}

	moves, err := h.manager.ListMovements(c.Request.Context(), c.Param("sku"), q.PageSize())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithList(c, dto.NewMovementResponses(moves), len(moves))
}
