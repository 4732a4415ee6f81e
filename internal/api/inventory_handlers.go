package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/inventory"
	redisclient "github.com/clinicdesk/clinicdesk/internal/redis"
)

type inventoryHandlers struct {
	svc   *inventory.Service
	reval redisclient.Revalidator
}

func (h *inventoryHandlers) createPurchase(w http.ResponseWriter, r *http.Request) {
	var req CreatePurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	items := make([]inventory.PurchaseItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		productID, err := uuid.Parse(it.ProductID)
		if err != nil {
			writeFieldError(w, http.StatusBadRequest, "invalid_product_id", "producto_id must be a valid UUID", "producto_id")
			return
		}
		items = append(items, inventory.PurchaseItemInput{
			ProductID: productID,
			Quantity:  it.Quantity,
			UnitCost:  it.UnitCost,
		})
	}

	purchase, err := h.svc.CreatePurchase(r.Context(), req.Supplier, items)
	if err != nil {
		handleInventoryError(w, err)
		return
	}

	h.reval.Invalidate(r.Context(), viewProducts)
	writeJSON(w, http.StatusCreated, toPurchaseResponse(purchase))
}

func (h *inventoryHandlers) receivePurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	purchase, err := h.svc.ConfirmReception(r.Context(), id)
	if err != nil {
		handleInventoryError(w, err)
		return
	}

	h.reval.Invalidate(r.Context(), viewProducts, viewReports)
	writeJSON(w, http.StatusOK, toPurchaseResponse(purchase))
}

func (h *inventoryHandlers) cancelPurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	var req CancelPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	purchase, err := h.svc.CancelPurchase(r.Context(), id, req.Justification)
	if err != nil {
		handleInventoryError(w, err)
		return
	}

	h.reval.Invalidate(r.Context(), viewProducts, viewReports)
	writeJSON(w, http.StatusOK, toPurchaseResponse(purchase))
}

func (h *inventoryHandlers) getPurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	purchase, items, err := h.svc.GetPurchase(r.Context(), id)
	if err != nil {
		handleInventoryError(w, err)
		return
	}

	type itemOut struct {
		ProductID uuid.UUID `json:"producto_id"`
		Quantity  int       `json:"cantidad"`
		UnitCost  string    `json:"costo_unitario"`
	}

	resp := struct {
		PurchaseResponse
		Items []itemOut `json:"items"`
	}{PurchaseResponse: toPurchaseResponse(purchase)}

	for _, it := range items {
		resp.Items = append(resp.Items, itemOut{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitCost:  it.UnitCost.StringFixed(2),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *inventoryHandlers) createReturn(w http.ResponseWriter, r *http.Request) {
	var req CreateReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		writeFieldError(w, http.StatusBadRequest, "invalid_product_id", "producto_id must be a valid UUID", "producto_id")
		return
	}

	ret, err := h.svc.RequestReturn(r.Context(), productID, req.Quantity, req.Reason)
	if err != nil {
		handleInventoryError(w, err)
		return
	}

	h.reval.Invalidate(r.Context(), viewProducts)
	writeJSON(w, http.StatusCreated, toReturnResponse(ret))
}

func (h *inventoryHandlers) approveReturn(w http.ResponseWriter, r *http.Request) {
	h.resolveReturn(w, r, true)
}

func (h *inventoryHandlers) rejectReturn(w http.ResponseWriter, r *http.Request) {
	h.resolveReturn(w, r, false)
}

func (h *inventoryHandlers) resolveReturn(w http.ResponseWriter, r *http.Request, approve bool) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	var req ResolveReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	var ret *inventory.Return
	var err error
	if approve {
		ret, err = h.svc.ApproveReturn(r.Context(), id, req.Notes)
	} else {
		ret, err = h.svc.RejectReturn(r.Context(), id, req.Notes)
	}
	if err != nil {
		handleInventoryError(w, err)
		return
	}

	h.reval.Invalidate(r.Context(), viewProducts)
	writeJSON(w, http.StatusOK, toReturnResponse(ret))
}

func (h *inventoryHandlers) createSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	items := make([]inventory.SaleItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		productID, err := uuid.Parse(it.ProductID)
		if err != nil {
			writeFieldError(w, http.StatusBadRequest, "invalid_product_id", "producto_id must be a valid UUID", "producto_id")
			return
		}
		items = append(items, inventory.SaleItemInput{ProductID: productID, Quantity: it.Quantity})
	}

	sale, err := h.svc.CreateSale(r.Context(), req.Method, items)
	if err != nil {
		handleInventoryError(w, err)
		return
	}

	h.reval.Invalidate(r.Context(), viewProducts, viewReports)
	writeJSON(w, http.StatusCreated, SaleResponse{
		ID:     sale.ID,
		Number: sale.Number,
		Total:  sale.Total,
		Method: sale.Method,
	})
}

func handleInventoryError(w http.ResponseWriter, err error) {
	var state *inventory.StateError

	switch {
	case writeCommonError(w, err):
	case errors.As(err, &state):
		writeError(w, http.StatusConflict, "invalid_state", state.Error())
	case errors.Is(err, inventory.ErrStateConflict):
		writeError(w, http.StatusConflict, "state_conflict", "el registro fue modificado por otro usuario, recargue e intente de nuevo")
	case errors.Is(err, inventory.ErrProductNotFound):
		writeError(w, http.StatusNotFound, "product_not_found", err.Error())
	case errors.Is(err, inventory.ErrPurchaseNotFound):
		writeError(w, http.StatusNotFound, "purchase_not_found", err.Error())
	case errors.Is(err, inventory.ErrReturnNotFound):
		writeError(w, http.StatusNotFound, "return_not_found", err.Error())
	case errors.Is(err, inventory.ErrInsufficientStock):
		writeError(w, http.StatusConflict, "insufficient_stock", "stock insuficiente para completar la operación")
	case errors.Is(err, inventory.ErrStockWouldGoNegative):
		writeError(w, http.StatusConflict, "stock_would_go_negative", "la reversión dejaría el stock en negativo")
	case errors.Is(err, inventory.ErrNumberingContention):
		writeError(w, http.StatusConflict, "numbering_conflict", "no se pudo asignar el número de documento, intente de nuevo")
	case errors.Is(err, inventory.ErrSameApprover):
		writeError(w, http.StatusForbidden, "same_approver", "quien solicita la devolución no puede resolverla")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
