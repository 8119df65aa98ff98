package handlers

import (
	"errors"
	"net/http"

	"gobridgetracker/tracker"
	"gobridgetracker/types"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

// GetTransfers lists one account's transfers newest first when address is
// given, otherwise every transfer with the given status.
func (a *API) GetTransfers(w http.ResponseWriter, r *http.Request) {
	address, ok := queryAddress(w, r)
	if !ok {
		return
	}
	if address != "" {
		a.getTransfersByAddress(w, r, address)
		return
	}

	status := types.StatusPending
	if q := r.URL.Query().Get("status"); q != "" {
		var ok bool
		if status, ok = types.ParseTransferStatus(q); !ok {
			responseError(w, "status", "Unknown transfer status", http.StatusBadRequest)
			return
		}
	}

	recs, err := a.Store.FindAllTransfersByStatus(status)
	if err != nil {
		a.Logger.Error("cannot list transfers", zap.String("status", string(status)), zap.Error(err))
		responseJSON(w, nil, http.StatusInternalServerError)
		return
	}
	responseJSON(w, recs, http.StatusOK)
}

func (a *API) getTransfersByAddress(w http.ResponseWriter, r *http.Request, address string) {
	limit, offset, ok := queryPage(w, r)
	if !ok {
		return
	}

	recs, total, err := a.Store.FindTransfersByAddress(address, offset, limit)
	if err != nil {
		a.Logger.Error("cannot list transfers", zap.String("address", address), zap.Error(err))
		responseJSON(w, nil, http.StatusInternalServerError)
		return
	}
	responseJSON(w, &TransfersResponse{
		Items:  recs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, http.StatusOK)
}

func (a *API) GetTransfer(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.loadTransfer(w, r)
	if !ok {
		return
	}
	responseJSON(w, rec, http.StatusOK)
}

func (a *API) RefreshTransfer(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.loadTransfer(w, r)
	if !ok {
		return
	}

	next, err := a.Refresher.RefreshOne(r.Context(), *rec)
	switch {
	case err == nil:
		responseJSON(w, next, http.StatusOK)
	case errors.Is(err, tracker.ErrRefreshInFlight):
		responseError(w, "id", "Refresh already in progress", http.StatusConflict)
	default:
		// the stored record is still valid, report it with the cause
		responseJSON(w, &RefreshResponse{Record: next, Error: err.Error()}, http.StatusOK)
	}
}

func (a *API) ClaimTransfer(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.loadTransfer(w, r)
	if !ok {
		return
	}

	var req ClaimRequest
	if !readJSON(w, r, &req) {
		return
	}
	if !isTxHash(req.DestinationTxHash) {
		responseError(w, "destinationTxHash", "No transaction hash or malformed hash provided", http.StatusBadRequest)
		return
	}

	next, err := a.Refresher.Claim(*rec, req.DestinationTxHash)
	if errors.Is(err, tracker.ErrNotClaimable) {
		responseError(w, "id", "Transfer is not claimable", http.StatusConflict)
		return
	}
	if errors.Is(err, tracker.ErrRefreshInFlight) {
		responseError(w, "id", "Transfer is being updated, try again", http.StatusConflict)
		return
	}
	if err != nil {
		a.Logger.Error("cannot attach claim", zap.String("id", rec.ID), zap.Error(err))
		responseError(w, "", "Cannot store claim", http.StatusInternalServerError)
		return
	}
	responseJSON(w, next, http.StatusOK)
}

func (a *API) loadTransfer(w http.ResponseWriter, r *http.Request) (*types.TransferRecord, bool) {
	id := chi.URLParam(r, "id")
	rec, err := a.Store.GetTransfer(id)
	if err != nil {
		a.Logger.Error("cannot load transfer", zap.String("id", id), zap.Error(err))
		responseError(w, "", "Cannot load transfer", http.StatusInternalServerError)
		return nil, false
	}
	if rec == nil {
		responseError(w, "id", "Transfer not found", http.StatusNotFound)
		return nil, false
	}
	return rec, true
}
