package handlers

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// GetNotifications pages the history newest first, optionally for one address.
func (a *API) GetNotifications(w http.ResponseWriter, r *http.Request) {
	address, ok := queryAddress(w, r)
	if !ok {
		return
	}
	limit, offset, ok := queryPage(w, r)
	if !ok {
		return
	}

	items, total, err := a.Store.ListNotifications(address, offset, limit)
	if err != nil {
		a.Logger.Error("cannot list notifications", zap.Error(err))
		responseJSON(w, nil, http.StatusInternalServerError)
		return
	}
	responseJSON(w, &NotificationsResponse{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, http.StatusOK)
}

func (a *API) GetUnseenNotifications(w http.ResponseWriter, r *http.Request) {
	address, ok := queryAddress(w, r)
	if !ok {
		return
	}

	items, err := a.Store.ListUnseen(address)
	if err != nil {
		a.Logger.Error("cannot list unseen notifications", zap.Error(err))
		responseJSON(w, nil, http.StatusInternalServerError)
		return
	}
	responseJSON(w, items, http.StatusOK)
}

// MarkSeen marks the given ids seen; an empty list marks everything. With
// an address only that account's notifications change.
func (a *API) MarkSeen(w http.ResponseWriter, r *http.Request) {
	var req MarkSeenRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Address == "" {
		var ok bool
		if req.Address, ok = queryAddress(w, r); !ok {
			return
		}
	} else if !common.IsHexAddress(req.Address) {
		responseError(w, "address", "Invalid address provided", http.StatusBadRequest)
		return
	}

	var (
		updated int
		err     error
	)
	if len(req.IDs) == 0 {
		updated, err = a.Store.MarkAllSeen(req.Address)
	} else {
		updated, err = a.Store.MarkSeen(req.Address, req.IDs)
	}
	if err != nil {
		a.Logger.Error("cannot mark notifications seen", zap.Error(err))
		responseJSON(w, nil, http.StatusInternalServerError)
		return
	}
	responseJSON(w, &MarkSeenResponse{Status: "ok", Updated: updated}, http.StatusOK)
}

func queryInt(r *http.Request, name string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	return v, err == nil
}

// queryPage reads limit and offset, answering 400 itself when they are out of range.
func queryPage(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	limit, ok = queryInt(r, "limit", defaultPageLimit)
	if !ok || limit <= 0 || limit > maxPageLimit {
		responseError(w, "limit", "limit must be between 1 and 100", http.StatusBadRequest)
		return 0, 0, false
	}
	offset, ok = queryInt(r, "offset", 0)
	if !ok || offset < 0 {
		responseError(w, "offset", "offset must not be negative", http.StatusBadRequest)
		return 0, 0, false
	}
	return limit, offset, true
}

// queryAddress returns the optional address filter, answering 400 itself
// when it is malformed.
func queryAddress(w http.ResponseWriter, r *http.Request) (string, bool) {
	address := r.URL.Query().Get("address")
	if address == "" {
		return "", true
	}
	if !common.IsHexAddress(address) {
		responseError(w, "address", "Invalid address provided", http.StatusBadRequest)
		return "", false
	}
	return address, true
}
