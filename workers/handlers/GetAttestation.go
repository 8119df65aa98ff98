package handlers

import (
	"net/http"

	"gobridgetracker/attestation"

	"github.com/go-chi/chi"
)

func (a *API) GetAttestation(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "messageHash")
	if !isTxHash(hash) {
		responseError(w, "messageHash", "Malformed message hash", http.StatusBadRequest)
		return
	}

	res := a.Attestations.GetAttestation(r.Context(), hash)
	resp := &AttestationResponse{
		Kind:        res.Kind.String(),
		Attestation: res.Attestation,
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}

	code := http.StatusOK
	switch res.Kind {
	case attestation.KindTransient:
		code = http.StatusServiceUnavailable
	case attestation.KindUnknown:
		code = http.StatusBadGateway
	}
	responseJSON(w, resp, code)
}
