package handlers

import "gobridgetracker/types"

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Field   string `json:"field"`
}

type APIStateResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type SubmitTransferRequest struct {
	SourceChainID      int64  `json:"sourceChainId"`
	DestinationChainID int64  `json:"destinationChainId"`
	Amount             string `json:"amount"`
	SourceTxHash       string `json:"sourceTxHash"`
	Address            string `json:"address"`
}

type ClaimRequest struct {
	DestinationTxHash string `json:"destinationTxHash"`
}

type RefreshResponse struct {
	Record types.TransferRecord `json:"record"`
	Error  string               `json:"error,omitempty"`
}

type AttestationResponse struct {
	Kind        string             `json:"kind"`
	Attestation *types.Attestation `json:"attestation,omitempty"`
	Error       string             `json:"error,omitempty"`
}

type TransfersResponse struct {
	Items  []*types.TransferRecord `json:"items"`
	Total  int                     `json:"total"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

type NotificationsResponse struct {
	Items  []*types.BridgeNotification `json:"items"`
	Total  int                         `json:"total"`
	Limit  int                         `json:"limit"`
	Offset int                         `json:"offset"`
}

type MarkSeenRequest struct {
	Address string   `json:"address,omitempty"`
	IDs     []string `json:"ids"`
}

type MarkSeenResponse struct {
	Status  string `json:"status"`
	Updated int    `json:"updated"`
}
