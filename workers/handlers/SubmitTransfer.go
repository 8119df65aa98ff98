package handlers

import (
	"errors"
	"net/http"
	"strings"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (a *API) SubmitTransfer(w http.ResponseWriter, r *http.Request) {
	var req SubmitTransferRequest
	if !readJSON(w, r, &req) {
		return
	}

	if !isTxHash(req.SourceTxHash) {
		responseError(w, "sourceTxHash", "No transaction hash or malformed hash provided", http.StatusBadRequest)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		responseError(w, "amount", "Amount must be a positive decimal number", http.StatusBadRequest)
		return
	}

	if _, ok := a.Chains[req.SourceChainID]; !ok {
		responseError(w, "sourceChainId", "Source chain not provided or not supported", http.StatusBadRequest)
		return
	}
	if _, ok := a.Chains[req.DestinationChainID]; !ok || req.DestinationChainID == req.SourceChainID {
		responseError(w, "destinationChainId", "Destination chain not provided or not supported", http.StatusBadRequest)
		return
	}

	address := ""
	if req.Address != "" {
		if err := validateAddress(req.Address); err != nil {
			a.Logger.Info("address validation failed", zap.String("address", req.Address), zap.Error(err))
			responseError(w, "address", "Invalid address provided", http.StatusBadRequest)
			return
		}
		address = common.HexToAddress(req.Address).Hex()
	}

	rec, created, err := a.Refresher.Record(req.SourceChainID, req.DestinationChainID, amount.String(), req.SourceTxHash, address)
	if err != nil {
		a.Logger.Error("cannot record transfer", zap.String("sourceTxHash", req.SourceTxHash), zap.Error(err))
		responseError(w, "", "Cannot store transfer", http.StatusInternalServerError)
		return
	}

	code := http.StatusCreated
	if !created {
		code = http.StatusOK
	}
	responseJSON(w, rec, code)
}

var errMalformedAddress = errors.New("not a hex address")

// validateAddress accepts single-case hex addresses, which carry no checksum,
// and mixed-case ones only with a valid EIP-55 checksum.
func validateAddress(address string) error {
	if !common.IsHexAddress(address) {
		return errMalformedAddress
	}
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		address = "0x" + address
	}
	body := address[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return nil
	}
	return ethav.Validate("0x" + body)
}
