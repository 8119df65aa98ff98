package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const maxBodySize = 1 << 16

func responseJSON(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func responseError(w http.ResponseWriter, field, message string, code int) {
	responseJSON(w, &APIResponse{
		Status:  "error",
		Field:   field,
		Message: message,
	}, code)
}

// readJSON decodes the request body into v, answering 400 itself on failure.
// An empty body leaves v untouched.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		responseError(w, "", "Error reading request body", http.StatusBadRequest)
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		responseError(w, "", "Cannot unmarshal input JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// isTxHash accepts 0x-prefixed 32 byte hex, the form of transaction and message hashes.
func isTxHash(s string) bool {
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == 32
}
