package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/trunov/captionhub/internal/cipher"
)

type cipherRequest struct {
	Text   *string        `json:"text"`
	Action *cipher.Action `json:"action"`
}

type cipherResponse struct {
	Result string `json:"result"`
}

// CipherHandler serves the crypto round-trip endpoint.
type CipherHandler struct{}

func NewCipherHandler() *CipherHandler { return &CipherHandler{} }

func (h *CipherHandler) Transform(w http.ResponseWriter, r *http.Request) {
	var req cipherRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil || req.Text == nil || req.Action == nil {
		writeJSONError(w, "Missing 'action' or 'text'", http.StatusBadRequest)
		return
	}

	out, err := cipher.Apply(*req.Action, *req.Text)
	if err != nil {
		if errors.Is(err, cipher.ErrInvalidAction) {
			writeJSONError(w, "Invalid action", http.StatusBadRequest)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, cipherResponse{Result: out})
}
