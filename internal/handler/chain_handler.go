package handler

import (
	"net/http"

	"interest-bank/internal/service"
)

type ChainHandler struct {
	chainService *service.ChainService
}

func NewChainHandler(chainService *service.ChainService) *ChainHandler {
	return &ChainHandler{chainService: chainService}
}

type BlockResponse struct {
	Height uint64 `json:"height"`
}

type MineRequest struct {
	Count uint64 `json:"count"`
}

func (h *ChainHandler) GetLatestBlock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BlockResponse{Height: h.chainService.CurrentBlock()})
}

// Mine seals empty blocks; an empty body mines one.
func (h *ChainHandler) Mine(w http.ResponseWriter, r *http.Request) {
	req := MineRequest{Count: 1}
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, err)
		return
	}

	height, err := h.chainService.Mine(req.Count)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, BlockResponse{Height: height})
}
