package handler

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"interest-bank/internal/errors"
)

// IdempotencyHeader may carry the idempotency key instead of the body.
const IdempotencyHeader = "Idempotency-Key"

type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Error *Error      `json:"error,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := Response{Data: data}
	json.NewEncoder(w).Encode(response)
}

func writeError(w http.ResponseWriter, err error) {
	appErr := errors.AsAppError(err)
	w.Header().Set("Content-Type", "application/json")

	statusCode := appErr.HTTPStatus()
	errResponse := Error{
		Code:    string(appErr.Code),
		Message: appErr.Message,
		Details: appErr.Details,
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Response{Error: &errResponse})
}

// decodeBody decodes the JSON body into v. An empty body is accepted when
// optional is set.
func decodeBody(r *http.Request, v interface{}, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || optional && stderrors.Is(err, io.EOF) {
		return nil
	}
	return errors.NewAppError(errors.InvalidInput, "invalid request body").WithDetails(err.Error())
}

func parseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.ErrInvalidAddress.WithDetails("expected a 20-byte hex address, got " + s)
	}
	return common.HexToAddress(s), nil
}

func pathAddress(r *http.Request) (common.Address, error) {
	return parseAddress(mux.Vars(r)["address"])
}

// idempotencyKey prefers the body field over the header. Both are optional.
func idempotencyKey(r *http.Request, fromBody string) (*uuid.UUID, error) {
	raw := strings.TrimSpace(fromBody)
	if raw == "" {
		raw = strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	}
	if raw == "" {
		return nil, nil
	}
	key, err := uuid.Parse(raw)
	if err != nil {
		return nil, errors.NewAppError(errors.InvalidInput, "invalid idempotency_key format").WithDetails(err.Error())
	}
	return &key, nil
}
