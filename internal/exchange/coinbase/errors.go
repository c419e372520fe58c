package coinbase

import (
	"encoding/json"
	"errors"
	"strings"

	"openlimits/internal/core"
)

type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	return "coinbase api error: " + e.Message
}

var apiErrorMessageKinds = map[string]error{
	"notfound":             core.ErrOrderNotFound,
	"order not found":      core.ErrOrderNotFound,
	"order already done":   core.ErrOrderNotFound,
	"insufficient funds":   core.ErrInsufficientBalance,
	"duplicate client_oid": core.ErrDuplicateOrder,
}

// parseAPIError reads the {"message": "..."} error body. It returns nil when
// the body is not in that shape so the transport reports the raw status.
func parseAPIError(status int, body []byte) error {
	var resp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Message == "" {
		return nil
	}
	apiErr := APIError{Status: status, Message: resp.Message}
	if kind, ok := apiErrorMessageKinds[strings.ToLower(strings.TrimSpace(resp.Message))]; ok {
		return errors.Join(apiErr, kind)
	}
	if status == 400 && strings.HasPrefix(strings.ToLower(resp.Message), "invalid") {
		return errors.Join(apiErr, core.ErrOrderRejected)
	}
	return apiErr
}
