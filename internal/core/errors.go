package core

import "errors"

var (
	// ErrInvalidNumericFormat indicates a present wire value is not a valid decimal literal.
	ErrInvalidNumericFormat = errors.New("invalid numeric format")
	// ErrUnrecognizedVariant indicates a union tag (or untagged payload) matched none of the known arms.
	ErrUnrecognizedVariant = errors.New("unrecognized variant")
	// ErrAmbiguousUntaggedVariant indicates an untagged payload matched more than one arm.
	ErrAmbiguousUntaggedVariant = errors.New("ambiguous untagged variant")
	// ErrUnsupportedDepthLevel indicates the backend does not offer the requested book depth.
	ErrUnsupportedDepthLevel = errors.New("unsupported depth level")
	// ErrInvalidOrderRequest indicates a request with contradictory or missing fields.
	ErrInvalidOrderRequest = errors.New("invalid order request")
	// ErrSequenceGapDetected indicates a missing range of stream sequence numbers.
	ErrSequenceGapDetected = errors.New("sequence gap detected")

	// ErrTransport wraps network, auth and http failures surfaced by the transport.
	ErrTransport = errors.New("transport error")
	// ErrTransportTimeout indicates the transport gave up waiting on the exchange.
	ErrTransportTimeout = errors.New("transport timeout")
	// ErrRateLimited indicates the exchange throttled the request.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnauthorized indicates the credentials were rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInsufficientBalance indicates the exchange rejected the action due to insufficient funds.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrDuplicateOrder indicates the client order id has already been accepted before.
	ErrDuplicateOrder = errors.New("duplicate order")
	// ErrOrderNotFound indicates the order does not exist on exchange.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderRejected indicates the order was rejected by exchange.
	ErrOrderRejected = errors.New("order rejected")
)
