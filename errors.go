package transport

import "errors"

// Errors returned by request handling and entity registration. None of these
// represent a fatal condition for the core: each is surfaced to the caller
// rather than as a panic, either as a rejected request's reason (see
// Request.Reject) or as the error returned by RegisterProducer/
// RegisterConsumer.
var (
	ErrTransportClosed  = errors.New("transport is closed")
	ErrProducerNotFound = errors.New("producer not found")
	ErrConsumerNotFound = errors.New("consumer not found")
	ErrProducerIdTaken  = errors.New("producer id already exists")
	ErrConsumerIdTaken  = errors.New("consumer id already exists")
	ErrSsrcAlreadyInUse = errors.New("ssrc already in use by another producer")
	ErrInvalidMethod    = errors.New("unknown method")
	ErrMissingField     = errors.New("missing required field")
)
