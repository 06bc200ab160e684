package transport

import (
	"errors"

	"github.com/swarmops/coordhub/bus"
	"github.com/swarmops/coordhub/distribute"
	coorderr "github.com/swarmops/coordhub/errors"
	"github.com/swarmops/coordhub/registry"
	"github.com/swarmops/coordhub/resource"
)

// Classify maps component errors onto wire error codes. Already
// structured errors pass through unchanged; anything unrecognized
// becomes an internal error.
func Classify(err error) *coorderr.Error {
	var structured *coorderr.Error
	if errors.As(err, &structured) {
		return structured
	}

	var capacity *resource.CapacityError
	if errors.As(err, &capacity) {
		return coorderr.New(coorderr.CodeCapacity, capacity.Error(),
			coorderr.WithShortfall(capacity.Shortfall))
	}

	switch {
	case errors.Is(err, registry.ErrNotFound):
		return coorderr.FromCode(coorderr.CodeUnknownAgent, coorderr.WithCause(err))
	case errors.Is(err, registry.ErrDuplicate):
		return coorderr.FromCode(coorderr.CodeDuplicateAgent, coorderr.WithCause(err))
	case errors.Is(err, registry.ErrInvalidName), errors.Is(err, registry.ErrInvalidStatus):
		return coorderr.FromCode(coorderr.CodeInvalidInput, coorderr.WithCause(err))
	case errors.Is(err, bus.ErrUnknownRecipient):
		return coorderr.FromCode(coorderr.CodeUnknownRecipient, coorderr.WithCause(err))
	case errors.Is(err, bus.ErrInvalidType), errors.Is(err, bus.ErrInvalidPayload),
		errors.Is(err, bus.ErrInvalidSender):
		return coorderr.FromCode(coorderr.CodeInvalidMessage, coorderr.WithCause(err))
	case errors.Is(err, resource.ErrUnknownLock):
		return coorderr.FromCode(coorderr.CodeUnknownLock, coorderr.WithCause(err))
	case errors.Is(err, resource.ErrUnknownKind), errors.Is(err, resource.ErrInvalidAmount):
		return coorderr.FromCode(coorderr.CodeInvalidInput, coorderr.WithCause(err))
	case errors.Is(err, resource.ErrUnknownAgent):
		return coorderr.FromCode(coorderr.CodeUnknownAgent, coorderr.WithCause(err))
	case errors.Is(err, resource.ErrAgentOffline):
		return coorderr.FromCode(coorderr.CodeAgentOffline, coorderr.WithCause(err))
	case errors.Is(err, distribute.ErrNoCapableAgent):
		return coorderr.FromCode(coorderr.CodeNoCapableAgent, coorderr.WithCause(err))
	case errors.Is(err, distribute.ErrUnknownTask):
		return coorderr.FromCode(coorderr.CodeUnknownTask, coorderr.WithCause(err))
	case errors.Is(err, distribute.ErrInvalidSpec):
		return coorderr.FromCode(coorderr.CodeInvalidInput, coorderr.WithCause(err))
	case errors.Is(err, registry.ErrClosed), errors.Is(err, bus.ErrClosed),
		errors.Is(err, resource.ErrClosed), errors.Is(err, distribute.ErrClosed):
		return coorderr.FromCode(coorderr.CodeClosed, coorderr.WithCause(err))
	default:
		return coorderr.Wrap(err, "operation failed")
	}
}
