package detector

import (
	"context"
	"errors"
	"net/http"

	"github.com/danmuck/xspressctl/internal/paramtree"
	"github.com/danmuck/xspressctl/internal/protocol"
	"github.com/danmuck/xspressctl/internal/rpc"
)

var (
	ErrInvalidOperation = errors.New("detector: invalid operation")
	ErrInvalidArgument  = errors.New("detector: invalid argument")
	ErrNotConfigured    = errors.New("detector: not configured")
)

// Classify maps err to an HTTP status. local is true when the request was
// rejected before any remote effect.
func Classify(err error) (status int, local bool) {
	switch {
	case err == nil:
		return http.StatusOK, true
	case errors.Is(err, paramtree.ErrPathNotFound),
		errors.Is(err, paramtree.ErrIndex):
		return http.StatusBadRequest, true
	case errors.Is(err, paramtree.ErrTypeMismatch),
		errors.Is(err, paramtree.ErrValidation),
		errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest, true
	case errors.Is(err, paramtree.ErrNotPuttable),
		errors.Is(err, paramtree.ErrNotSettable),
		errors.Is(err, paramtree.ErrNotGettable):
		return http.StatusMethodNotAllowed, true
	case errors.Is(err, ErrInvalidOperation),
		errors.Is(err, ErrNotConfigured):
		return http.StatusConflict, true
	case errors.Is(err, rpc.ErrNotConnected):
		return http.StatusServiceUnavailable, false
	case errors.Is(err, rpc.ErrNotAcknowledged),
		errors.Is(err, rpc.ErrInvalidReply),
		errors.Is(err, protocol.ErrMalformedMessage):
		return http.StatusBadGateway, false
	case errors.Is(err, rpc.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusInternalServerError, false
	default:
		return http.StatusInternalServerError, false
	}
}
