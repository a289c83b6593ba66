package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/sells-group/directory-cli/internal/model"
)

// HTTPStatusError is implemented by the pkg/ API clients' error types.
type HTTPStatusError interface {
	error
	HTTPStatus() int
}

var networkErrnos = []error{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED, syscall.EPIPE}

// Substrings of errors that reach us flattened to text by an SDK.
var networkPhrases = []string{
	"connection reset by peer",
	"broken pipe",
	"no such host",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"unexpected eof",
}

// IsTransient reports whether err looks like a network blip: a timeout, a
// dropped or refused connection, or a DNS hiccup.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	for _, errno := range networkErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, p := range networkPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// KindForStatus maps an HTTP status onto the step error kinds.
func KindForStatus(status int) model.ErrorKind {
	switch status {
	case http.StatusTooManyRequests:
		return model.KindQuotaExceeded
	case http.StatusUnauthorized, http.StatusPaymentRequired, http.StatusForbidden:
		return model.KindFatal
	case http.StatusRequestTimeout:
		return model.KindTransient
	}
	if status >= 400 && status < 500 {
		return model.KindInvalidInput
	}
	return model.KindTransient
}

// Classify picks the error kind for err. A *model.StepError in the chain
// wins, then an HTTP status, then the network heuristics. Anything else is
// treated as bad input and not retried.
func Classify(err error) model.ErrorKind {
	if err == nil {
		return ""
	}
	if se, ok := model.AsStepError(err); ok {
		return se.Kind
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.DeadlineExceeded) {
		return model.KindTransient
	}
	var he HTTPStatusError
	if errors.As(err, &he) {
		return KindForStatus(he.HTTPStatus())
	}
	if IsTransient(err) {
		return model.KindTransient
	}
	return model.KindInvalidInput
}

// isRequestError reports whether err blames the request rather than the
// service behind it.
func isRequestError(err error) bool {
	if se, ok := model.AsStepError(err); ok {
		return se.Kind == model.KindInvalidInput
	}
	var he HTTPStatusError
	return errors.As(err, &he) && KindForStatus(he.HTTPStatus()) == model.KindInvalidInput
}

// AsStepError returns the *model.StepError in err's chain, or wraps err in
// one carrying its classified kind.
func AsStepError(err error) *model.StepError {
	if err == nil {
		return nil
	}
	if se, ok := model.AsStepError(err); ok {
		return se
	}
	return model.NewStepError(Classify(err), err)
}
