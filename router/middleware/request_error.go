package middleware

import (
	"context"
	"net/http"

	"emperror.dev/errors"
	"github.com/gin-gonic/gin"

	"github.com/pterodactyl/originfs/storage"
)

// RequestError is a custom error type returned when something goes wrong with
// any of the HTTP endpoints.
type RequestError struct {
	err    error
	status int
	msg    string
}

// NewError returns a new RequestError for the provided error.
func NewError(err error) *RequestError {
	return &RequestError{
		// Attach a stacktrace to the error if it is missing at this point and mark it
		// as originating from the location where NewError was called, rather than this
		// specific point in the code.
		err: errors.WithStackDepthIf(err, 1),
	}
}

// SetMessage allows for a custom error message to be set on an existing
// RequestError instance.
func (re *RequestError) SetMessage(m string) {
	re.msg = m
}

// SetStatus sets the HTTP status code for the error response, overriding the
// status passed to Abort.
func (re *RequestError) SetStatus(s int) {
	re.status = s
}

// Abort aborts the given HTTP request with the specified status code and then
// logs the event into the logs. The error that is output will include the unique
// request ID if it is present.
func (re *RequestError) Abort(c *gin.Context, status int) {
	reqId := c.Writer.Header().Get("X-Request-Id")
	event := ExtractLogger(c).WithField("url", c.Request.URL.String())

	if re.status != 0 {
		status = re.status
	}
	// A call to a worker that ran out of time, or a client that went away,
	// get their own status instead of a generic server error.
	if errors.Is(re.err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
		re.SetMessage("The request could not be processed in time, please try again.")
	} else if errors.Is(re.err, context.Canceled) {
		status = http.StatusBadRequest
		re.SetMessage("Request aborted by client.")
	}

	if status >= 500 {
		event.WithField("status", status).WithField("error", re.err).Error("error while handling HTTP request")
	} else {
		event.WithField("status", status).WithField("error", re.err).Debug("error handling HTTP request (not a server error)")
	}
	if re.msg == "" {
		re.msg = "An unexpected error was encountered while processing this request"
	}
	// Include the unique request ID in the body for people who cannot view the
	// response headers.
	c.AbortWithStatusJSON(status, gin.H{"error": re.msg, "request_id": reqId})
}

// Cause returns the underlying error.
func (re *RequestError) Cause() error {
	return re.err
}

// Error returns the underlying error message for this request.
func (re *RequestError) Error() string {
	return re.err.Error()
}

// asStorageError looks at the given RequestError and determines if it is a
// storage error that can be reported to the user with a specific status. If
// it is not, empty values are returned.
func (re *RequestError) asStorageError() (int, string) {
	err := re.Cause()
	if err == nil {
		return 0, ""
	}
	switch storage.Code(err) {
	case storage.ErrCodeNotFound:
		return http.StatusNotFound, "The requested resource was not found in the origin."
	case storage.ErrCodeInvalidPath:
		return http.StatusBadRequest, "The path provided is not valid."
	case storage.ErrCodeKindMismatch:
		return http.StatusBadRequest, "Cannot perform that action: the entry is of the wrong kind."
	case storage.ErrCodeHandleRegistration:
		return http.StatusConflict, "The file is currently open elsewhere, please try again."
	}
	return 0, ""
}
