package middleware

import (
	"io"
	"net/http"
	"strconv"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pterodactyl/originfs/metrics"
	"github.com/pterodactyl/originfs/tree"
)

// AttachRequestID attaches a unique ID to the incoming HTTP request so that any
// errors that are generated or returned to the client will include this reference
// allowing for an easier time identifying the specific request that failed for
// the user.
func AttachRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()
		c.Set("request_id", id)
		c.Set("logger", log.WithField("request_id", id))
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// AttachTree attaches the tree to the request context which allows routes to
// access the origin.
func AttachTree(t *tree.Tree) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("tree", t)
		c.Next()
	}
}

// TrackRequests counts every request by method, matched route and status.
func TrackRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// CaptureAndAbort aborts the request and attaches the provided error to the gin
// context, so it can be reported properly. If the error is missing a stacktrace
// at the time it is called the stack will be attached.
func CaptureAndAbort(c *gin.Context, err error) {
	c.Abort()
	c.Error(errors.WithStackDepthIf(err, 1))
}

// CaptureErrors is custom handler function allowing for errors bubbled up by
// c.Error() to be returned in a standardized format with tracking UUIDs on them
// for easier log searching.
func CaptureErrors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		err := c.Errors.Last()
		if err == nil || err.Err == nil {
			return
		}

		status := http.StatusInternalServerError
		if c.Writer.Status() != 200 {
			status = c.Writer.Status()
		}
		if errors.Is(err.Err, io.EOF) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":      "The data passed in the request was not in a parsable format. Please try again.",
				"request_id": c.Writer.Header().Get("X-Request-Id"),
			})
			return
		}
		captured := NewError(err.Err)
		if status, msg := captured.asStorageError(); msg != "" {
			captured.SetMessage(msg)
			captured.Abort(c, status)
			return
		}
		captured.Abort(c, status)
	}
}

// ExtractLogger pulls the logger out of the request context and returns it. By
// default this will include the request ID.
func ExtractLogger(c *gin.Context) *log.Entry {
	v, ok := c.Get("logger")
	if !ok {
		return log.WithField("request_id", c.Writer.Header().Get("X-Request-Id"))
	}
	return v.(*log.Entry)
}

// ExtractTree returns the tree instance set on the request context.
func ExtractTree(c *gin.Context) *tree.Tree {
	if v, ok := c.Get("tree"); ok {
		return v.(*tree.Tree)
	}
	panic("middleware/middleware: cannot extract tree: not present in context")
}
