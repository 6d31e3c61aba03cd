package storage

import (
	"io"
	"testing"

	"emperror.dev/errors"
	. "github.com/franela/goblin"

	"github.com/pterodactyl/originfs/internal/ufs"
)

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func TestStorage_Error(t *testing.T) {
	g := Goblin(t)

	g.Describe("NewError", func() {
		g.It("includes a stack trace for the error", func() {
			err := NewError(ErrCodeNotFound, "read", "/a", nil)

			_, ok := err.(stackTracer)
			g.Assert(ok).IsTrue()
		})

		g.It("properly wraps the underlying error cause", func() {
			err := NewError(ErrCodeIO, "write", "/a", io.EOF)

			_, ok := err.(*Error)
			g.Assert(ok).IsFalse()

			serr, ok := errors.Unwrap(err).(*Error)
			g.Assert(ok).IsTrue()
			g.Assert(serr.Unwrap()).Equal(io.EOF)
			g.Assert(errors.Is(err, io.EOF)).IsTrue()
		})

		g.It("names the verb and path in the message", func() {
			err := NewErrorf(ErrCodeHandleClosed, "write", "/x/y", "handle is closed")
			g.Assert(err.Error()).Equal("storage: write /x/y: HandleClosedError: handle is closed")

			err = NewError(ErrCodeNotFound, "", "/x", nil)
			g.Assert(err.Error()).Equal("storage: /x: NotFoundError")
		})
	})

	g.Describe("IsErrorCode", func() {
		g.It("matches the code through wrapping", func() {
			err := errors.Wrap(NewError(ErrCodeKindMismatch, "", "/a", nil), "copy failed")
			g.Assert(IsErrorCode(err, ErrCodeKindMismatch)).IsTrue()
			g.Assert(IsErrorCode(err, ErrCodeNotFound)).IsFalse()
			g.Assert(Code(err)).Equal(ErrCodeKindMismatch)
		})

		g.It("is false for nil and foreign errors", func() {
			g.Assert(IsErrorCode(nil, ErrCodeNotFound)).IsFalse()
			g.Assert(IsErrorCode(io.EOF, ErrCodeNotFound)).IsFalse()
			g.Assert(Code(io.EOF)).Equal(ErrorCode(""))
		})
	})

	g.Describe("ParseErrorCode", func() {
		g.It("knows every reported class", func() {
			for _, c := range []string{"InvalidPathError", "NotFoundError", "KindMismatchError", "HandleRegistrationError", "HandleClosedError", "TransportError", "IOError"} {
				code, ok := ParseErrorCode(c)
				g.Assert(ok).IsTrue()
				g.Assert(string(code)).Equal(c)
			}
			_, ok := ParseErrorCode("TypeError")
			g.Assert(ok).IsFalse()
		})
	})

	g.Describe("FromError", func() {
		g.It("maps store errors into the taxonomy", func() {
			cases := map[error]ErrorCode{
				ufs.ErrNotExist:          ErrCodeNotFound,
				ufs.ErrBadPathResolution: ErrCodeInvalidPath,
				ufs.ErrNotDirectory:      ErrCodeKindMismatch,
				ufs.ErrIsDirectory:       ErrCodeKindMismatch,
				ufs.ErrLocked:            ErrCodeHandleRegistration,
				ufs.ErrClosed:            ErrCodeHandleClosed,
				io.ErrUnexpectedEOF:      ErrCodeIO,
			}
			for in, want := range cases {
				err := FromError("register", "/f", &ufs.PathError{Op: "open", Path: "f", Err: in})
				g.Assert(IsErrorCode(err, want)).IsTrue()
			}
		})

		g.It("leaves storage errors alone", func() {
			orig := NewError(ErrCodeHandleClosed, "read", "/a", nil)
			g.Assert(FromError("other", "/b", orig) == orig).IsTrue()
			g.Assert(FromError("other", "/b", nil) == nil).IsTrue()
		})
	})
}
