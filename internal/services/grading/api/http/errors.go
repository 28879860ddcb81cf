package httpapi

import (
	"errors"
	"log"
	"net/http"

	apperrors "github.com/TamjidIslam99/Ju-Exam-Office-Management-System/internal/errors"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/labstack/echo/v4"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
)

// requestError is a transport-level rejection that never reached the service.
type requestError struct {
	code    codes.Code
	message string
}

func (e *requestError) Error() string { return e.message }

func errBadRequest(message string) error {
	return &requestError{code: codes.InvalidArgument, message: message}
}

var statusMarshaler = protojson.MarshalOptions{UseProtoNames: false, EmitUnpopulated: false}

// handleError renders every error as a google.rpc.Status JSON document with
// the matching HTTP status code. Domain errors carry a localized message
// chosen from Accept-Language.
func handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var st *status.Status
	var reqErr *requestError
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &reqErr):
		st = status.New(reqErr.code, reqErr.message)
	case errors.As(err, &httpErr):
		st = status.New(httpCodeToGRPC(httpErr.Code), http.StatusText(httpErr.Code))
	default:
		st = apperrors.HandleError(err, c.Request().Header.Get("Accept-Language"))
		if st.Code() == codes.Internal {
			log.Printf("%s %s: %v", c.Request().Method, c.Path(), err)
		}
	}

	body, marshalErr := statusMarshaler.Marshal(st.Proto())
	if marshalErr != nil {
		log.Printf("marshal error status: %v", marshalErr)
		_ = c.NoContent(http.StatusInternalServerError)
		return
	}
	if writeErr := c.Blob(runtime.HTTPStatusFromCode(st.Code()), echo.MIMEApplicationJSON, body); writeErr != nil {
		log.Printf("write error response: %v", writeErr)
	}
}

func httpCodeToGRPC(code int) codes.Code {
	switch code {
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusMethodNotAllowed:
		return codes.Unimplemented
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	default:
		return codes.Internal
	}
}
