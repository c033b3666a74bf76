package grpc

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"spacebook/backend/internal/service/svcerr"
)

const errorDomain = "spacebook"

func codeForKind(kind svcerr.Kind) codes.Code {
	switch kind {
	case svcerr.KindValidation, svcerr.KindInvalidDate, svcerr.KindInvalidRange:
		return codes.InvalidArgument
	case svcerr.KindNotFound:
		return codes.NotFound
	case svcerr.KindConflict, svcerr.KindState:
		return codes.FailedPrecondition
	case svcerr.KindForbidden:
		return codes.PermissionDenied
	default:
		return codes.Internal
	}
}

// statusFromError converts a service error into a gRPC status carrying an ErrorInfo
// detail whose reason is the upper-cased error kind.
func statusFromError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	}

	kind := svcerr.KindOf(err)
	st := status.New(codeForKind(kind), svcerr.Message(err))
	withInfo, derr := st.WithDetails(&errdetails.ErrorInfo{
		Reason: strings.ToUpper(string(kind)),
		Domain: errorDomain,
	})
	if derr != nil {
		return st.Err()
	}
	return withInfo.Err()
}

// ErrorReason returns the ErrorInfo reason attached to a status error, if any.
func ErrorReason(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.Domain == errorDomain {
			return info.Reason
		}
	}
	return ""
}
