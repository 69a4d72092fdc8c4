package appmgr

import (
	"context"
	"errors"
	"strconv"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
)

// ErrorDomain tags the ErrorInfo detail carrying the business code.
const ErrorDomain = "appmanager"

func grpcCode(c appmanager.Code) codes.Code {
	switch c {
	case appmanager.CodePermissionDenied:
		return codes.PermissionDenied
	case appmanager.CodeInvalidParam:
		return codes.InvalidArgument
	case appmanager.CodeInvalidCloneIndex:
		return codes.OutOfRange
	default:
		return codes.Internal
	}
}

// toStatus converts a service error into a gRPC status error. The business
// code rides along as an ErrorInfo detail so clients can restore it exactly.
func toStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	e := appmanager.AsError(op, err)
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}

	st := status.New(grpcCode(e.Code), msg)
	info := &errdetails.ErrorInfo{
		Reason:   strconv.Itoa(int(e.Code)),
		Domain:   ErrorDomain,
		Metadata: map[string]string{"op": e.Op},
	}
	if detailed, derr := st.WithDetails(info); derr == nil {
		st = detailed
	}
	return st.Err()
}

// fromStatus restores the business error carried by a gRPC error. Transport
// failures and statuses without a code detail become internal errors.
func fromStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return appmanager.Internal(op, err)
		}
		return appmanager.AsError(op, err)
	}

	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != ErrorDomain {
			continue
		}
		if code, ok := appmanager.ParseCode(info.GetReason()); ok {
			return &appmanager.Error{Code: code, Op: op, Message: st.Message()}
		}
	}

	if st.Code() == codes.Unauthenticated {
		return &appmanager.Error{Code: appmanager.CodePermissionDenied, Op: op, Message: st.Message()}
	}
	return appmanager.Internal(op, err)
}
