package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/alfredjeanlab/ctxreg/internal/model"
	"github.com/alfredjeanlab/ctxreg/internal/rpc"
)

// httpStatus maps a stable error code to an HTTP status.
func httpStatus(code int) int {
	switch code {
	case model.CodeOK:
		return http.StatusOK
	case model.CodeInvalidInput, model.CodeInvalidConfig:
		return http.StatusBadRequest
	case model.CodeNotFound:
		return http.StatusNotFound
	case model.CodeDuplicateName, model.CodeDuplicateCode, model.CodeInUse:
		return http.StatusConflict
	case model.CodeTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// grpcCode maps a stable error code to a gRPC status code.
func grpcCode(code int) codes.Code {
	switch code {
	case model.CodeOK:
		return codes.OK
	case model.CodeInvalidInput, model.CodeInvalidConfig:
		return codes.InvalidArgument
	case model.CodeNotFound:
		return codes.NotFound
	case model.CodeDuplicateName, model.CodeDuplicateCode:
		return codes.AlreadyExists
	case model.CodeInUse:
		return codes.FailedPrecondition
	case model.CodeTransient:
		return codes.Unavailable
	}
	return codes.Internal
}

// grpcError converts a registry error into a status error and attaches the
// stable error code as a trailer.
func grpcError(ctx context.Context, err error) error {
	code, _ := model.ErrorCode(err)
	_ = grpc.SetTrailer(ctx, metadata.Pairs(rpc.ErrorCodeTrailer, strconv.Itoa(code)))
	msg := err.Error()
	if code == model.CodeInternal {
		slog.Error("internal error", "error", err)
		msg = "internal error"
	}
	return status.Error(grpcCode(code), msg)
}
