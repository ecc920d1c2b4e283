package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/alfredjeanlab/ctxreg/internal/rpc"
)

// requestAttrs returns the registry fields of an RPC request worth logging:
// the record kind, its code and the operator making the change. Record
// config is never logged.
func requestAttrs(req any) []any {
	switch r := req.(type) {
	case *rpc.CreateRequest:
		return []any{"kind", r.Kind, "name", r.Name, "operator_id", r.OperatorID}
	case *rpc.UpdateRequest:
		return []any{"kind", r.Kind, "code", r.Code, "operator_id", r.OperatorID}
	case *rpc.DeleteRequest:
		return []any{"kind", r.Kind, "code", r.Code, "operator_id", r.OperatorID}
	case *rpc.GetRequest:
		return []any{"kind", r.Kind, "code", r.Code}
	case *rpc.ListRequest:
		return []any{"kind", r.Kind, "page_no", r.PageNo, "page_size", r.PageSize}
	case *rpc.ListAllRequest:
		return []any{"kind", r.Kind}
	case *rpc.VerifyNameRequest:
		return []any{"kind", r.Kind, "name", r.Name}
	}
	return nil
}

// LoggingInterceptor logs each registry RPC with the kind, code and operator
// it concerns. A create also logs the code it assigned. Client errors log
// at Warn, other failures at Error.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		attrs := append([]any{"method", info.FullMethod, "duration", time.Since(start)}, requestAttrs(req)...)
		if err == nil {
			if r, ok := resp.(*rpc.RecordResponse); ok && r.Record != nil && info.FullMethod == rpc.MethodCreate {
				attrs = append(attrs, "code", r.Record.Code)
			}
			logger.InfoContext(ctx, "rpc completed", attrs...)
			return resp, nil
		}

		code := status.Code(err)
		attrs = append(attrs, "grpc_code", code.String(), "error", err)
		switch code {
		case codes.InvalidArgument, codes.NotFound, codes.AlreadyExists,
			codes.FailedPrecondition, codes.Unauthenticated:
			logger.WarnContext(ctx, "rpc failed", attrs...)
		default:
			logger.ErrorContext(ctx, "rpc failed", attrs...)
		}
		return resp, err
	}
}

// RecoveryInterceptor turns a panicking handler into codes.Internal.
func RecoveryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				attrs := append([]any{
					"method", info.FullMethod,
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				}, requestAttrs(req)...)
				logger.ErrorContext(ctx, "panic recovered in gRPC handler", attrs...)
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

var (
	errMissingAuth = errors.New("missing authorization header")
	errAuthScheme  = errors.New("invalid authorization scheme")
	errBadToken    = errors.New("invalid token")
)

// checkBearer validates an Authorization header value against token.
func checkBearer(header, token string) error {
	if header == "" {
		return errMissingAuth
	}
	provided, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return errAuthScheme
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
		return errBadToken
	}
	return nil
}

// publicMethods answer without a token so liveness checks work.
var publicMethods = map[string]bool{
	rpc.MethodHealth:                     true,
	healthpb.Health_Check_FullMethodName: true,
}

// AuthInterceptor requires "authorization: Bearer <token>" metadata on every
// registry RPC. An empty token disables the check.
func AuthInterceptor(token string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if token == "" || publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		var header string
		if vals := md.Get("authorization"); len(vals) > 0 {
			header = vals[0]
		}
		if err := checkBearer(header, token); err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(ctx, req)
	}
}

// AuthMiddleware is the HTTP counterpart of AuthInterceptor. GET /v1/health
// stays public.
func AuthMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/v1/health" {
			next.ServeHTTP(w, r)
			return
		}
		if err := checkBearer(r.Header.Get("Authorization"), token); err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="ctxreg"`)
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
