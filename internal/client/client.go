// Package client provides a transport-agnostic interface for the ctxreg
// service, with HTTP/JSON and gRPC implementations.
package client

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/ctxreg/internal/model"
)

// RegistryClient is the interface that all ctxreg CLI commands use to
// communicate with the registry server. It is implemented by HTTPClient
// (default) and GRPCClient.
type RegistryClient interface {
	Create(ctx context.Context, kind model.Kind, req *RecordRequest) (*model.Record, error)
	Update(ctx context.Context, kind model.Kind, code int64, req *RecordRequest) (*model.Record, error)
	Get(ctx context.Context, kind model.Kind, code int64) (*model.Record, error)
	List(ctx context.Context, kind model.Kind, req *ListRequest) (*model.Page, error)
	ListAll(ctx context.Context, kind model.Kind) ([]*model.Record, error)
	Delete(ctx context.Context, kind model.Kind, code int64) error
	VerifyName(ctx context.Context, kind model.Kind, name string) (bool, error)

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

// RecordRequest holds the mutable fields of a record for create and update.
// Update replaces every field, so callers send the full desired state.
type RecordRequest struct {
	Name         string   `json:"name"`
	Config       string   `json:"config"`
	Description  string   `json:"description,omitempty"`
	WorkerGroups []string `json:"worker_groups"`
}

// ListRequest holds parameters for a paged listing. Zero PageNo and
// PageSize leave the server defaults in place.
type ListRequest struct {
	SearchVal string
	PageNo    int
	PageSize  int
}

// APIError represents an error response from the server. Code is the
// stable registry error code when the server reported one, and errors.Is
// matches the corresponding model error.
type APIError struct {
	StatusCode int // HTTP status; zero for gRPC
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap returns the model error for Code, or nil.
func (e *APIError) Unwrap() error {
	return model.ErrorForCode(e.Code)
}
