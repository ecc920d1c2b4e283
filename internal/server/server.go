package server

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alfredjeanlab/ctxreg/internal/events"
	"github.com/alfredjeanlab/ctxreg/internal/model"
	"github.com/alfredjeanlab/ctxreg/internal/registry"
	"github.com/alfredjeanlab/ctxreg/internal/rpc"
)

// RegistryServer exposes the registries over HTTP, SSE and gRPC.
type RegistryServer struct {
	registries map[model.Kind]*registry.Service
	sseHub     *sseHub
	logger     *slog.Logger
}

// Compile-time check that RegistryServer implements RegistryServiceServer.
var _ RegistryServiceServer = (*RegistryServer)(nil)

// NewRegistryServer returns a server with no registries attached. Wire
// SSEPublisher into the registries' publishers, then Register them.
func NewRegistryServer(logger *slog.Logger) *RegistryServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistryServer{
		registries: make(map[model.Kind]*registry.Service),
		sseHub:     newSSEHub(logger),
		logger:     logger,
	}
}

// Register attaches the registry for svc.Kind(), replacing any previous one.
func (s *RegistryServer) Register(svc *registry.Service) {
	s.registries[svc.Kind()] = svc
}

// SSEPublisher returns a publisher that fans events out to SSE clients of
// this server.
func (s *RegistryServer) SSEPublisher() events.Publisher {
	return s.sseHub
}

// kinds returns the registered kinds in a stable order.
func (s *RegistryServer) kinds() []model.Kind {
	kinds := make([]model.Kind, 0, len(s.registries))
	for k := range s.registries {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (s *RegistryServer) registry(kind model.Kind) (*registry.Service, error) {
	if k, ok := model.ParseKind(string(kind)); ok {
		if svc := s.registries[k]; svc != nil {
			return svc, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown kind %q", model.ErrInvalidInput, kind)
}

// Create creates a record in the registry named by req.Kind.
func (s *RegistryServer) Create(ctx context.Context, req *rpc.CreateRequest) (*rpc.RecordResponse, error) {
	svc, err := s.registry(req.Kind)
	if err != nil {
		return nil, grpcError(ctx, err)
	}
	r, err := svc.Create(ctx, registry.CreateInput{
		OperatorID:   req.OperatorID,
		Name:         req.Name,
		Config:       req.Config,
		Description:  req.Description,
		WorkerGroups: req.WorkerGroups,
	})
	if err != nil {
		return nil, grpcError(ctx, err)
	}
	return &rpc.RecordResponse{Record: r}, nil
}

// Update replaces the mutable fields of an existing record.
func (s *RegistryServer) Update(ctx context.Context, req *rpc.UpdateRequest) (*rpc.RecordResponse, error) {
	svc, err := s.registry(req.Kind)
	if err != nil {
		return nil, grpcError(ctx, err)
	}
	r, err := svc.Update(ctx, registry.UpdateInput{
		OperatorID:   req.OperatorID,
		Code:         req.Code,
		Name:         req.Name,
		Config:       req.Config,
		Description:  req.Description,
		WorkerGroups: req.WorkerGroups,
	})
	if err != nil {
		return nil, grpcError(ctx, err)
	}
	return &rpc.RecordResponse{Record: r}, nil
}

// Get returns a record with its worker groups and references.
func (s *RegistryServer) Get(ctx context.Context, req *rpc.GetRequest) (*rpc.RecordResponse, error) {
	svc, err := s.registry(req.Kind)
	if err != nil {
		return nil, grpcError(ctx, err)
	}
	r, err := svc.Get(ctx, req.Code)
	if err != nil {
		return nil, grpcError(ctx, err)
	}
	return &rpc.RecordResponse{Record: r}, nil
}

// List returns one page of records.
func (s *RegistryServer) List(ctx context.Context, req *rpc.ListRequest) (*rpc.ListResponse, error) {
	svc, err := s.registry(req.Kind)
	if err != nil {
		return nil, grpcError(ctx, err)
	}
	page, err := svc.ListPaging(ctx, req.SearchVal, req.PageNo, req.PageSize)
	if err != nil {
		return nil, grpcError(ctx, err)
	}
	return &rpc.ListResponse{Page: page}, nil
}

// ListAll returns every record of a kind.
func (s *RegistryServer) ListAll(ctx context.Context, req *rpc.ListAllRequest) (*rpc.ListAllResponse, error) {
	svc, err := s.registry(req.Kind)
	if err != nil {
		return nil, grpcError(ctx, err)
	}
	records, err := svc.ListAll(ctx)
	if err != nil {
		return nil, grpcError(ctx, err)
	}
	return &rpc.ListAllResponse{Records: records}, nil
}

// Delete removes an unreferenced record.
func (s *RegistryServer) Delete(ctx context.Context, req *rpc.DeleteRequest) (*rpc.DeleteResponse, error) {
	svc, err := s.registry(req.Kind)
	if err != nil {
		return nil, grpcError(ctx, err)
	}
	if err := svc.Delete(ctx, req.OperatorID, req.Code); err != nil {
		return nil, grpcError(ctx, err)
	}
	return &rpc.DeleteResponse{}, nil
}

// VerifyName reports whether a name is still free.
func (s *RegistryServer) VerifyName(ctx context.Context, req *rpc.VerifyNameRequest) (*rpc.VerifyNameResponse, error) {
	svc, err := s.registry(req.Kind)
	if err != nil {
		return nil, grpcError(ctx, err)
	}
	ok, err := svc.VerifyName(ctx, req.Name)
	if err != nil {
		return nil, grpcError(ctx, err)
	}
	return &rpc.VerifyNameResponse{Available: ok}, nil
}

// Health returns the service health status.
func (s *RegistryServer) Health(_ context.Context, _ *rpc.HealthRequest) (*rpc.HealthResponse, error) {
	return &rpc.HealthResponse{Status: "ok"}, nil
}
