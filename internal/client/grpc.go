package client

import (
	"context"
	"fmt"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/alfredjeanlab/ctxreg/internal/model"
	"github.com/alfredjeanlab/ctxreg/internal/rpc"
)

// GRPCClient implements RegistryClient using the gRPC transport and the
// rpc JSON codec.
type GRPCClient struct {
	conn       *grpc.ClientConn
	token      string
	operatorID int64
}

// Compile-time check that GRPCClient implements RegistryClient.
var _ RegistryClient = (*GRPCClient)(nil)

// NewGRPCClient connects to the given gRPC address and returns a client.
// Extra dial options are appended after the defaults.
func NewGRPCClient(addr, token string, operatorID int64, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpc.CodecName)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{conn: conn, token: token, operatorID: operatorID}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) Create(ctx context.Context, kind model.Kind, req *RecordRequest) (*model.Record, error) {
	var resp rpc.RecordResponse
	err := c.invoke(ctx, rpc.MethodCreate, &rpc.CreateRequest{
		Kind:         kind,
		OperatorID:   c.operatorID,
		Name:         req.Name,
		Config:       req.Config,
		Description:  req.Description,
		WorkerGroups: req.WorkerGroups,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Record, nil
}

func (c *GRPCClient) Update(ctx context.Context, kind model.Kind, code int64, req *RecordRequest) (*model.Record, error) {
	var resp rpc.RecordResponse
	err := c.invoke(ctx, rpc.MethodUpdate, &rpc.UpdateRequest{
		Kind:         kind,
		OperatorID:   c.operatorID,
		Code:         code,
		Name:         req.Name,
		Config:       req.Config,
		Description:  req.Description,
		WorkerGroups: req.WorkerGroups,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Record, nil
}

func (c *GRPCClient) Get(ctx context.Context, kind model.Kind, code int64) (*model.Record, error) {
	var resp rpc.RecordResponse
	if err := c.invoke(ctx, rpc.MethodGet, &rpc.GetRequest{Kind: kind, Code: code}, &resp); err != nil {
		return nil, err
	}
	return resp.Record, nil
}

func (c *GRPCClient) List(ctx context.Context, kind model.Kind, req *ListRequest) (*model.Page, error) {
	pageNo, pageSize := req.PageNo, req.PageSize
	if pageNo == 0 {
		pageNo = 1
	}
	if pageSize == 0 {
		pageSize = 10
	}
	var resp rpc.ListResponse
	err := c.invoke(ctx, rpc.MethodList, &rpc.ListRequest{
		Kind:      kind,
		SearchVal: req.SearchVal,
		PageNo:    pageNo,
		PageSize:  pageSize,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Page, nil
}

func (c *GRPCClient) ListAll(ctx context.Context, kind model.Kind) ([]*model.Record, error) {
	var resp rpc.ListAllResponse
	if err := c.invoke(ctx, rpc.MethodListAll, &rpc.ListAllRequest{Kind: kind}, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (c *GRPCClient) Delete(ctx context.Context, kind model.Kind, code int64) error {
	return c.invoke(ctx, rpc.MethodDelete, &rpc.DeleteRequest{
		Kind:       kind,
		OperatorID: c.operatorID,
		Code:       code,
	}, &rpc.DeleteResponse{})
}

func (c *GRPCClient) VerifyName(ctx context.Context, kind model.Kind, name string) (bool, error) {
	var resp rpc.VerifyNameResponse
	if err := c.invoke(ctx, rpc.MethodVerifyName, &rpc.VerifyNameRequest{Kind: kind, Name: name}, &resp); err != nil {
		return false, err
	}
	return resp.Available, nil
}

func (c *GRPCClient) Health(ctx context.Context) (string, error) {
	var resp rpc.HealthResponse
	if err := c.invoke(ctx, rpc.MethodHealth, &rpc.HealthRequest{}, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// invoke performs a unary call and turns a failed status carrying the
// error-code trailer into an *APIError.
func (c *GRPCClient) invoke(ctx context.Context, method string, req, resp any) error {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	var trailer metadata.MD
	err := c.conn.Invoke(ctx, method, req, resp, grpc.Trailer(&trailer))
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	vals := trailer.Get(rpc.ErrorCodeTrailer)
	if len(vals) == 0 {
		return err
	}
	code, convErr := strconv.Atoi(vals[0])
	if convErr != nil {
		return err
	}
	return &APIError{Code: code, Message: st.Message()}
}
