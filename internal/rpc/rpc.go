// Package rpc defines the wire contract of the ctxreg.v1.RegistryService gRPC
// service: request and response messages, method names and the JSON codec
// they travel in. Server and client both build on it.
package rpc

import "github.com/alfredjeanlab/ctxreg/internal/model"

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ctxreg.v1.RegistryService"

// Full method names.
const (
	MethodCreate     = "/" + ServiceName + "/Create"
	MethodUpdate     = "/" + ServiceName + "/Update"
	MethodGet        = "/" + ServiceName + "/Get"
	MethodList       = "/" + ServiceName + "/List"
	MethodListAll    = "/" + ServiceName + "/ListAll"
	MethodDelete     = "/" + ServiceName + "/Delete"
	MethodVerifyName = "/" + ServiceName + "/VerifyName"
	MethodHealth     = "/" + ServiceName + "/Health"
)

// ErrorCodeTrailer carries model.ErrorCode of a failed call so clients can
// rebuild a matchable error.
const ErrorCodeTrailer = "ctxreg-error-code"

type CreateRequest struct {
	Kind         model.Kind `json:"kind"`
	OperatorID   int64      `json:"operator_id"`
	Name         string     `json:"name"`
	Config       string     `json:"config"`
	Description  string     `json:"description,omitempty"`
	WorkerGroups []string   `json:"worker_groups,omitempty"`
}

type UpdateRequest struct {
	Kind         model.Kind `json:"kind"`
	OperatorID   int64      `json:"operator_id"`
	Code         int64      `json:"code"`
	Name         string     `json:"name"`
	Config       string     `json:"config"`
	Description  string     `json:"description,omitempty"`
	WorkerGroups []string   `json:"worker_groups,omitempty"`
}

type GetRequest struct {
	Kind model.Kind `json:"kind"`
	Code int64      `json:"code"`
}

type ListRequest struct {
	Kind      model.Kind `json:"kind"`
	SearchVal string     `json:"search_val,omitempty"`
	PageNo    int        `json:"page_no"`
	PageSize  int        `json:"page_size"`
}

type ListAllRequest struct {
	Kind model.Kind `json:"kind"`
}

type DeleteRequest struct {
	Kind       model.Kind `json:"kind"`
	OperatorID int64      `json:"operator_id"`
	Code       int64      `json:"code"`
}

type VerifyNameRequest struct {
	Kind model.Kind `json:"kind"`
	Name string     `json:"name"`
}

type HealthRequest struct{}

type RecordResponse struct {
	Record *model.Record `json:"record"`
}

type ListResponse struct {
	Page *model.Page `json:"page"`
}

type ListAllResponse struct {
	Records []*model.Record `json:"records"`
}

type DeleteResponse struct{}

type VerifyNameResponse struct {
	Available bool `json:"available"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
