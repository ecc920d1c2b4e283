package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/ctxreg/internal/model"
	"github.com/alfredjeanlab/ctxreg/internal/registry"
)

// OperatorHeader carries the acting operator id, supplied by the session
// layer in front of the registry.
const OperatorHeader = "X-Operator-Id"

const (
	defaultPageNo   = 1
	defaultPageSize = 10
)

// recordBody is the JSON body of create and update requests.
type recordBody struct {
	Name         string       `json:"name"`
	Config       string       `json:"config"`
	Description  string       `json:"description"`
	WorkerGroups workerGroups `json:"worker_groups"`
}

// workerGroups accepts a JSON array of strings or a single string holding
// a JSON array or a comma-separated list.
type workerGroups []string

func (g *workerGroups) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*g = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		groups, err := model.ParseWorkerGroups(s)
		if err != nil {
			return err
		}
		*g = groups
		return nil
	}
	var groups []string
	if err := json.Unmarshal(data, &groups); err != nil {
		return fmt.Errorf("%w: worker_groups: %v", model.ErrInvalidInput, err)
	}
	*g = groups
	return nil
}

// handleCreate handles POST /v1/{kind}s.
func (s *RegistryServer) handleCreate(svc *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		operator, err := operatorID(r)
		if err != nil {
			s.writeRegistryError(w, r, err)
			return
		}
		var body recordBody
		if err := decodeBody(r, &body); err != nil {
			s.writeRegistryError(w, r, err)
			return
		}

		rec, err := svc.Create(r.Context(), registry.CreateInput{
			OperatorID:   operator,
			Name:         body.Name,
			Config:       body.Config,
			Description:  body.Description,
			WorkerGroups: body.WorkerGroups,
		})
		if err != nil {
			s.writeRegistryError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	}
}

// handleUpdate handles PUT /v1/{kind}s/{code}.
func (s *RegistryServer) handleUpdate(svc *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := pathCode(r)
		if err != nil {
			s.writeRegistryError(w, r, err)
			return
		}
		operator, err := operatorID(r)
		if err != nil {
			s.writeRegistryError(w, r, err)
			return
		}
		var body recordBody
		if err := decodeBody(r, &body); err != nil {
			s.writeRegistryError(w, r, err)
			return
		}

		rec, err := svc.Update(r.Context(), registry.UpdateInput{
			OperatorID:   operator,
			Code:         code,
			Name:         body.Name,
			Config:       body.Config,
			Description:  body.Description,
			WorkerGroups: body.WorkerGroups,
		})
		if err != nil {
			s.writeRegistryError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// handleGet handles GET /v1/{kind}s/{code}.
func (s *RegistryServer) handleGet(svc *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := pathCode(r)
		if err != nil {
			s.writeRegistryError(w, r, err)
			return
		}
		rec, err := svc.Get(r.Context(), code)
		if err != nil {
			s.writeRegistryError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// handleListPaging handles GET /v1/{kind}s?searchVal=&pageNo=&pageSize=.
func (s *RegistryServer) handleListPaging(svc *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		pageNo, err := intParam(q.Get("pageNo"), "pageNo", defaultPageNo)
		if err != nil {
			s.writeRegistryError(w, r, err)
			return
		}
		pageSize, err := intParam(q.Get("pageSize"), "pageSize", defaultPageSize)
		if err != nil {
			s.writeRegistryError(w, r, err)
			return
		}

		page, err := svc.ListPaging(r.Context(), q.Get("searchVal"), pageNo, pageSize)
		if err != nil {
			s.writeRegistryError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

// handleListAll handles GET /v1/{kind}s/all.
func (s *RegistryServer) handleListAll(svc *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := svc.ListAll(r.Context())
		if err != nil {
			s.writeRegistryError(w, r, err)
			return
		}
		if records == nil {
			records = []*model.Record{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"records": records})
	}
}

// handleDelete handles DELETE /v1/{kind}s/{code}.
func (s *RegistryServer) handleDelete(svc *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := pathCode(r)
		if err != nil {
			s.writeRegistryError(w, r, err)
			return
		}
		operator, err := operatorID(r)
		if err != nil {
			s.writeRegistryError(w, r, err)
			return
		}
		if err := svc.Delete(r.Context(), operator, code); err != nil {
			s.writeRegistryError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleVerifyName handles POST /v1/{kind}s/verify-name.
func (s *RegistryServer) handleVerifyName(svc *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			s.writeRegistryError(w, r, err)
			return
		}
		ok, err := svc.VerifyName(r.Context(), body.Name)
		if err != nil {
			s.writeRegistryError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"available": ok})
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, model.ErrInvalidInput) {
			return err
		}
		return fmt.Errorf("%w: invalid JSON body: %v", model.ErrInvalidInput, err)
	}
	return nil
}

func pathCode(r *http.Request) (int64, error) {
	raw := r.PathValue("code")
	code, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid code %q", model.ErrInvalidInput, raw)
	}
	return code, nil
}

// operatorID reads the acting operator from OperatorHeader. Mutations
// without one are rejected.
func operatorID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get(OperatorHeader))
	if raw == "" {
		return 0, fmt.Errorf("%w: %s header is required", model.ErrInvalidInput, OperatorHeader)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", model.ErrInvalidInput, OperatorHeader, raw)
	}
	return id, nil
}

func intParam(raw, name string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", model.ErrInvalidInput, name, raw)
	}
	return n, nil
}
