// Package registry implements the environment and cluster registries: code
// assignment, name uniqueness, worker-group association and usage-protected
// deletion on top of a store.Store.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/alfredjeanlab/ctxreg/internal/events"
	"github.com/alfredjeanlab/ctxreg/internal/idgen"
	"github.com/alfredjeanlab/ctxreg/internal/model"
	"github.com/alfredjeanlab/ctxreg/internal/store"
	"github.com/alfredjeanlab/ctxreg/internal/usage"
)

// DefaultStoreTimeout bounds every store, generator and usage-index call.
const DefaultStoreTimeout = 5 * time.Second

// Service is the registry for one record kind. It is safe for concurrent
// use; all state lives in the store.
type Service struct {
	kind      model.Kind
	store     store.Store
	codes     idgen.Generator
	usage     usage.Index
	validate  model.ConfigValidator
	publisher events.Publisher
	logger    *slog.Logger
	timeout   time.Duration
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithUsageIndex sets the index consulted before deletes. Without one every
// record is treated as unreferenced.
func WithUsageIndex(idx usage.Index) Option {
	return func(s *Service) { s.usage = idx }
}

// WithConfigValidator replaces model.DefaultConfigValidator.
func WithConfigValidator(v model.ConfigValidator) Option {
	return func(s *Service) { s.validate = v }
}

// WithPublisher sets the publisher that receives record events.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithLogger replaces slog.Default for the service's mutation logs.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithStoreTimeout overrides DefaultStoreTimeout. Zero disables the bound.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// New returns the registry for kind.
func New(kind model.Kind, st store.Store, codes idgen.Generator, opts ...Option) (*Service, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("registry: %w: unknown kind %q", model.ErrInvalidInput, kind)
	}
	s := &Service{
		kind:     kind,
		store:    st,
		codes:    codes,
		usage:    usage.NewStatic(),
		validate: model.DefaultConfigValidator,
		logger:   slog.Default(),
		timeout:  DefaultStoreTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("kind", string(kind))
	if s.publisher == nil {
		s.publisher = events.NewLogPublisher(s.logger)
	}
	return s, nil
}

// Kind returns the record kind this registry manages.
func (s *Service) Kind() model.Kind { return s.kind }

// CreateInput holds the caller-supplied fields of a new record.
type CreateInput struct {
	OperatorID   int64    `json:"operator_id"`
	Name         string   `json:"name"`
	Config       string   `json:"config"`
	Description  string   `json:"description,omitempty"`
	WorkerGroups []string `json:"worker_groups,omitempty"`
}

// UpdateInput holds the full desired state of an existing record. The
// worker-group set replaces the current one.
type UpdateInput struct {
	OperatorID   int64    `json:"operator_id"`
	Code         int64    `json:"code"`
	Name         string   `json:"name"`
	Config       string   `json:"config"`
	Description  string   `json:"description,omitempty"`
	WorkerGroups []string `json:"worker_groups,omitempty"`
}

// Create validates in, assigns a fresh code and stores the record.
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Record, error) {
	r := &model.Record{
		Kind:         s.kind,
		Name:         strings.TrimSpace(in.Name),
		Config:       in.Config,
		Description:  strings.TrimSpace(in.Description),
		OperatorID:   in.OperatorID,
		WorkerGroups: model.NormalizeWorkerGroups(in.WorkerGroups),
	}
	if err := s.check(r); err != nil {
		return nil, err
	}

	code, err := s.nextCode(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC().Truncate(time.Microsecond)
	r.Code = code
	r.CreatedAt = now
	r.UpdatedAt = now

	err = s.call(ctx, func(ctx context.Context) error {
		return s.store.CreateRecord(ctx, r)
	})
	if err != nil {
		return nil, fmt.Errorf("create %s %q: %w", s.kind, r.Name, err)
	}

	s.logger.Info("record created", "code", r.Code, "name", r.Name, "operator", r.OperatorID)
	s.publish(ctx, events.TopicRecordCreated, events.RecordCreated{
		EventID: events.NewEventID(),
		At:      now,
		Record:  r.Clone(),
	})
	return r, nil
}

// Update replaces the mutable fields of the record with in. Code and
// creation time never change.
func (s *Service) Update(ctx context.Context, in UpdateInput) (*model.Record, error) {
	want := &model.Record{
		Code:         in.Code,
		Kind:         s.kind,
		Name:         strings.TrimSpace(in.Name),
		Config:       in.Config,
		Description:  strings.TrimSpace(in.Description),
		OperatorID:   in.OperatorID,
		WorkerGroups: model.NormalizeWorkerGroups(in.WorkerGroups),
	}
	if err := s.check(want); err != nil {
		return nil, err
	}

	var changes []string
	var updated *model.Record
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.store.UpdateRecord(ctx, in.Code, func(r *model.Record) error {
			if r.Kind != s.kind {
				return fmt.Errorf("%s %d: %w", s.kind, in.Code, model.ErrNotFound)
			}
			changes = diff(r, want)
			r.Name = want.Name
			r.Config = want.Config
			r.Description = want.Description
			r.OperatorID = want.OperatorID
			r.WorkerGroups = want.WorkerGroups
			return nil
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update %s %d: %w", s.kind, in.Code, err)
	}

	s.logger.Info("record updated", "code", updated.Code, "name", updated.Name, "operator", updated.OperatorID, "changes", changes)
	s.publish(ctx, events.TopicRecordUpdated, events.RecordUpdated{
		EventID: events.NewEventID(),
		At:      updated.UpdatedAt,
		Record:  updated.Clone(),
		Changes: changes,
	})
	return updated, nil
}

// Get returns the record with its worker groups and the names of the
// workflow definitions that reference it.
func (s *Service) Get(ctx context.Context, code int64) (*model.Record, error) {
	r, err := s.get(ctx, code)
	if err != nil {
		return nil, err
	}
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		r.References, err = s.usage.References(ctx, s.kind, code)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("references of %s %d: %w", s.kind, code, err)
	}
	return r, nil
}

// ListPaging returns one page of records whose name contains search,
// ordered by code. A page past the end is empty, not an error.
func (s *Service) ListPaging(ctx context.Context, search string, pageNo, pageSize int) (*model.Page, error) {
	if pageNo < 1 || pageSize < 1 {
		return nil, fmt.Errorf("%w: pageNo and pageSize must be positive (got %d, %d)", model.ErrInvalidInput, pageNo, pageSize)
	}
	filter := model.RecordFilter{
		Kind:     s.kind,
		Search:   strings.TrimSpace(search),
		Page:     pageNo,
		PageSize: pageSize,
	}

	var (
		items []*model.Record
		total int
	)
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		items, total, err = s.store.ListRecords(ctx, filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.kind, err)
	}
	return model.NewPage(items, total, pageNo, pageSize), nil
}

// ListAll returns every live record, ordered by code.
func (s *Service) ListAll(ctx context.Context) ([]*model.Record, error) {
	var records []*model.Record
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		records, err = s.store.ListAllRecords(ctx, s.kind)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list all %s: %w", s.kind, err)
	}
	return records, nil
}

// Delete removes an unreferenced record together with its worker-group
// associations. The usage check and the delete are not atomic with respect
// to definitions created concurrently elsewhere.
func (s *Service) Delete(ctx context.Context, operatorID, code int64) error {
	r, err := s.get(ctx, code)
	if err != nil {
		return err
	}

	var (
		referenced bool
		refs       []string
	)
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		referenced, err = s.usage.IsReferenced(ctx, s.kind, code)
		if err != nil || !referenced {
			return err
		}
		refs, err = s.usage.References(ctx, s.kind, code)
		return err
	})
	if err != nil {
		return fmt.Errorf("usage of %s %d: %w", s.kind, code, err)
	}
	if referenced {
		return fmt.Errorf("delete %s %d: %w: referenced by [%s]", s.kind, code, model.ErrInUse, strings.Join(refs, ", "))
	}

	err = s.call(ctx, func(ctx context.Context) error {
		return s.store.DeleteRecord(ctx, code)
	})
	if err != nil {
		return fmt.Errorf("delete %s %d: %w", s.kind, code, err)
	}

	s.logger.Info("record deleted", "code", code, "name", r.Name, "operator", operatorID)
	s.publish(ctx, events.TopicRecordDeleted, events.RecordDeleted{
		EventID:    events.NewEventID(),
		At:         s.now().UTC(),
		Kind:       s.kind,
		Code:       code,
		Name:       r.Name,
		OperatorID: operatorID,
	})
	return nil
}

// VerifyName reports whether name is free within this registry. A blank
// name is never available.
func (s *Service) VerifyName(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, nil
	}
	err := s.call(ctx, func(ctx context.Context) error {
		_, err := s.store.GetRecordByName(ctx, s.kind, name)
		return err
	})
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, model.ErrNotFound):
		return true, nil
	}
	return false, fmt.Errorf("verify %s name %q: %w", s.kind, name, err)
}

// get loads a record, hiding records of the other kind.
func (s *Service) get(ctx context.Context, code int64) (*model.Record, error) {
	var r *model.Record
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		r, err = s.store.GetRecord(ctx, code)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get %s %d: %w", s.kind, code, err)
	}
	if r.Kind != s.kind {
		return nil, fmt.Errorf("get %s %d: %w", s.kind, code, model.ErrNotFound)
	}
	return r, nil
}

func (s *Service) check(r *model.Record) error {
	if err := model.ValidateRecord(r); err != nil {
		return err
	}
	if err := s.validate(s.kind, r.Config); err != nil {
		if !errors.Is(err, model.ErrInvalidConfig) {
			err = fmt.Errorf("%w: %w", model.ErrInvalidConfig, err)
		}
		return err
	}
	return nil
}

func (s *Service) nextCode(ctx context.Context) (int64, error) {
	var code int64
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		code, err = s.codes.NextCode(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, model.ErrGenerationExhausted) {
			s.logger.Error("code space exhausted", "error", err)
		}
		return 0, fmt.Errorf("assign %s code: %w", s.kind, err)
	}
	return code, nil
}

// call runs fn under the store timeout. Deadline overruns surface as
// model.ErrTransient.
func (s *Service) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	err := fn(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, model.ErrTransient) {
		err = fmt.Errorf("%w: %w", model.ErrTransient, err)
	}
	return err
}

// publish emits an event. Delivery is best-effort: the mutation has
// already committed, so failures are only logged.
func (s *Service) publish(ctx context.Context, topic string, event any) {
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		s.logger.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

// diff names the fields of cur that differ from want.
func diff(cur, want *model.Record) []string {
	var changes []string
	if cur.Name != want.Name {
		changes = append(changes, "name")
	}
	if cur.Config != want.Config {
		changes = append(changes, "config")
	}
	if cur.Description != want.Description {
		changes = append(changes, "description")
	}
	if cur.OperatorID != want.OperatorID {
		changes = append(changes, "operator_id")
	}
	if !slices.Equal(model.NormalizeWorkerGroups(cur.WorkerGroups), want.WorkerGroups) {
		changes = append(changes, "worker_groups")
	}
	return changes
}
