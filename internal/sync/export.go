package sync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/alfredjeanlab/ctxreg/internal/model"
)

// Source lists every record of a kind. store.Store satisfies it.
type Source interface {
	ListAllRecords(ctx context.Context, kind model.Kind) ([]*model.Record, error)
}

// SourceFunc adapts a list function, such as a client's ListAll, to Source.
type SourceFunc func(ctx context.Context, kind model.Kind) ([]*model.Record, error)

func (f SourceFunc) ListAllRecords(ctx context.Context, kind model.Kind) ([]*model.Record, error) {
	return f(ctx, kind)
}

// exportKinds is the order in which kinds appear in a snapshot.
var exportKinds = []model.Kind{model.KindEnvironment, model.KindCluster}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version          string    `json:"version"`
	Type             string    `json:"type"`
	Timestamp        time.Time `json:"timestamp"`
	EnvironmentCount int       `json:"environment_count"`
	ClusterCount     int       `json:"cluster_count"`
}

// record wraps a single JSONL line with a type discriminator, the record's
// kind.
type record struct {
	Type string        `json:"type"`
	Data *model.Record `json:"data"`
}

// Snapshot is one JSONL export of the registry held in memory.
type Snapshot struct {
	Data []byte
	// Digest is the hex SHA-256 of every line after the header, so it only
	// changes when records do.
	Digest string
	Counts map[model.Kind]int
}

// Summary describes the snapshot's contents, e.g. "3 environments, 1 cluster".
func (s *Snapshot) Summary() string {
	parts := make([]string, 0, len(exportKinds))
	for _, kind := range exportKinds {
		n := s.Counts[kind]
		noun := string(kind)
		if n != 1 {
			noun += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, noun))
	}
	return strings.Join(parts, ", ")
}

// ShortDigest is the first 12 hex digits of Digest.
func (s *Snapshot) ShortDigest() string {
	if len(s.Digest) > 12 {
		return s.Digest[:12]
	}
	return s.Digest
}

// TakeSnapshot exports src into memory.
func TakeSnapshot(ctx context.Context, src Source) (*Snapshot, error) {
	var buf bytes.Buffer
	counts, err := exportJSONL(ctx, src, &buf)
	if err != nil {
		return nil, err
	}
	data := buf.Bytes()
	return &Snapshot{Data: data, Digest: snapshotDigest(data), Counts: counts}, nil
}

// ExportJSONL writes all environments and then all clusters from src as
// JSONL to w, each kind sorted by code. Worker groups are embedded in each
// record.
func ExportJSONL(ctx context.Context, src Source, w io.Writer) error {
	_, err := exportJSONL(ctx, src, w)
	return err
}

func exportJSONL(ctx context.Context, src Source, w io.Writer) (map[model.Kind]int, error) {
	byKind := make(map[model.Kind][]*model.Record, len(exportKinds))
	for _, kind := range exportKinds {
		records, err := src.ListAllRecords(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("list %ss: %w", kind, err)
		}
		slices.SortFunc(records, func(a, b *model.Record) int {
			switch {
			case a.Code < b.Code:
				return -1
			case a.Code > b.Code:
				return 1
			}
			return 0
		})
		byKind[kind] = records
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:          "1",
		Type:             "header",
		Timestamp:        time.Now().UTC(),
		EnvironmentCount: len(byKind[model.KindEnvironment]),
		ClusterCount:     len(byKind[model.KindCluster]),
	}); err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}

	counts := make(map[model.Kind]int, len(exportKinds))
	for _, kind := range exportKinds {
		for _, r := range byKind[kind] {
			if err := enc.Encode(record{Type: string(kind), Data: r}); err != nil {
				return nil, fmt.Errorf("encode %s %d: %w", kind, r.Code, err)
			}
		}
		counts[kind] = len(byKind[kind])
	}
	return counts, nil
}

// snapshotBody returns data without its header line, so snapshots taken at
// different times with the same records compare equal.
func snapshotBody(data []byte) []byte {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return data[i+1:]
	}
	return nil
}

// snapshotDigest is the hex SHA-256 of snapshotBody(data).
func snapshotDigest(data []byte) string {
	sum := sha256.Sum256(snapshotBody(data))
	return hex.EncodeToString(sum[:])
}
