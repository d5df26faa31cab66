package dataset

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/banshee-data/winrate/internal/monitoring"
	"github.com/banshee-data/winrate/internal/votes"
)

// CacheStatus reports where a pair of matrices came from.
type CacheStatus int

const (
	CacheDisabled CacheStatus = iota
	CacheMiss
	CacheHit
)

func (s CacheStatus) String() string {
	switch s {
	case CacheHit:
		return "hit"
	case CacheMiss:
		return "miss"
	}
	return "disabled"
}

// Cache stores encoded matrices by content key. ok is false on a miss.
type Cache interface {
	Get(ctx context.Context, key string) (payload []byte, ok bool, err error)
	Put(ctx context.Context, key, dataset, comparison string, payload []byte) error
	Delete(ctx context.Context, key string) error
}

// Matrices are the voting and truth matrices for one comparison.
type Matrices struct {
	Voting *votes.Matrix `json:"voting"`
	Truth  *votes.Matrix `json:"truth"`
	Cache  CacheStatus   `json:"-"`
}

// Loader builds matrices from a source with an optional cache in front.
type Loader struct {
	Source Source
	Cache  Cache
}

// Load returns the matrices for req. With req.LoadCache set a stored entry
// is used as is; a corrupt entry is logged and rebuilt. Fresh matrices are
// written back whenever a cache is configured and write failures are only
// logged.
func (l *Loader) Load(ctx context.Context, req Request) (*Matrices, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if l.Cache == nil {
		return l.build(ctx, req, CacheDisabled)
	}
	key, err := req.Key(l.Source.Name())
	if err != nil {
		return nil, err
	}
	if req.LoadCache {
		payload, ok, err := l.Cache.Get(ctx, key)
		switch {
		case err != nil:
			monitoring.Logf("matrix cache: read %s failed: %v", req.Comparison(), err)
		case ok:
			var m Matrices
			if err := json.Unmarshal(payload, &m); err != nil || m.Voting == nil || m.Truth == nil {
				monitoring.Logf("matrix cache: corrupt entry for %s, rebuilding: %v", req.Comparison(), err)
				if err := l.Cache.Delete(ctx, key); err != nil {
					monitoring.Logf("matrix cache: delete %s failed: %v", key, err)
				}
			} else {
				m.Cache = CacheHit
				return &m, nil
			}
		}
	}
	m, err := l.build(ctx, req, CacheMiss)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(m)
	if err != nil {
		monitoring.Logf("matrix cache: encode %s failed: %v", req.Comparison(), err)
		return m, nil
	}
	if err := l.Cache.Put(ctx, key, l.Source.Name(), req.Comparison(), payload); err != nil {
		monitoring.Logf("matrix cache: write %s failed: %v", req.Comparison(), err)
	}
	return m, nil
}

func (l *Loader) build(ctx context.Context, req Request, status CacheStatus) (*Matrices, error) {
	voting, truth, err := l.Source.Build(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.Source.Name(), err)
	}
	return &Matrices{Voting: voting, Truth: truth, Cache: status}, nil
}
