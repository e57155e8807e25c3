// Package diskv implements the resume slot on top of the diskv key-value
// store, one file per key under the daemon's private data directory.
package diskv

import (
	"context"
	"path/filepath"

	"github.com/peterbourgon/diskv/v3"
)

const (
	keyRequest = "request"
	keyArmed   = "armed"
)

// Diskv is a diskv-backed resume slot store.
type Diskv struct {
	dv *diskv.Diskv
}

// New creates a resume slot rooted at path.
func New(path string) *Diskv {
	flatTransform := func(s string) []string { return []string{} }
	return &Diskv{dv: diskv.New(diskv.Options{
		BasePath:     filepath.Join(path, "resume"),
		Transform:    flatTransform,
		CacheSizeMax: 1024 * 1024,
	})}
}

func (s *Diskv) SaveRequest(_ context.Context, data []byte) error {
	return s.dv.Write(keyRequest, data)
}

func (s *Diskv) LoadRequest(_ context.Context) ([]byte, bool, error) {
	if !s.dv.Has(keyRequest) {
		return nil, false, nil
	}
	data, err := s.dv.Read(keyRequest)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *Diskv) DeleteRequest(_ context.Context) error {
	if !s.dv.Has(keyRequest) {
		return nil
	}
	return s.dv.Erase(keyRequest)
}

func (s *Diskv) SetArmed(_ context.Context, armed bool) error {
	if !armed {
		if !s.dv.Has(keyArmed) {
			return nil
		}
		return s.dv.Erase(keyArmed)
	}
	return s.dv.Write(keyArmed, []byte("1"))
}

func (s *Diskv) Armed(_ context.Context) (bool, error) {
	return s.dv.Has(keyArmed), nil
}
