package main

import (
	"encoding/json"
	"os"

	"github.com/driftmesh/meshcore/pkg/identity"
)

// fileStore persists a node's KeyMaterial as JSON on disk, the
// file-backed analogue of the teacher's examples/common/app.go
// in-memory Storage fallback (the teacher never shipped a real
// file-backed Matter Storage; this mesh node does, since durable
// per-installation identity is central to this domain).
type fileStore struct {
	path string
}

func (s *fileStore) Load() (*identity.KeyMaterial, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, identity.ErrNoKeyMaterial
		}
		return nil, err
	}
	var km identity.KeyMaterial
	if err := json.Unmarshal(data, &km); err != nil {
		return nil, err
	}
	return &km, nil
}

func (s *fileStore) Save(km *identity.KeyMaterial) error {
	data, err := json.MarshalIndent(km, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// memoryStore is the in-memory fallback used when -identity is empty,
// matching the teacher's own in-memory-by-default Storage posture for
// throwaway runs.
type memoryStore struct {
	km *identity.KeyMaterial
}

func (s *memoryStore) Load() (*identity.KeyMaterial, error) {
	if s.km == nil {
		return nil, identity.ErrNoKeyMaterial
	}
	return s.km, nil
}

func (s *memoryStore) Save(km *identity.KeyMaterial) error {
	s.km = km
	return nil
}
