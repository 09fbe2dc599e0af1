// Package policystate persists the smartmem/smartcpu/smartshare adaptive
// coefficients to an embedded ledisdb, the way the teacher's db package
// (db/conn_ledis.go, db/utils_ledis.go) opens one DB handle and stores
// JSON blobs under simple string keys. Without this, a supervisor
// restart (spec.md §4.6) would reset every EMA coefficient to zero.
package policystate

import (
	"encoding/json"
	"fmt"

	"github.com/distcomp/peerslave/internal/registry"
	"github.com/ledisdb/ledisdb/config"
	"github.com/ledisdb/ledisdb/ledis"
)

const keyPrefix = "policystate:"

func keyFor(name registry.PolicyName) string {
	switch name {
	case registry.PolicySmartMem:
		return keyPrefix + "smartmem"
	case registry.PolicySmartCPU:
		return keyPrefix + "smartcpu"
	case registry.PolicySmartShare:
		return keyPrefix + "smartshare"
	}
	return keyPrefix + "unknown"
}

// Store is the ledisdb-backed persistence layer for PolicySwitch state.
type Store struct {
	l  *ledis.Ledis
	db *ledis.DB
}

// Open creates or attaches to a ledisdb instance rooted at dataDir.
func Open(dataDir string) (*Store, error) {
	cfg := config.NewConfigDefault()
	cfg.DataDir = dataDir
	l, err := ledis.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("policystate: open %s: %w", dataDir, err)
	}
	db, err := l.Select(0)
	if err != nil {
		return nil, fmt.Errorf("policystate: select db 0: %w", err)
	}
	return &Store{l: l, db: db}, nil
}

// Close releases the underlying ledisdb instance.
func (s *Store) Close() error {
	s.l.Close()
	return nil
}

// Save persists one policy switch's current state.
func (s *Store) Save(name registry.PolicyName, sw registry.PolicySwitch) error {
	data, err := json.Marshal(sw)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(keyFor(name)), data)
}

// Load retrieves a previously persisted policy switch. ok is false if
// nothing has been saved under that name yet.
func (s *Store) Load(name registry.PolicyName) (sw registry.PolicySwitch, ok bool, err error) {
	data, err := s.db.Get([]byte(keyFor(name)))
	if err != nil {
		return registry.PolicySwitch{}, false, err
	}
	if data == nil {
		return registry.PolicySwitch{}, false, nil
	}
	if err := json.Unmarshal(data, &sw); err != nil {
		return registry.PolicySwitch{}, false, err
	}
	return sw, true, nil
}

// Restore loads every policy switch it has a record for into reg,
// preserving whatever Enabled flag the registry was already seeded
// with from CLI flags — only Param is taken from the store, since
// "is this policy on" is a startup decision, not learned state.
func (s *Store) Restore(reg *registry.Registry) error {
	for _, name := range []registry.PolicyName{
		registry.PolicySmartMem, registry.PolicySmartCPU, registry.PolicySmartShare,
	} {
		sw, ok, err := s.Load(name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		reg.UpdatePolicyParam(name, func(float64) float64 { return sw.Param })
	}
	return nil
}
