package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	levelAuditPrefix   = "audit:"
	levelAuditSequence = "audit:sequence"
)

// LevelDBStore persists outcomes to an embedded LevelDB, grounded on the
// teacher's driver/leveldb.LevelDBDriver: a monotonic sequence key plus
// one record per entry, iterated by key prefix for Recent.
type LevelDBStore struct {
	db *leveldb.DB
}

// NewLevelDBStore opens (or recovers) the database at dbpath.
func NewLevelDBStore(dbpath string) (*LevelDBStore, error) {
	var db *leveldb.DB
	var err error
	if _, statErr := os.Stat(dbpath); statErr == nil {
		db, err = leveldb.RecoverFile(dbpath, nil)
	} else {
		db, err = leveldb.OpenFile(dbpath, nil)
	}
	if err != nil {
		return nil, err
	}
	return &LevelDBStore{db: db}, nil
}

func (l *LevelDBStore) Record(o JobOutcome) error {
	batch := new(leveldb.Batch)

	var seq int64
	last, err := l.db.Get([]byte(levelAuditSequence), nil)
	if err == nil && last != nil {
		seq, _ = strconv.ParseInt(string(last), 10, 64)
	}
	seq++
	batch.Put([]byte(levelAuditSequence), []byte(strconv.FormatInt(seq, 10)))

	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	// Zero-padded so that key order, which Recent iterates in, is
	// insertion order.
	key := fmt.Sprintf("%s%020d", levelAuditPrefix, seq)
	batch.Put([]byte(key), data)

	return l.db.Write(batch, nil)
}

func (l *LevelDBStore) Recent(limit int) ([]JobOutcome, error) {
	if limit <= 0 {
		limit = 100
	}
	iter := l.db.NewIterator(util.BytesPrefix([]byte(levelAuditPrefix)), nil)
	defer iter.Release()

	var all []JobOutcome
	for iter.Next() {
		var o JobOutcome
		if err := json.Unmarshal(iter.Value(), &o); err == nil {
			all = append(all, o)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	// Most recent first, matching MemStore/RedisStore ordering.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

func (l *LevelDBStore) Close() error {
	return l.db.Close()
}
