package fragment

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var shardPrefix = []byte("shard/")

// shardRecord is the value stored for every key.
type shardRecord struct {
	Group string
	Type  Type
	Shard []byte
}

// LevelBackend stores shards in a goleveldb database.
type LevelBackend struct {
	db *leveldb.DB
}

// OpenLevelBackend opens or creates the database at path.
func OpenLevelBackend(path string) (*LevelBackend, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("fragment: open %s: %w", path, err)
	}
	return &LevelBackend{db: db}, nil
}

// NewLevelBackend wraps an already open database. The backend owns db.
func NewLevelBackend(db *leveldb.DB) *LevelBackend {
	return &LevelBackend{db: db}
}

func levelKey(group string, t Type) []byte {
	k := make([]byte, 0, len(shardPrefix)+len(group)+1+len(t))
	k = append(k, shardPrefix...)
	k = append(k, group...)
	k = append(k, 0)
	k = append(k, t...)
	return k
}

func (b *LevelBackend) Get(group string, t Type) ([]byte, bool, error) {
	v, err := b.db.Get(levelKey(group, t), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fragment: leveldb get: %w", err)
	}
	var rec shardRecord
	if err := cbor.Unmarshal(v, &rec); err != nil {
		return nil, false, fmt.Errorf("fragment: decode shard: %w", err)
	}
	if len(rec.Shard) == 0 {
		return nil, false, nil
	}
	return rec.Shard, true, nil
}

func (b *LevelBackend) Put(group string, t Type, shard []byte) error {
	v, err := cbor.Marshal(shardRecord{Group: group, Type: t, Shard: shard})
	if err != nil {
		return fmt.Errorf("fragment: encode shard: %w", err)
	}
	if err := b.db.Put(levelKey(group, t), v, nil); err != nil {
		return fmt.Errorf("fragment: leveldb put: %w", err)
	}
	return nil
}

func (b *LevelBackend) Clear() error {
	iter := b.db.NewIterator(util.BytesPrefix(shardPrefix), nil)
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("fragment: leveldb iterate: %w", err)
	}
	if err := b.db.Write(batch, nil); err != nil {
		return fmt.Errorf("fragment: leveldb clear: %w", err)
	}
	return nil
}

func (b *LevelBackend) List() (map[string][]Type, error) {
	out := make(map[string][]Type)
	iter := b.db.NewIterator(util.BytesPrefix(shardPrefix), nil)
	defer iter.Release()
	for iter.Next() {
		var rec shardRecord
		if err := cbor.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("fragment: decode shard: %w", err)
		}
		out[rec.Group] = append(out[rec.Group], rec.Type)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("fragment: leveldb iterate: %w", err)
	}
	for _, types := range out {
		sortTypes(types)
	}
	return out, nil
}

func (b *LevelBackend) Close() error {
	return b.db.Close()
}
