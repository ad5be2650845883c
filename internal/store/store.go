// Package store persists reference gadgets in a Pebble database.
//
// Keys:
//
//	gadget:<signature>   zstd-compressed JSON gadget
//	meta:<name>          plain text metadata (schema_version)
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"gadgetscan/internal/similarity"

	"github.com/cockroachdb/pebble"
	"github.com/klauspost/compress/zstd"
)

var (
	prefixGadget = []byte("gadget:")
	prefixMeta   = []byte("meta:")
)

// SchemaVersion is bumped when the stored gadget encoding changes.
const SchemaVersion = 1

var ErrNotFound = errors.New("store: gadget not found")

type Options struct {
	ReadOnly  bool
	CacheSize int64
}

func DefaultOptions() Options {
	return Options{CacheSize: 8 << 20}
}

// Store is a gadget library. Safe for concurrent use.
type Store struct {
	db *pebble.DB

	encOnce sync.Once
	enc     *zstd.Encoder
	dec     *zstd.Decoder
}

// Open opens or creates the library at path.
func Open(path string, opts Options) (*Store, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultOptions().CacheSize
	}
	if opts.ReadOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
	}
	cache := pebble.NewCache(opts.CacheSize)
	defer cache.Unref()
	db, err := pebble.Open(path, &pebble.Options{Cache: cache, ReadOnly: opts.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: zstd: %w", err)
	}
	s := &Store{db: db, dec: dec}

	v, err := s.meta("schema_version")
	switch {
	case err == nil:
		n, perr := strconv.Atoi(v)
		if perr != nil || n > SchemaVersion {
			s.Close()
			return nil, fmt.Errorf("store: %s: schema version %q not supported (max %d)", path, v, SchemaVersion)
		}
	case errors.Is(err, pebble.ErrNotFound) && !opts.ReadOnly:
		if err := s.db.Set(metaKey("schema_version"), []byte(strconv.Itoa(SchemaVersion)), pebble.Sync); err != nil {
			s.Close()
			return nil, fmt.Errorf("store: write schema version: %w", err)
		}
	case !errors.Is(err, pebble.ErrNotFound):
		s.Close()
		return nil, fmt.Errorf("store: read schema version: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.dec.Close()
	if s.enc != nil {
		s.enc.Close()
	}
	return s.db.Close()
}

func metaKey(name string) []byte {
	return append(append([]byte(nil), prefixMeta...), name...)
}

func gadgetKey(sig string) []byte {
	return append(append([]byte(nil), prefixGadget...), sig...)
}

func (s *Store) meta(name string) (string, error) {
	v, closer, err := s.db.Get(metaKey(name))
	if err != nil {
		return "", err
	}
	defer closer.Close()
	return string(v), nil
}

func (s *Store) encoder() *zstd.Encoder {
	s.encOnce.Do(func() {
		// A nil writer with default options cannot fail.
		s.enc, _ = zstd.NewWriter(nil)
	})
	return s.enc
}

func (s *Store) encode(g *similarity.Gadget) ([]byte, error) {
	raw, err := json.Marshal(g)
	if err != nil {
		return nil, err
	}
	return s.encoder().EncodeAll(raw, nil), nil
}

func (s *Store) decode(v []byte) (*similarity.Gadget, error) {
	raw, err := s.dec.DecodeAll(v, nil)
	if err != nil {
		return nil, err
	}
	var g similarity.Gadget
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Put stores gadgets keyed by signature in one batch, replacing any gadget
// with the same signature.
func (s *Store) Put(gs ...*similarity.Gadget) error {
	b := s.db.NewBatch()
	defer b.Close()
	for _, g := range gs {
		v, err := s.encode(g)
		if err != nil {
			return fmt.Errorf("store: encode %s: %w", g.Name, err)
		}
		if err := b.Set(gadgetKey(g.Signature), v, nil); err != nil {
			return fmt.Errorf("store: put %s: %w", g.Name, err)
		}
	}
	return b.Commit(pebble.Sync)
}

// Get returns the gadget with signature sig.
func (s *Store) Get(sig string) (*similarity.Gadget, error) {
	v, closer, err := s.db.Get(gadgetKey(sig))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sig)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", sig, err)
	}
	defer closer.Close()
	g, err := s.decode(v)
	if err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", sig, err)
	}
	return g, nil
}

func (s *Store) Delete(sig string) error {
	key := gadgetKey(sig)
	_, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, sig)
	}
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", sig, err)
	}
	closer.Close()
	return s.db.Delete(key, pebble.Sync)
}

// List returns every gadget in signature order. A non-empty vulnType
// keeps only gadgets of that type.
func (s *Store) List(vulnType string) ([]*similarity.Gadget, error) {
	var out []*similarity.Gadget
	err := s.scan(func(v []byte) error {
		g, err := s.decode(v)
		if err != nil {
			return err
		}
		if vulnType == "" || g.VulnType == vulnType {
			out = append(out, g)
		}
		return nil
	})
	return out, err
}

// Count returns the number of stored gadgets.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.scan(func([]byte) error {
		n++
		return nil
	})
	return n, err
}

func (s *Store) scan(fn func(v []byte) error) error {
	upper := append(append([]byte(nil), prefixGadget[:len(prefixGadget)-1]...), prefixGadget[len(prefixGadget)-1]+1)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefixGadget, UpperBound: upper})
	if err != nil {
		return fmt.Errorf("store: iterator: %w", err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return fmt.Errorf("store: %s: %w", iter.Key(), err)
		}
	}
	return iter.Error()
}
