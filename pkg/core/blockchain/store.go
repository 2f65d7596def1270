package blockchain

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/TuyenPKT/EGG-Project/pkg/core/types"
)

// Store key prefixes. Every namespace below is owned exclusively by the
// chain state engine.
var (
	prefixHeader    = []byte("hdr:")
	prefixBlock     = []byte("blk:")
	prefixBlockMeta = []byte("bmeta:")
	prefixChildren  = []byte("child:")
	prefixCanon     = []byte("canon:")
	keyTip          = []byte("tip:")
	keyMeta         = []byte("meta:")
)

// Record magics for the derived index records. Header and block bodies carry
// their canonical-codec magics already.
var (
	magicTip       = [8]byte{'E', 'G', 'G', '_', 'T', 'I', 'P', '0'}
	magicMeta      = [8]byte{'E', 'G', 'G', '_', 'M', 'E', 'T', '0'}
	magicBlockMeta = [8]byte{'E', 'G', 'G', '_', 'B', 'M', 'T', '0'}
	magicChildren  = [8]byte{'E', 'G', 'G', '_', 'C', 'H', 'L', '0'}
	magicCanon     = [8]byte{'E', 'G', 'G', '_', 'C', 'A', 'N', '0'}
)

// StoreErrorKind discriminates a record decode failure from an underlying
// KV failure.
type StoreErrorKind int

const (
	StoreKV StoreErrorKind = iota
	StoreDecode
)

// StoreError wraps every failure crossing the chain store boundary.
type StoreError struct {
	Op   string
	Kind StoreErrorKind
	Err  error
}

func (e *StoreError) Error() string {
	if e.Kind == StoreDecode {
		return fmt.Sprintf("store %s: decode: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s: kv: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func kvErr(op string, err error) error {
	return &StoreError{Op: op, Kind: StoreKV, Err: err}
}

func decodeErr(op string, err error) error {
	return &StoreError{Op: op, Kind: StoreDecode, Err: err}
}

// ChainStore provides the persisted record indices the chain state engine
// runs on. It is a thin, magic-checked record layer over a KV; it holds no
// in-memory state of its own.
type ChainStore struct {
	kv KV
}

// NewChainStore wraps a KV.
func NewChainStore(kv KV) *ChainStore {
	return &ChainStore{kv: kv}
}

// KV exposes the underlying store.
func (s *ChainStore) KV() KV { return s.kv }

func keyFor(prefix []byte, id types.Hash256) []byte {
	k := make([]byte, 0, len(prefix)+types.HashSize)
	k = append(k, prefix...)
	k = append(k, id[:]...)
	return k
}

func canonKey(h types.Height) []byte {
	k := make([]byte, 0, len(prefixCanon)+8)
	k = append(k, prefixCanon...)
	return binary.BigEndian.AppendUint64(k, uint64(h))
}

func (s *ChainStore) PutHeader(id types.Hash256, h *types.BlockHeader) error {
	if err := s.kv.Put(keyFor(prefixHeader, id), types.EncodeHeader(h)); err != nil {
		return kvErr("put_header", err)
	}
	return nil
}

func (s *ChainStore) GetHeader(id types.Hash256) (types.BlockHeader, error) {
	v, err := s.kv.Get(keyFor(prefixHeader, id))
	if err != nil {
		return types.BlockHeader{}, kvErr("get_header", err)
	}
	h, err := types.DecodeHeader(v)
	if err != nil {
		return types.BlockHeader{}, decodeErr("get_header", err)
	}
	return h, nil
}

func (s *ChainStore) HasHeader(id types.Hash256) (bool, error) {
	ok, err := s.kv.Has(keyFor(prefixHeader, id))
	if err != nil {
		return false, kvErr("has_header", err)
	}
	return ok, nil
}

func (s *ChainStore) PutBlock(id types.Hash256, b *types.Block) error {
	if err := s.kv.Put(keyFor(prefixBlock, id), types.EncodeBlock(b)); err != nil {
		return kvErr("put_block", err)
	}
	return nil
}

func (s *ChainStore) GetBlock(id types.Hash256) (types.Block, error) {
	v, err := s.kv.Get(keyFor(prefixBlock, id))
	if err != nil {
		return types.Block{}, kvErr("get_block", err)
	}
	b, err := types.DecodeBlock(v)
	if err != nil {
		return types.Block{}, decodeErr("get_block", err)
	}
	return b, nil
}

func (s *ChainStore) HasBlock(id types.Hash256) (bool, error) {
	ok, err := s.kv.Has(keyFor(prefixBlock, id))
	if err != nil {
		return false, kvErr("has_block", err)
	}
	return ok, nil
}

func (s *ChainStore) PutBlockMeta(id types.Hash256, m types.BlockMeta) error {
	out := make([]byte, 0, 8+types.HashSize+8)
	out = append(out, magicBlockMeta[:]...)
	out = append(out, m.Parent[:]...)
	out = binary.BigEndian.AppendUint64(out, uint64(m.Height))
	if err := s.kv.Put(keyFor(prefixBlockMeta, id), out); err != nil {
		return kvErr("put_block_meta", err)
	}
	return nil
}

// GetBlockMeta returns the meta record, or ok=false when absent.
func (s *ChainStore) GetBlockMeta(id types.Hash256) (types.BlockMeta, bool, error) {
	v, err := s.kv.Get(keyFor(prefixBlockMeta, id))
	if errors.Is(err, ErrKeyNotFound) {
		return types.BlockMeta{}, false, nil
	}
	if err != nil {
		return types.BlockMeta{}, false, kvErr("get_block_meta", err)
	}
	if len(v) != 8+types.HashSize+8 || string(v[:8]) != string(magicBlockMeta[:]) {
		return types.BlockMeta{}, false, decodeErr("get_block_meta", errors.New("bad block meta record"))
	}
	var m types.BlockMeta
	copy(m.Parent[:], v[8:8+types.HashSize])
	m.Height = types.Height(binary.BigEndian.Uint64(v[8+types.HashSize:]))
	return m, true, nil
}

// AddChild appends child under parent's children record. Duplicates are
// suppressed, so the call is idempotent.
func (s *ChainStore) AddChild(parent, child types.Hash256) error {
	children, err := s.GetChildren(parent)
	if err != nil {
		return err
	}
	for _, c := range children {
		if c == child {
			return nil
		}
	}
	children = append(children, child)

	out := make([]byte, 0, 8+4+len(children)*types.HashSize)
	out = append(out, magicChildren[:]...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(children)))
	for _, c := range children {
		out = append(out, c[:]...)
	}
	if err := s.kv.Put(keyFor(prefixChildren, parent), out); err != nil {
		return kvErr("add_child", err)
	}
	return nil
}

// GetChildren lists the known children of parent; empty when none recorded.
func (s *ChainStore) GetChildren(parent types.Hash256) ([]types.Hash256, error) {
	v, err := s.kv.Get(keyFor(prefixChildren, parent))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, kvErr("get_children", err)
	}
	if len(v) < 12 || string(v[:8]) != string(magicChildren[:]) {
		return nil, decodeErr("get_children", errors.New("bad children record"))
	}
	n := binary.BigEndian.Uint32(v[8:12])
	if len(v) != 12+int(n)*types.HashSize {
		return nil, decodeErr("get_children", errors.New("children record length mismatch"))
	}
	out := make([]types.Hash256, n)
	for i := uint32(0); i < n; i++ {
		copy(out[i][:], v[12+int(i)*types.HashSize:])
	}
	return out, nil
}

func (s *ChainStore) SetCanonHash(h types.Height, id types.Hash256) error {
	out := make([]byte, 0, 8+types.HashSize)
	out = append(out, magicCanon[:]...)
	out = append(out, id[:]...)
	if err := s.kv.Put(canonKey(h), out); err != nil {
		return kvErr("set_canon", err)
	}
	return nil
}

// GetCanonHash returns the canonical hash at height h, or ok=false.
func (s *ChainStore) GetCanonHash(h types.Height) (types.Hash256, bool, error) {
	v, err := s.kv.Get(canonKey(h))
	if errors.Is(err, ErrKeyNotFound) {
		return types.Hash256{}, false, nil
	}
	if err != nil {
		return types.Hash256{}, false, kvErr("get_canon", err)
	}
	if len(v) != 8+types.HashSize || string(v[:8]) != string(magicCanon[:]) {
		return types.Hash256{}, false, decodeErr("get_canon", errors.New("bad canon record"))
	}
	var id types.Hash256
	copy(id[:], v[8:])
	return id, true, nil
}

func (s *ChainStore) SetTip(tip types.ChainTip) error {
	out := make([]byte, 0, 8+8+types.HashSize)
	out = append(out, magicTip[:]...)
	out = binary.BigEndian.AppendUint64(out, uint64(tip.Height))
	out = append(out, tip.Hash[:]...)
	if err := s.kv.Put(keyTip, out); err != nil {
		return kvErr("set_tip", err)
	}
	return nil
}

// GetTip returns the current tip, or ok=false on a fresh store.
func (s *ChainStore) GetTip() (types.ChainTip, bool, error) {
	v, err := s.kv.Get(keyTip)
	if errors.Is(err, ErrKeyNotFound) {
		return types.ChainTip{}, false, nil
	}
	if err != nil {
		return types.ChainTip{}, false, kvErr("get_tip", err)
	}
	if len(v) != 8+8+types.HashSize || string(v[:8]) != string(magicTip[:]) {
		return types.ChainTip{}, false, decodeErr("get_tip", errors.New("bad tip record"))
	}
	var tip types.ChainTip
	tip.Height = types.Height(binary.BigEndian.Uint64(v[8:16]))
	copy(tip.Hash[:], v[16:])
	return tip, true, nil
}

func (s *ChainStore) SetMeta(m types.ChainMeta) error {
	out := make([]byte, 0, 8+4+2*types.HashSize)
	out = append(out, magicMeta[:]...)
	out = binary.BigEndian.AppendUint32(out, m.ChainID)
	out = append(out, m.GenesisID[:]...)
	out = append(out, m.ChainSpecHash[:]...)
	if err := s.kv.Put(keyMeta, out); err != nil {
		return kvErr("set_meta", err)
	}
	return nil
}

// GetMeta returns the chain identity record, or ok=false when unset.
func (s *ChainStore) GetMeta() (types.ChainMeta, bool, error) {
	v, err := s.kv.Get(keyMeta)
	if errors.Is(err, ErrKeyNotFound) {
		return types.ChainMeta{}, false, nil
	}
	if err != nil {
		return types.ChainMeta{}, false, kvErr("get_meta", err)
	}
	if len(v) != 8+4+2*types.HashSize || string(v[:8]) != string(magicMeta[:]) {
		return types.ChainMeta{}, false, decodeErr("get_meta", errors.New("bad meta record"))
	}
	var m types.ChainMeta
	m.ChainID = binary.BigEndian.Uint32(v[8:12])
	copy(m.GenesisID[:], v[12:12+types.HashSize])
	copy(m.ChainSpecHash[:], v[12+types.HashSize:])
	return m, true, nil
}
