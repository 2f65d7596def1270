package types

import (
	"encoding/binary"
	"fmt"
)

// Canonical binary encodings. Every record starts with an 8-byte magic
// identifying its kind and version; scalars are big-endian.
var (
	MagicHeader = [8]byte{'E', 'G', 'G', '_', 'H', 'D', 'R', '0'}
	MagicTx     = [8]byte{'E', 'G', 'G', '_', 'T', 'X', '0', 0}
	MagicTxBody = [8]byte{'E', 'G', 'G', '_', 'T', 'B', 'D', '0'}
	MagicBlock  = [8]byte{'E', 'G', 'G', '_', 'B', 'L', 'K', '0'}
	MagicSpec   = [8]byte{'E', 'G', 'G', '_', 'S', 'P', 'C', '0'}
)

// HeaderEncodedLen is the fixed size of a canonical block header:
// magic(8) + parent(32) + height(8) + timestamp(8) + nonce(8) + merkle(32) + bits(4).
const HeaderEncodedLen = 100

// CodecError reports a canonical decode failure at a byte offset.
type CodecError struct {
	At        int
	Needed    int
	Remaining int
	Kind      CodecErrorKind
}

// CodecErrorKind discriminates the decode failure modes.
type CodecErrorKind int

const (
	CodecUnexpectedEOF CodecErrorKind = iota
	CodecInvalidMagic
	CodecLengthOverflow
)

func (e *CodecError) Error() string {
	switch e.Kind {
	case CodecInvalidMagic:
		return fmt.Sprintf("invalid magic at %d", e.At)
	case CodecLengthOverflow:
		return fmt.Sprintf("length overflow at %d", e.At)
	default:
		return fmt.Sprintf("unexpected eof at %d (needed %d, remaining %d)", e.At, e.Needed, e.Remaining)
	}
}

func eofErr(at, needed, remaining int) error {
	return &CodecError{At: at, Needed: needed, Remaining: remaining, Kind: CodecUnexpectedEOF}
}

// cursor is a bounds-checked reader over an immutable byte slice.
type cursor struct {
	buf []byte
	pos int
}

func newCursor(buf []byte) *cursor {
	return &cursor{buf: buf}
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.pos
}

func (c *cursor) take(n int) ([]byte, error) {
	if rem := c.remaining(); rem < n {
		return nil, eofErr(c.pos, n, rem)
	}
	out := c.buf[c.pos : c.pos+n]
	c.pos += n
	return out, nil
}

func (c *cursor) takeU32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (c *cursor) takeU64() (uint64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (c *cursor) takeI64() (int64, error) {
	v, err := c.takeU64()
	return int64(v), err
}

func (c *cursor) takeHash() (Hash256, error) {
	b, err := c.take(HashSize)
	if err != nil {
		return Hash256{}, err
	}
	var h Hash256
	copy(h[:], b)
	return h, nil
}

func (c *cursor) expectMagic(m [8]byte) error {
	at := c.pos
	b, err := c.take(8)
	if err != nil {
		return err
	}
	if string(b) != string(m[:]) {
		return &CodecError{At: at, Kind: CodecInvalidMagic}
	}
	return nil
}

func putU32(out []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(out, v)
}

func putU64(out []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(out, v)
}

// EncodeHeader returns the fixed 100-byte canonical encoding of h.
func EncodeHeader(h *BlockHeader) []byte {
	out := make([]byte, 0, HeaderEncodedLen)
	out = append(out, MagicHeader[:]...)
	out = append(out, h.Parent[:]...)
	out = putU64(out, uint64(h.Height))
	out = putU64(out, uint64(h.TimestampUTC))
	out = putU64(out, h.Nonce)
	out = append(out, h.MerkleRoot[:]...)
	out = putU32(out, h.PowDifficultyBits)
	return out
}

// DecodeHeader parses a canonical block header.
func DecodeHeader(b []byte) (BlockHeader, error) {
	c := newCursor(b)
	if err := c.expectMagic(MagicHeader); err != nil {
		return BlockHeader{}, err
	}
	var h BlockHeader
	var err error
	if h.Parent, err = c.takeHash(); err != nil {
		return BlockHeader{}, err
	}
	height, err := c.takeU64()
	if err != nil {
		return BlockHeader{}, err
	}
	h.Height = Height(height)
	if h.TimestampUTC, err = c.takeI64(); err != nil {
		return BlockHeader{}, err
	}
	if h.Nonce, err = c.takeU64(); err != nil {
		return BlockHeader{}, err
	}
	if h.MerkleRoot, err = c.takeHash(); err != nil {
		return BlockHeader{}, err
	}
	if h.PowDifficultyBits, err = c.takeU32(); err != nil {
		return BlockHeader{}, err
	}
	return h, nil
}

// EncodeTx returns the canonical encoding of tx: magic, id, payload.
func EncodeTx(tx *Transaction) []byte {
	out := make([]byte, 0, 8+HashSize+4+len(tx.Payload))
	out = append(out, MagicTx[:]...)
	out = append(out, tx.ID[:]...)
	out = putU32(out, uint32(len(tx.Payload)))
	out = append(out, tx.Payload...)
	return out
}

// DecodeTx parses a canonical transaction.
func DecodeTx(b []byte) (Transaction, error) {
	c := newCursor(b)
	if err := c.expectMagic(MagicTx); err != nil {
		return Transaction{}, err
	}
	id, err := c.takeHash()
	if err != nil {
		return Transaction{}, err
	}
	n, err := c.takeU32()
	if err != nil {
		return Transaction{}, err
	}
	payload, err := c.take(int(n))
	if err != nil {
		return Transaction{}, err
	}
	out := make([]byte, n)
	copy(out, payload)
	return Transaction{ID: id, Payload: out}, nil
}

// EncodeTxBody returns the id-free canonical body used to derive a tx id.
func EncodeTxBody(payload []byte) []byte {
	out := make([]byte, 0, 8+4+len(payload))
	out = append(out, MagicTxBody[:]...)
	out = putU32(out, uint32(len(payload)))
	out = append(out, payload...)
	return out
}

// EncodeBlock returns the canonical encoding of b: magic, header,
// tx count, then each tx length-prefixed.
func EncodeBlock(b *Block) []byte {
	out := make([]byte, 0, 8+HeaderEncodedLen+4)
	out = append(out, MagicBlock[:]...)
	out = append(out, EncodeHeader(&b.Header)...)
	out = putU32(out, uint32(len(b.Txs)))
	for i := range b.Txs {
		txb := EncodeTx(&b.Txs[i])
		out = putU32(out, uint32(len(txb)))
		out = append(out, txb...)
	}
	return out
}

// DecodeBlock parses a canonical block.
func DecodeBlock(b []byte) (Block, error) {
	c := newCursor(b)
	if err := c.expectMagic(MagicBlock); err != nil {
		return Block{}, err
	}
	hb, err := c.take(HeaderEncodedLen)
	if err != nil {
		return Block{}, err
	}
	header, err := DecodeHeader(hb)
	if err != nil {
		return Block{}, err
	}
	count, err := c.takeU32()
	if err != nil {
		return Block{}, err
	}
	var txs []Transaction
	for i := uint32(0); i < count; i++ {
		n, err := c.takeU32()
		if err != nil {
			return Block{}, err
		}
		txb, err := c.take(int(n))
		if err != nil {
			return Block{}, err
		}
		tx, err := DecodeTx(txb)
		if err != nil {
			return Block{}, err
		}
		txs = append(txs, tx)
	}
	return Block{Header: header, Txs: txs}, nil
}

// EncodeChainSpec returns the canonical encoding of a chainspec, used only
// to derive the chainspec hash stored in chain meta.
func EncodeChainSpec(spec *ChainSpec) []byte {
	name := []byte(spec.Chain.ChainName)
	out := make([]byte, 0, 8+4+4+len(name)+4+8+4+8)
	out = append(out, MagicSpec[:]...)
	out = putU32(out, spec.SpecVersion)
	out = putU32(out, uint32(len(name)))
	out = append(out, name...)
	out = putU32(out, spec.Chain.ChainID)
	out = putU64(out, uint64(spec.Genesis.TimestampUTC))
	out = putU32(out, spec.Genesis.PowDifficultyBits)
	out = putU64(out, spec.Genesis.Nonce)
	return out
}
