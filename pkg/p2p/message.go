package p2p

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/TuyenPKT/EGG-Project/pkg/core/types"
)

// Wire protocol: every payload starts with MAGIC(8) "EGGNET00", VERSION(u16),
// TAG(u8), then the tag-specific body. Scalars are big-endian.
var wireMagic = [8]byte{'E', 'G', 'G', 'N', 'E', 'T', '0', '0'}

const wireVersion uint16 = 1

// Message tags.
const (
	tagHello      byte = 1
	tagHelloAck   byte = 2
	tagGetHeaders byte = 10
	tagHeaders    byte = 11
	tagGetBlock   byte = 12
	tagBlock      byte = 13
	tagPing       byte = 20
	tagPong       byte = 21
)

// Tip is the advertised best-chain pointer exchanged during handshake.
type Tip struct {
	Height uint64
	Hash   types.Hash256
}

// Message is the common interface of all wire messages.
type Message interface {
	msgTag() byte
}

// Hello opens a handshake with the local chain identity.
type Hello struct {
	ChainID   uint32
	GenesisID types.Hash256
	Tip       Tip
	NodeNonce uint64
	Agent     string
}

// HelloAck answers a Hello with the same fields.
type HelloAck struct {
	ChainID   uint32
	GenesisID types.Hash256
	Tip       Tip
	NodeNonce uint64
	Agent     string
}

// GetHeaders requests up to Max canonical headers strictly after Start.
type GetHeaders struct {
	Start types.Hash256
	Max   uint32
}

// Headers carries a batch of canonical headers. An empty batch means the
// remote has no more.
type Headers struct {
	Headers []types.BlockHeader
}

// GetBlock requests the full block with the given id.
type GetBlock struct {
	ID types.Hash256
}

// BlockFound carries a requested block.
type BlockFound struct {
	ID    types.Hash256
	Block types.Block
}

// BlockNotFound reports that the remote does not hold the requested block.
type BlockNotFound struct {
	ID types.Hash256
}

// Ping is a keepalive probe.
type Ping struct {
	Nonce uint64
}

// Pong answers a Ping with its nonce.
type Pong struct {
	Nonce uint64
}

func (Hello) msgTag() byte         { return tagHello }
func (HelloAck) msgTag() byte      { return tagHelloAck }
func (GetHeaders) msgTag() byte    { return tagGetHeaders }
func (Headers) msgTag() byte       { return tagHeaders }
func (GetBlock) msgTag() byte      { return tagGetBlock }
func (BlockFound) msgTag() byte    { return tagBlock }
func (BlockNotFound) msgTag() byte { return tagBlock }
func (Ping) msgTag() byte          { return tagPing }
func (Pong) msgTag() byte          { return tagPong }

// Protocol decode errors.

// UnexpectedEOFError reports a truncated payload.
type UnexpectedEOFError struct {
	At        int
	Needed    int
	Remaining int
}

func (e *UnexpectedEOFError) Error() string {
	return fmt.Sprintf("unexpected eof at %d (needed %d, remaining %d)", e.At, e.Needed, e.Remaining)
}

// InvalidMagicError reports a payload not starting with the wire magic.
type InvalidMagicError struct{ At int }

func (e *InvalidMagicError) Error() string { return fmt.Sprintf("invalid magic at %d", e.At) }

// UnsupportedVersionError reports an unknown protocol version.
type UnsupportedVersionError struct{ Got uint16 }

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported version %d", e.Got)
}

// InvalidTagError reports an unknown message tag or flag byte.
type InvalidTagError struct{ Tag byte }

func (e *InvalidTagError) Error() string { return fmt.Sprintf("invalid message tag %d", e.Tag) }

// LengthOverflowError reports a length field exceeding what is encodable.
type LengthOverflowError struct{ At int }

func (e *LengthOverflowError) Error() string { return fmt.Sprintf("length overflow at %d", e.At) }

// InvalidUTF8Error reports a string field that is not valid UTF-8.
type InvalidUTF8Error struct{ At int }

func (e *InvalidUTF8Error) Error() string { return fmt.Sprintf("invalid utf8 at %d", e.At) }

// CanonicalDecodeError wraps a canonical-codec failure inside a message body.
type CanonicalDecodeError struct{ Err error }

func (e *CanonicalDecodeError) Error() string { return fmt.Sprintf("canonical decode error: %v", e.Err) }

func (e *CanonicalDecodeError) Unwrap() error { return e.Err }

type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) take(n int) ([]byte, error) {
	if rem := r.remaining(); rem < n {
		return nil, &UnexpectedEOFError{At: r.pos, Needed: n, Remaining: rem}
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) takeU8() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) takeU16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) takeU32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) takeU64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) takeHash() (types.Hash256, error) {
	b, err := r.take(types.HashSize)
	if err != nil {
		return types.Hash256{}, err
	}
	var h types.Hash256
	copy(h[:], b)
	return h, nil
}

func (r *reader) takeString() (string, error) {
	at := r.pos
	n, err := r.takeU32()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", &InvalidUTF8Error{At: at}
	}
	return string(b), nil
}

func (r *reader) takeBytes() ([]byte, error) {
	n, err := r.takeU32()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}

func putU32(out []byte, v uint32) []byte { return binary.BigEndian.AppendUint32(out, v) }
func putU64(out []byte, v uint64) []byte { return binary.BigEndian.AppendUint64(out, v) }

func putBytes(out, b []byte) []byte {
	out = putU32(out, uint32(len(b)))
	return append(out, b...)
}

func putHello(out []byte, chainID uint32, genesisID types.Hash256, tip Tip, nodeNonce uint64, agent string) []byte {
	out = putU32(out, chainID)
	out = append(out, genesisID[:]...)
	out = putU64(out, tip.Height)
	out = append(out, tip.Hash[:]...)
	out = putU64(out, nodeNonce)
	return putBytes(out, []byte(agent))
}

func takeHello(r *reader) (chainID uint32, genesisID types.Hash256, tip Tip, nodeNonce uint64, agent string, err error) {
	if chainID, err = r.takeU32(); err != nil {
		return
	}
	if genesisID, err = r.takeHash(); err != nil {
		return
	}
	if tip.Height, err = r.takeU64(); err != nil {
		return
	}
	if tip.Hash, err = r.takeHash(); err != nil {
		return
	}
	if nodeNonce, err = r.takeU64(); err != nil {
		return
	}
	agent, err = r.takeString()
	return
}

// EncodeMessage serializes a message payload (without framing).
func EncodeMessage(msg Message) ([]byte, error) {
	out := make([]byte, 0, 64)
	out = append(out, wireMagic[:]...)
	out = binary.BigEndian.AppendUint16(out, wireVersion)
	out = append(out, msg.msgTag())

	switch m := msg.(type) {
	case Hello:
		out = putHello(out, m.ChainID, m.GenesisID, m.Tip, m.NodeNonce, m.Agent)
	case HelloAck:
		out = putHello(out, m.ChainID, m.GenesisID, m.Tip, m.NodeNonce, m.Agent)
	case GetHeaders:
		out = append(out, m.Start[:]...)
		out = putU32(out, m.Max)
	case Headers:
		out = putU32(out, uint32(len(m.Headers)))
		for i := range m.Headers {
			out = putBytes(out, types.EncodeHeader(&m.Headers[i]))
		}
	case GetBlock:
		out = append(out, m.ID[:]...)
	case BlockFound:
		out = append(out, m.ID[:]...)
		out = append(out, 1)
		out = putBytes(out, types.EncodeBlock(&m.Block))
	case BlockNotFound:
		out = append(out, m.ID[:]...)
		out = append(out, 0)
	case Ping:
		out = putU64(out, m.Nonce)
	case Pong:
		out = putU64(out, m.Nonce)
	default:
		return nil, &InvalidTagError{Tag: msg.msgTag()}
	}
	return out, nil
}

// DecodeMessage parses a message payload (without framing).
func DecodeMessage(b []byte) (Message, error) {
	r := &reader{buf: b}

	at := r.pos
	magic, err := r.take(8)
	if err != nil {
		return nil, err
	}
	if string(magic) != string(wireMagic[:]) {
		return nil, &InvalidMagicError{At: at}
	}
	ver, err := r.takeU16()
	if err != nil {
		return nil, err
	}
	if ver != wireVersion {
		return nil, &UnsupportedVersionError{Got: ver}
	}
	tag, err := r.takeU8()
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagHello:
		chainID, genesisID, tip, nodeNonce, agent, err := takeHello(r)
		if err != nil {
			return nil, err
		}
		return Hello{ChainID: chainID, GenesisID: genesisID, Tip: tip, NodeNonce: nodeNonce, Agent: agent}, nil
	case tagHelloAck:
		chainID, genesisID, tip, nodeNonce, agent, err := takeHello(r)
		if err != nil {
			return nil, err
		}
		return HelloAck{ChainID: chainID, GenesisID: genesisID, Tip: tip, NodeNonce: nodeNonce, Agent: agent}, nil
	case tagGetHeaders:
		start, err := r.takeHash()
		if err != nil {
			return nil, err
		}
		max, err := r.takeU32()
		if err != nil {
			return nil, err
		}
		return GetHeaders{Start: start, Max: max}, nil
	case tagHeaders:
		n, err := r.takeU32()
		if err != nil {
			return nil, err
		}
		var headers []types.BlockHeader
		for i := uint32(0); i < n; i++ {
			hb, err := r.takeBytes()
			if err != nil {
				return nil, err
			}
			h, err := types.DecodeHeader(hb)
			if err != nil {
				return nil, &CanonicalDecodeError{Err: err}
			}
			headers = append(headers, h)
		}
		return Headers{Headers: headers}, nil
	case tagGetBlock:
		id, err := r.takeHash()
		if err != nil {
			return nil, err
		}
		return GetBlock{ID: id}, nil
	case tagBlock:
		id, err := r.takeHash()
		if err != nil {
			return nil, err
		}
		flag, err := r.takeU8()
		if err != nil {
			return nil, err
		}
		switch flag {
		case 0:
			return BlockNotFound{ID: id}, nil
		case 1:
			bb, err := r.takeBytes()
			if err != nil {
				return nil, err
			}
			blk, err := types.DecodeBlock(bb)
			if err != nil {
				return nil, &CanonicalDecodeError{Err: err}
			}
			return BlockFound{ID: id, Block: blk}, nil
		default:
			return nil, &InvalidTagError{Tag: flag}
		}
	case tagPing:
		nonce, err := r.takeU64()
		if err != nil {
			return nil, err
		}
		return Ping{Nonce: nonce}, nil
	case tagPong:
		nonce, err := r.takeU64()
		if err != nil {
			return nil, err
		}
		return Pong{Nonce: nonce}, nil
	default:
		return nil, &InvalidTagError{Tag: tag}
	}
}
