package blockchain

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/TuyenPKT/EGG-Project/pkg/core/consensus"
	"github.com/TuyenPKT/EGG-Project/pkg/core/types"
)

var (
	ErrMetaMissing           = errors.New("chain store missing meta (required)")
	ErrInvalidPow            = errors.New("invalid pow for header")
	ErrGenesisHeaderMismatch = errors.New("genesis header mismatch between spec and stored data")
)

// MetaMismatchError is returned when a populated store was initialized from
// a different chainspec.
type MetaMismatchError struct {
	Expected types.ChainMeta
	Got      types.ChainMeta
}

func (e *MetaMismatchError) Error() string {
	return fmt.Sprintf("chain meta mismatch: expected chain_id=%d genesis=%s, got chain_id=%d genesis=%s",
		e.Expected.ChainID, e.Expected.GenesisID, e.Got.ChainID, e.Got.GenesisID)
}

// GenesisIDMismatchError is returned for a height-0 header or block whose id
// is not this chain's genesis id.
type GenesisIDMismatchError struct {
	Expected types.Hash256
	Got      types.Hash256
}

func (e *GenesisIDMismatchError) Error() string {
	return fmt.Sprintf("genesis id mismatch: expected %s, got %s", e.Expected, e.Got)
}

// HeightNotParentPlusOneError is returned when a connected child's height is
// not its parent's height + 1.
type HeightNotParentPlusOneError struct {
	ParentHeight types.Height
	ChildHeight  types.Height
}

func (e *HeightNotParentPlusOneError) Error() string {
	return fmt.Sprintf("block height does not match parent+1: parent_height=%d child_height=%d",
		e.ParentHeight, e.ChildHeight)
}

// MissingHeaderError reports a required header absent from the store.
type MissingHeaderError struct{ ID types.Hash256 }

func (e *MissingHeaderError) Error() string { return fmt.Sprintf("missing header for block %s", e.ID) }

// MissingBlockError reports a required block body absent from the store.
type MissingBlockError struct{ ID types.Hash256 }

func (e *MissingBlockError) Error() string { return fmt.Sprintf("missing block for block %s", e.ID) }

// MissingBlockMetaError reports an absent or inconsistent block meta record.
type MissingBlockMetaError struct{ ID types.Hash256 }

func (e *MissingBlockMetaError) Error() string {
	return fmt.Sprintf("missing block meta for block %s", e.ID)
}

// HeaderMismatchError is returned when an arriving block carries a header
// that differs from the one already stored at its id.
type HeaderMismatchError struct{ ID types.Hash256 }

func (e *HeaderMismatchError) Error() string {
	return fmt.Sprintf("block header does not match stored header for id %s", e.ID)
}

// IngestOutcome classifies the result of ingesting a full block.
type IngestOutcome int

const (
	IngestAlreadyKnown IngestOutcome = iota
	IngestStoredOrphan
	IngestStoredConnected
	IngestNewTip
)

func (o IngestOutcome) String() string {
	switch o {
	case IngestAlreadyKnown:
		return "already_known"
	case IngestStoredOrphan:
		return "stored_orphan"
	case IngestStoredConnected:
		return "stored_connected"
	case IngestNewTip:
		return "new_tip"
	default:
		return "unknown"
	}
}

// HeaderIngestOutcome classifies the result of ingesting a bare header.
// Header ingest never moves the tip; only full blocks can.
type HeaderIngestOutcome int

const (
	HeaderAlreadyKnown HeaderIngestOutcome = iota
	HeaderStoredOrphan
	HeaderStoredConnected
)

// ChainState maintains the verified canonical best chain under arrivals of
// headers and full blocks from any peer, in any order. It is the sole writer
// of the store's record namespaces; callers sharing one instance across
// goroutines must serialize access externally.
type ChainState struct {
	spec  types.ChainSpec
	meta  types.ChainMeta
	tip   types.ChainTip
	store *ChainStore
	log   *logrus.Entry
}

func expectedMeta(spec *types.ChainSpec) (types.ChainMeta, error) {
	gid, err := GenesisID(spec)
	if err != nil {
		return types.ChainMeta{}, err
	}
	return types.ChainMeta{
		ChainID:       spec.Chain.ChainID,
		GenesisID:     gid,
		ChainSpecHash: consensus.HashChainSpec(spec),
	}, nil
}

// OpenOrInit opens a chain state against a store. An empty store is
// initialized with the genesis derived from spec; a populated store must
// carry a meta record equal to the one derived from spec.
func OpenOrInit(store *ChainStore, spec types.ChainSpec) (*ChainState, error) {
	if err := ValidateChainSpec(&spec); err != nil {
		return nil, err
	}
	expected, err := expectedMeta(&spec)
	if err != nil {
		return nil, err
	}

	log := logrus.WithField("chain", spec.Chain.ChainName)

	tip, ok, err := store.GetTip()
	if err != nil {
		return nil, err
	}
	if ok {
		got, haveMeta, err := store.GetMeta()
		if err != nil {
			return nil, err
		}
		if !haveMeta {
			return nil, ErrMetaMissing
		}
		if got != expected {
			return nil, &MetaMismatchError{Expected: expected, Got: got}
		}
		st := &ChainState{spec: spec, meta: got, tip: tip, store: store, log: log}
		if err := st.bootstrapIndexesFromTip(tip); err != nil {
			return nil, err
		}
		return st, nil
	}

	// Fresh store: write genesis atomically from the spec.
	hdr, err := GenesisHeader(&spec)
	if err != nil {
		return nil, err
	}
	gid := expected.GenesisID
	blk := types.Block{Header: hdr}

	if err := store.SetMeta(expected); err != nil {
		return nil, err
	}
	if err := store.PutHeader(gid, &hdr); err != nil {
		return nil, err
	}
	if err := store.PutBlock(gid, &blk); err != nil {
		return nil, err
	}
	if err := store.PutBlockMeta(gid, types.BlockMeta{Parent: hdr.Parent, Height: hdr.Height}); err != nil {
		return nil, err
	}
	if err := store.SetCanonHash(0, gid); err != nil {
		return nil, err
	}
	tip = types.ChainTip{Height: 0, Hash: gid}
	if err := store.SetTip(tip); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{"genesis": gid, "chain_id": spec.Chain.ChainID}).Info("initialized genesis")
	return &ChainState{spec: spec, meta: expected, tip: tip, store: store, log: log}, nil
}

// Tip returns the current best tip.
func (st *ChainState) Tip() types.ChainTip { return st.tip }

// Meta returns the chain identity.
func (st *ChainState) Meta() types.ChainMeta { return st.meta }

// Spec returns the chainspec this state was opened with.
func (st *ChainState) Spec() types.ChainSpec { return st.spec }

// Store exposes the underlying chain store.
func (st *ChainState) Store() *ChainStore { return st.store }

// VerifyGenesisMatchesSpec cross-checks the stored genesis header against
// the supplied chainspec.
func (st *ChainState) VerifyGenesisMatchesSpec() error {
	expected, err := GenesisHeader(&st.spec)
	if err != nil {
		return err
	}
	stored, err := st.store.GetHeader(st.meta.GenesisID)
	if err != nil {
		return err
	}
	if stored != expected {
		return ErrGenesisHeaderMismatch
	}
	return nil
}

// CanonHash returns the canonical chain's hash at the given height.
func (st *ChainState) CanonHash(h types.Height) (types.Hash256, bool, error) {
	return st.store.GetCanonHash(h)
}

func (st *ChainState) ensureBlockMetaFromHeader(id types.Hash256, hdr *types.BlockHeader) (types.BlockMeta, error) {
	m, ok, err := st.store.GetBlockMeta(id)
	if err != nil {
		return types.BlockMeta{}, err
	}
	if ok {
		return m, nil
	}
	m = types.BlockMeta{Parent: hdr.Parent, Height: hdr.Height}
	if err := st.store.PutBlockMeta(id, m); err != nil {
		return types.BlockMeta{}, err
	}
	return m, nil
}

func (st *ChainState) mustBlockMeta(id types.Hash256) (types.BlockMeta, error) {
	m, ok, err := st.store.GetBlockMeta(id)
	if err != nil {
		return types.BlockMeta{}, err
	}
	if !ok {
		return types.BlockMeta{}, &MissingBlockMetaError{ID: id}
	}
	return m, nil
}

func (st *ChainState) mustHeader(id types.Hash256) (types.BlockHeader, error) {
	ok, err := st.store.HasHeader(id)
	if err != nil {
		return types.BlockHeader{}, err
	}
	if !ok {
		return types.BlockHeader{}, &MissingHeaderError{ID: id}
	}
	return st.store.GetHeader(id)
}

// bootstrapIndexesFromTip rebuilds missing bmeta/canon/children records by
// walking from the tip back to genesis. Runs only when a populated store was
// opened with derived indices absent.
func (st *ChainState) bootstrapIndexesFromTip(tip types.ChainTip) error {
	_, haveMeta, err := st.store.GetBlockMeta(tip.Hash)
	if err != nil {
		return err
	}
	_, haveCanon, err := st.store.GetCanonHash(tip.Height)
	if err != nil {
		return err
	}
	if haveMeta && haveCanon {
		return nil
	}

	cur := tip.Hash
	for {
		hdr, err := st.mustHeader(cur)
		if err != nil {
			return err
		}
		if _, err := st.ensureBlockMetaFromHeader(cur, &hdr); err != nil {
			return err
		}
		if err := st.store.SetCanonHash(hdr.Height, cur); err != nil {
			return err
		}
		if hdr.Height == 0 {
			return nil
		}
		if err := st.store.AddChild(hdr.Parent, cur); err != nil {
			return err
		}
		cur = hdr.Parent
	}
}

// reorgCanonical rewrites the height index from the old tip's branch to the
// new tip's branch. Entries at and below the fork point are untouched; the
// old branch's headers and blocks stay stored.
func (st *ChainState) reorgCanonical(oldTip, newTip types.ChainTip) error {
	a, ha := newTip.Hash, newTip.Height
	b, hb := oldTip.Hash, oldTip.Height

	for ha > hb {
		m, err := st.mustBlockMeta(a)
		if err != nil {
			return err
		}
		a = m.Parent
		ha--
	}
	for hb > ha {
		m, err := st.mustBlockMeta(b)
		if err != nil {
			return err
		}
		b = m.Parent
		hb--
	}
	for a != b {
		ma, err := st.mustBlockMeta(a)
		if err != nil {
			return err
		}
		mb, err := st.mustBlockMeta(b)
		if err != nil {
			return err
		}
		a, b = ma.Parent, mb.Parent
		ha--
	}
	ancestorHeight := ha

	type entry struct {
		height types.Height
		hash   types.Hash256
	}
	var path []entry
	cur := newTip.Hash
	for {
		m, err := st.mustBlockMeta(cur)
		if err != nil {
			return err
		}
		if m.Height == ancestorHeight {
			break
		}
		path = append(path, entry{height: m.Height, hash: cur})
		cur = m.Parent
	}

	for i := len(path) - 1; i >= 0; i-- {
		if err := st.store.SetCanonHash(path[i].height, path[i].hash); err != nil {
			return err
		}
	}
	return nil
}

// maybeSetTip applies the fork-choice rule: adopt the candidate if it is
// higher, or equal-height with the lexicographically smaller hash. On
// adoption the tip record is persisted and the canonical index reorged.
func (st *ChainState) maybeSetTip(candidate types.Hash256, height types.Height) (bool, error) {
	better := height > st.tip.Height ||
		(height == st.tip.Height && candidate.Less(st.tip.Hash))
	if !better {
		return false, nil
	}

	old := st.tip
	newTip := types.ChainTip{Height: height, Hash: candidate}
	if err := st.store.SetTip(newTip); err != nil {
		return false, err
	}
	st.tip = newTip

	if err := st.reorgCanonical(old, newTip); err != nil {
		return false, err
	}

	st.log.WithFields(logrus.Fields{
		"height":     height,
		"hash":       candidate,
		"old_height": old.Height,
		"old_hash":   old.Hash,
	}).Debug("tip advanced")
	return true, nil
}

// tryConnectChild attempts to connect a child whose parent just connected.
// Returns true when the child has both header and block stored and links
// cleanly to the parent.
func (st *ChainState) tryConnectChild(parent, child types.Hash256) (bool, error) {
	hasH, err := st.store.HasHeader(child)
	if err != nil {
		return false, err
	}
	hasB, err := st.store.HasBlock(child)
	if err != nil {
		return false, err
	}
	if !hasH || !hasB {
		return false, nil
	}

	childHdr, err := st.store.GetHeader(child)
	if err != nil {
		return false, err
	}
	if childHdr.Parent != parent {
		return false, nil
	}

	parentHdr, err := st.store.GetHeader(parent)
	if err != nil {
		return false, err
	}
	parentMeta, err := st.ensureBlockMetaFromHeader(parent, &parentHdr)
	if err != nil {
		return false, err
	}
	childMeta, err := st.ensureBlockMetaFromHeader(child, &childHdr)
	if err != nil {
		return false, err
	}

	expect := parentMeta.Height + 1
	if childMeta.Height != expect || childHdr.Height != expect {
		return false, &HeightNotParentPlusOneError{ParentHeight: parentMeta.Height, ChildHeight: childHdr.Height}
	}

	if _, err := st.maybeSetTip(child, childMeta.Height); err != nil {
		return false, err
	}
	return true, nil
}

// connectDescendantsFrom propagates connection through the children index:
// when a formerly missing root arrives, its whole stored subtree connects.
func (st *ChainState) connectDescendantsFrom(root types.Hash256) error {
	queue := []types.Hash256{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		children, err := st.store.GetChildren(p)
		if err != nil {
			return err
		}
		for _, c := range children {
			connected, err := st.tryConnectChild(p, c)
			if err != nil {
				return err
			}
			if connected {
				queue = append(queue, c)
			}
		}
	}
	return nil
}

// connectStored runs the connect pipeline for a block whose header and body
// are persisted and whose parent header is present.
func (st *ChainState) connectStored(id types.Hash256, header *types.BlockHeader) (IngestOutcome, error) {
	parentHdr, err := st.store.GetHeader(header.Parent)
	if err != nil {
		return 0, err
	}
	parentMeta, err := st.ensureBlockMetaFromHeader(header.Parent, &parentHdr)
	if err != nil {
		return 0, err
	}
	if header.Height != parentMeta.Height+1 {
		return 0, &HeightNotParentPlusOneError{ParentHeight: parentMeta.Height, ChildHeight: header.Height}
	}

	tipChanged, err := st.maybeSetTip(id, header.Height)
	if err != nil {
		return 0, err
	}
	if err := st.connectDescendantsFrom(id); err != nil {
		return 0, err
	}

	if tipChanged {
		return IngestNewTip, nil
	}
	return IngestStoredConnected, nil
}

// IngestBlock verifies and stores a full block, connecting it — and any
// stored descendants waiting on it — into the chain when possible.
func (st *ChainState) IngestBlock(block types.Block) (types.Hash256, IngestOutcome, error) {
	if err := consensus.VerifyBlockMerkle(&block); err != nil {
		return types.Hash256{}, 0, err
	}
	if !consensus.PowValid(&block.Header) {
		return types.Hash256{}, 0, ErrInvalidPow
	}

	id := consensus.HeaderID(&block.Header)

	if block.Header.Height == 0 {
		if id != st.meta.GenesisID {
			return id, 0, &GenesisIDMismatchError{Expected: st.meta.GenesisID, Got: id}
		}
		// Genesis exists since OpenOrInit; a re-sent genesis is known.
		return id, IngestAlreadyKnown, nil
	}

	hasHeader, err := st.store.HasHeader(id)
	if err != nil {
		return id, 0, err
	}
	if hasHeader {
		hasBlock, err := st.store.HasBlock(id)
		if err != nil {
			return id, 0, err
		}
		if hasBlock {
			return id, IngestAlreadyKnown, nil
		}

		// Header arrived first via headers-first sync; the body must match
		// it byte for byte.
		stored, err := st.store.GetHeader(id)
		if err != nil {
			return id, 0, err
		}
		if stored != block.Header {
			return id, 0, &HeaderMismatchError{ID: id}
		}

		if err := st.store.PutBlock(id, &block); err != nil {
			return id, 0, err
		}
		if _, err := st.ensureBlockMetaFromHeader(id, &block.Header); err != nil {
			return id, 0, err
		}
		if err := st.store.AddChild(block.Header.Parent, id); err != nil {
			return id, 0, err
		}

		hasParent, err := st.store.HasHeader(block.Header.Parent)
		if err != nil {
			return id, 0, err
		}
		if !hasParent {
			return id, IngestStoredOrphan, nil
		}

		outcome, err := st.connectStored(id, &block.Header)
		return id, outcome, err
	}

	if err := st.store.PutHeader(id, &block.Header); err != nil {
		return id, 0, err
	}
	if err := st.store.PutBlock(id, &block); err != nil {
		return id, 0, err
	}
	if err := st.store.PutBlockMeta(id, types.BlockMeta{Parent: block.Header.Parent, Height: block.Header.Height}); err != nil {
		return id, 0, err
	}
	if err := st.store.AddChild(block.Header.Parent, id); err != nil {
		return id, 0, err
	}

	hasParent, err := st.store.HasHeader(block.Header.Parent)
	if err != nil {
		return id, 0, err
	}
	if !hasParent {
		return id, IngestStoredOrphan, nil
	}

	outcome, err := st.connectStored(id, &block.Header)
	return id, outcome, err
}

// IngestHeader verifies and stores a bare header. Headers never move the
// tip: a branch becomes adoptable only once its full blocks arrive.
func (st *ChainState) IngestHeader(header types.BlockHeader) (types.Hash256, HeaderIngestOutcome, error) {
	if !consensus.PowValid(&header) {
		return types.Hash256{}, 0, ErrInvalidPow
	}

	id := consensus.HeaderID(&header)

	if header.Height == 0 {
		if id != st.meta.GenesisID {
			return id, 0, &GenesisIDMismatchError{Expected: st.meta.GenesisID, Got: id}
		}
		return id, HeaderAlreadyKnown, nil
	}

	hasHeader, err := st.store.HasHeader(id)
	if err != nil {
		return id, 0, err
	}
	if hasHeader {
		return id, HeaderAlreadyKnown, nil
	}

	if err := st.store.PutHeader(id, &header); err != nil {
		return id, 0, err
	}
	if err := st.store.PutBlockMeta(id, types.BlockMeta{Parent: header.Parent, Height: header.Height}); err != nil {
		return id, 0, err
	}
	if err := st.store.AddChild(header.Parent, id); err != nil {
		return id, 0, err
	}

	hasParent, err := st.store.HasHeader(header.Parent)
	if err != nil {
		return id, 0, err
	}
	if !hasParent {
		return id, HeaderStoredOrphan, nil
	}

	parentHdr, err := st.store.GetHeader(header.Parent)
	if err != nil {
		return id, 0, err
	}
	parentMeta, err := st.ensureBlockMetaFromHeader(header.Parent, &parentHdr)
	if err != nil {
		return id, 0, err
	}
	if header.Height != parentMeta.Height+1 {
		return id, 0, &HeightNotParentPlusOneError{ParentHeight: parentMeta.Height, ChildHeight: header.Height}
	}

	return id, HeaderStoredConnected, nil
}

// GetHeadersAfter returns up to max headers on the current canonical chain
// strictly after startHash. A start hash off the canonical chain yields an
// empty result.
func (st *ChainState) GetHeadersAfter(startHash types.Hash256, max int) ([]types.BlockHeader, error) {
	if max <= 0 {
		return nil, nil
	}

	startMeta, ok, err := st.store.GetBlockMeta(startHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	canonAt, ok, err := st.store.GetCanonHash(startMeta.Height)
	if err != nil {
		return nil, err
	}
	if !ok || canonAt != startHash {
		return nil, nil
	}

	var out []types.BlockHeader
	for h := startMeta.Height + 1; h <= st.tip.Height && len(out) < max; h++ {
		id, ok, err := st.store.GetCanonHash(h)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		hdr, err := st.store.GetHeader(id)
		if err != nil {
			return nil, err
		}
		out = append(out, hdr)
	}
	return out, nil
}

// ValidateBestChain walks the canonical chain from tip to genesis and checks
// every stored invariant on the way: presence of header/block/meta, PoW,
// merkle consistency, height continuity, and the genesis terminus.
func (st *ChainState) ValidateBestChain() error {
	cur := st.tip.Hash

	for {
		hdr, err := st.mustHeader(cur)
		if err != nil {
			return err
		}

		hasB, err := st.store.HasBlock(cur)
		if err != nil {
			return err
		}
		if !hasB {
			return &MissingBlockError{ID: cur}
		}

		meta, ok, err := st.store.GetBlockMeta(cur)
		if err != nil {
			return err
		}
		if !ok || meta.Parent != hdr.Parent || meta.Height != hdr.Height {
			return &MissingBlockMetaError{ID: cur}
		}

		if !consensus.PowValid(&hdr) {
			return ErrInvalidPow
		}

		blk, err := st.store.GetBlock(cur)
		if err != nil {
			return err
		}
		if err := consensus.VerifyBlockMerkle(&blk); err != nil {
			return err
		}

		if hdr.Height == 0 {
			if cur != st.meta.GenesisID {
				return &GenesisIDMismatchError{Expected: st.meta.GenesisID, Got: cur}
			}
			return nil
		}

		parentHdr, err := st.mustHeader(hdr.Parent)
		if err != nil {
			return err
		}
		parentMeta, err := st.ensureBlockMetaFromHeader(hdr.Parent, &parentHdr)
		if err != nil {
			return err
		}
		if hdr.Height != parentMeta.Height+1 {
			return &HeightNotParentPlusOneError{ParentHeight: parentMeta.Height, ChildHeight: hdr.Height}
		}

		cur = hdr.Parent
	}
}
