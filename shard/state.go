package shard

import (
	"sort"
	"sync"

	"github.com/lattice-labs/lattice/lib"
	"github.com/lattice-labs/lattice/lib/crypto"
)

/*
	ShardState is the integrity layer of a single shard: the pending transaction
	queue, the balance ledger, and the merkle commitment over the committed
	transaction set. It is owned exclusively by the Manager and guarded by its
	own mutex; ordinary operations hold only this shard's lock. The locked*
	variants are the rebalance path, called while the Manager holds the lock of
	both shards involved.
*/

// ShardState is one shard's queue, ledger, and merkle commitment
type ShardState struct {
	mu sync.Mutex // exclusive per-shard lock

	id        lib.ShardID        // the shard identifier
	pending   []*lib.Transaction // queued, not yet committed transactions; load = len(pending)
	committed []*lib.Transaction // the committed transaction set (merkle leaf order)
	balances  map[string]uint64  // account -> amount
	metadata  map[string]string  // opaque shard metadata
	root      lib.HexBytes       // merkle root over the committed set
	tree      [][]byte           // linear merkle store backing proofs
	halted    bool               // set on state corruption until a rollback succeeds

	lastPersisted lib.HexBytes // fingerprint of the last persisted snapshot

	verifier lib.SignatureVerifier // external signature scheme
	codec    lib.StateCodec        // external state encryption
	log      lib.LoggerI           // logger
}

// NewShardState() creates an empty shard with the injected collaborators
func NewShardState(id lib.ShardID, verifier lib.SignatureVerifier, codec lib.StateCodec, log lib.LoggerI) *ShardState {
	return &ShardState{
		id:       id,
		balances: make(map[string]uint64),
		metadata: make(map[string]string),
		verifier: verifier,
		codec:    codec,
		log:      log,
	}
}

// ID() returns the shard identifier
func (s *ShardState) ID() lib.ShardID { return s.id }

// Load() returns the current queue length
func (s *ShardState) Load() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.pending))
}

// Root() returns the committed merkle root
func (s *ShardState) Root() lib.HexBytes {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(lib.HexBytes{}, s.root...)
}

// Balance() returns the balance of an account
func (s *ShardState) Balance(account string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[account]
}

// Enqueue() appends a transaction to the pending queue
func (s *ShardState) Enqueue(tx *lib.Transaction) lib.ErrorI {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		return ErrShardHalted(s.id)
	}
	s.pending = append(s.pending, tx)
	return nil
}

// UpdateState() validates a transaction through the integrity layer and
// commits it: the balance delta is applied, the transaction becomes a new
// merkle leaf, and the root is recomputed bottom-up over the leaf set.
// Validation failures are returned synchronously and never retried.
func (s *ShardState) UpdateState(tx *lib.Transaction) lib.ErrorI {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockedUpdateState(tx)
}

// CommitNext() commits the transaction at the head of the pending queue
func (s *ShardState) CommitNext() (*lib.Transaction, lib.ErrorI) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		return nil, ErrShardHalted(s.id)
	}
	if len(s.pending) == 0 {
		return nil, nil
	}
	tx := s.pending[0]
	if err := s.lockedUpdateState(tx); err != nil {
		// drop the invalid transaction from the queue; validation errors are final
		s.pending = s.pending[1:]
		return nil, err
	}
	s.pending = s.pending[1:]
	return tx, nil
}

// lockedUpdateState() is UpdateState with the shard lock already held
func (s *ShardState) lockedUpdateState(tx *lib.Transaction) lib.ErrorI {
	if s.halted {
		return ErrShardHalted(s.id)
	}
	// a mint carries no sender and no signature to verify
	if tx.Sender != "" {
		if !s.verifier.Verify(tx.SignBytes(), tx.Signature, tx.PublicKey) {
			return ErrInvalidSignature(tx.ID)
		}
		if have := s.balances[tx.Sender]; have < tx.Amount {
			return ErrInsufficientFunds(tx.Sender, have, tx.Amount)
		}
		s.balances[tx.Sender] -= tx.Amount
	}
	// a burn carries no recipient
	if tx.Recipient != "" {
		s.balances[tx.Recipient] += tx.Amount
	}
	s.committed = append(s.committed, tx)
	return s.lockedRecomputeRoot()
}

// lockedRecomputeRoot() rebuilds the merkle tree over the committed set
func (s *ShardState) lockedRecomputeRoot() lib.ErrorI {
	leaves := make([][]byte, len(s.committed))
	for i, tx := range s.committed {
		leaves[i] = tx.Hash()
	}
	root, tree, err := lib.MerkleTree(leaves)
	if err != nil {
		return err
	}
	s.root, s.tree = root, tree
	return nil
}

// ProveCommitted() generates a membership proof for the committed transaction at index
func (s *ShardState) ProveCommitted(index int) (*crypto.MerkleProof, lib.ErrorI) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.committed) {
		return nil, lib.ErrInvalidArgument()
	}
	proof, err := crypto.ProveMerkle(s.tree, index)
	if err != nil {
		return nil, lib.ErrMerkleTree(err)
	}
	return proof, nil
}

// VerifyMerkleProof() recomputes the root from the supplied sibling-hash path
// and compares it against the committed root
func (s *ShardState) VerifyMerkleProof(proof *crypto.MerkleProof, leaf []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return crypto.VerifyMerkleProof(s.root, leaf, proof)
}

// Fingerprint() hashes the full serialized state (shard id, root, balances,
// metadata) for cross-shard auditing and tamper detection
func (s *ShardState) Fingerprint() (lib.HexBytes, lib.ErrorI) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockedFingerprint()
}

// lockedFingerprint() is Fingerprint with the shard lock already held
func (s *ShardState) lockedFingerprint() (lib.HexBytes, lib.ErrorI) {
	// serialize balances and metadata in key order so identical states hash identically
	preimage := struct {
		ShardID  lib.ShardID  `json:"shardId"`
		Root     lib.HexBytes `json:"root"`
		Accounts []string     `json:"accounts"`
		Amounts  []uint64     `json:"amounts"`
		MetaKeys []string     `json:"metaKeys"`
		MetaVals []string     `json:"metaVals"`
	}{ShardID: s.id, Root: s.root}
	for _, k := range lib.SortedBalanceKeys(s.balances) {
		preimage.Accounts = append(preimage.Accounts, k)
		preimage.Amounts = append(preimage.Amounts, s.balances[k])
	}
	for _, k := range sortedMetaKeys(s.metadata) {
		preimage.MetaKeys = append(preimage.MetaKeys, k)
		preimage.MetaVals = append(preimage.MetaVals, s.metadata[k])
	}
	bz, err := lib.Marshal(preimage)
	if err != nil {
		return nil, err
	}
	return crypto.Hash(bz), nil
}

// CheckIntegrity() compares the current fingerprint against the last persisted
// value; divergence halts the shard until a rollback to a verified snapshot
func (s *ShardState) CheckIntegrity() lib.ErrorI {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPersisted == nil {
		return nil
	}
	fingerprint, err := s.lockedFingerprint()
	if err != nil {
		return err
	}
	if fingerprint.String() != s.lastPersisted.String() {
		s.halted = true
		return ErrStateCorruption(s.id)
	}
	return nil
}

// Snapshot() produces the versioned, persisted projection of this shard
func (s *ShardState) Snapshot() (*lib.ShardSnapshot, lib.ErrorI) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockedSnapshot()
}

// lockedSnapshot() is Snapshot with the shard lock already held
func (s *ShardState) lockedSnapshot() (*lib.ShardSnapshot, lib.ErrorI) {
	fingerprint, err := s.lockedFingerprint()
	if err != nil {
		return nil, err
	}
	snap := &lib.ShardSnapshot{
		ShardID:     s.id,
		MerkleRoot:  append(lib.HexBytes{}, s.root...),
		Balances:    make(map[string]uint64, len(s.balances)),
		Metadata:    make(map[string]string, len(s.metadata)),
		Pending:     append([]*lib.Transaction{}, s.pending...),
		Committed:   append([]*lib.Transaction{}, s.committed...),
		Fingerprint: fingerprint,
	}
	for k, v := range s.balances {
		snap.Balances[k] = v
	}
	for k, v := range s.metadata {
		snap.Metadata[k] = v
	}
	return snap, nil
}

// MarkPersisted() records the fingerprint of the snapshot that was durably written
func (s *ShardState) MarkPersisted(fingerprint lib.HexBytes) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPersisted = fingerprint
}

// Rollback() restores the shard to a known-good persisted snapshot and clears
// the halted flag; the merkle tree is rebuilt from the snapshot's committed set
func (s *ShardState) Rollback(snapshot *lib.ShardSnapshot) lib.ErrorI {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append([]*lib.Transaction{}, snapshot.Pending...)
	s.committed = append([]*lib.Transaction{}, snapshot.Committed...)
	s.balances = make(map[string]uint64, len(snapshot.Balances))
	for k, v := range snapshot.Balances {
		s.balances[k] = v
	}
	s.metadata = make(map[string]string, len(snapshot.Metadata))
	for k, v := range snapshot.Metadata {
		s.metadata[k] = v
	}
	if err := s.lockedRecomputeRoot(); err != nil {
		return err
	}
	s.lastPersisted = snapshot.Fingerprint
	s.halted = false
	return nil
}

// EncryptState() serializes the shard snapshot and delegates to the external
// state codec; the ciphertext is opaque to the core
func (s *ShardState) EncryptState() ([]byte, lib.ErrorI) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	bz, err := lib.Marshal(snap)
	if err != nil {
		return nil, err
	}
	ciphertext, er := s.codec.Encrypt(bz)
	if er != nil {
		return nil, ErrEncryptState(er)
	}
	return ciphertext, nil
}

// DecryptState() delegates to the external state codec and deserializes the snapshot
func (s *ShardState) DecryptState(ciphertext []byte) (*lib.ShardSnapshot, lib.ErrorI) {
	plaintext, er := s.codec.Decrypt(ciphertext)
	if er != nil {
		return nil, ErrDecryptState(er)
	}
	snapshot := new(lib.ShardSnapshot)
	if err := lib.Unmarshal(plaintext, snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// SetBalance() overwrites an account balance directly, bypassing validation;
// used to seed genesis allocations
func (s *ShardState) SetBalance(account string, amount uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[account] = amount
}

// SetMetadata() sets an opaque metadata entry on the shard
func (s *ShardState) SetMetadata(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
}

// lockedExtract() removes up to n transactions from the head of the pending
// queue; the caller holds the shard lock (rebalance path)
func (s *ShardState) lockedExtract(n int) []*lib.Transaction {
	if n > len(s.pending) {
		n = len(s.pending)
	}
	batch := append([]*lib.Transaction{}, s.pending[:n]...)
	s.pending = append([]*lib.Transaction{}, s.pending[n:]...)
	return batch
}

// lockedAdmit() appends a migrated batch to the pending queue; the caller
// holds the shard lock (rebalance path)
func (s *ShardState) lockedAdmit(batch []*lib.Transaction) {
	s.pending = append(s.pending, batch...)
}

// lockedRequeue() returns an extracted batch to the head of the pending queue;
// the caller holds the shard lock (rebalance rollback path)
func (s *ShardState) lockedRequeue(batch []*lib.Transaction) {
	s.pending = append(append([]*lib.Transaction{}, batch...), s.pending...)
}

// sortedMetaKeys() returns metadata keys in lexicographical order
func sortedMetaKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
