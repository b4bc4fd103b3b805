package lib

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lattice-labs/lattice/lib/crypto"
)

/* This file contains the shared data model of the control plane: transactions, blocks, shards, and metrics */

// ShardID uniquely identifies a transaction/balance partition
type ShardID uint64

// ConsensusMode is the consensus strategy active system-wide; exactly one is active at any instant
type ConsensusMode uint32

const (
	ProofOfStake ConsensusMode = iota // efficient finality under high reliability
	PBFT                              // balanced agreement under medium reliability
	ProofOfWork                       // conservative strategy under low reliability
)

// String() returns the human-readable name of the mode
func (m ConsensusMode) String() string {
	switch m {
	case ProofOfStake:
		return "proof_of_stake"
	case PBFT:
		return "pbft"
	case ProofOfWork:
		return "proof_of_work"
	}
	return "unknown"
}

// ValidMode() ensures the mode is a member of the enum
func ValidMode(m ConsensusMode) ErrorI {
	if m > ProofOfWork {
		return ErrInvalidConsensusMode(uint32(m))
	}
	return nil
}

// Transaction is a transfer of an amount between two accounts; immutable once created
// and assigned to exactly one shard at a time
type Transaction struct {
	ID        string   `json:"id"`        // unique identifier (uuid)
	Sender    string   `json:"sender"`    // the account debited; empty for a genesis mint
	Recipient string   `json:"recipient"` // the account credited
	Amount    uint64   `json:"amount"`    // the amount transferred
	Timestamp int64    `json:"timestamp"` // unix micro timestamp of creation
	Signature HexBytes `json:"signature"` // signature over SignBytes() by the sender key
	PublicKey HexBytes `json:"publicKey"` // the signer public key
}

// NewTransaction() creates an unsigned Transaction with a fresh uuid
func NewTransaction(sender, recipient string, amount uint64) *Transaction {
	return &Transaction{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Timestamp: time.Now().UnixMicro(),
	}
}

// SignBytes() returns the canonical bytes covered by the transaction signature
func (t *Transaction) SignBytes() []byte {
	cpy := *t
	cpy.Signature = nil
	bz, _ := json.Marshal(cpy)
	return bz
}

// Hash() returns the hash of the full transaction including the signature
func (t *Transaction) Hash() []byte {
	bz, _ := json.Marshal(t)
	return crypto.Hash(bz)
}

// Block is an ordered list of committed transactions sealed under a content hash; append-only once sealed
type Block struct {
	ID           string         `json:"id"`           // unique identifier (uuid)
	PrevHash     HexBytes       `json:"prevHash"`     // hash of the previous block
	Transactions []*Transaction `json:"transactions"` // the committed transactions in commit order
	Timestamp    int64          `json:"timestamp"`    // unix micro timestamp of sealing
	Hash         HexBytes       `json:"hash"`         // content hash; set once by Seal()
}

// NewBlock() creates an unsealed block over the given transactions
func NewBlock(prevHash []byte, txs []*Transaction) *Block {
	return &Block{
		ID:           uuid.NewString(),
		PrevHash:     prevHash,
		Transactions: txs,
		Timestamp:    time.Now().UnixMicro(),
	}
}

// Seal() computes and fixes the content hash; sealing twice is a no-op
func (b *Block) Seal() HexBytes {
	if b.Hash != nil {
		return b.Hash
	}
	cpy := *b
	cpy.Hash = nil
	bz, _ := json.Marshal(cpy)
	b.Hash = crypto.Hash(bz)
	return b.Hash
}

// NetworkMetrics is the health sample the consensus controller evaluates on each tick
type NetworkMetrics struct {
	LoadPct          uint64  `json:"loadPct"`          // network load percentage [0,100]
	AvgLatencyMS     uint64  `json:"avgLatencyMS"`     // average validator latency in milliseconds
	ReliabilityScore float64 `json:"reliabilityScore"` // network reliability [0,1]
}

// ShardSnapshot is the versioned, persisted projection of a ShardState at a point in time
type ShardSnapshot struct {
	ShardID     ShardID           `json:"shardId"`     // the shard this snapshot projects
	Version     uint64            `json:"version"`     // monotonically increasing per-shard version
	MerkleRoot  HexBytes          `json:"merkleRoot"`  // root over the committed transaction set
	Balances    map[string]uint64 `json:"balances"`    // account -> amount
	Metadata    map[string]string `json:"metadata"`    // opaque shard metadata
	Pending     []*Transaction    `json:"pending"`     // queued, not yet committed transactions
	Committed   []*Transaction    `json:"committed"`   // the merkle leaf set backing MerkleRoot
	Fingerprint HexBytes          `json:"fingerprint"` // state fingerprint at snapshot time
}

// MigrationRecord is the signed audit trail of an atomic batch migration between two shards
type MigrationRecord struct {
	From      ShardID  `json:"from"`      // source shard
	To        ShardID  `json:"to"`        // target shard
	TxIDs     []string `json:"txIds"`     // identifiers of the migrated transactions
	Timestamp int64    `json:"timestamp"` // unix micro timestamp of the migration
	Signature HexBytes `json:"signature"` // signature by the manager key
	PublicKey HexBytes `json:"publicKey"` // the manager public key
}

// SignBytes() returns the canonical bytes covered by the migration record signature
func (m *MigrationRecord) SignBytes() []byte {
	cpy := *m
	cpy.Signature = nil
	bz, _ := json.Marshal(cpy)
	return bz
}

// SortedBalanceKeys() returns the account keys of a balance map in lexicographical order
// so that serializations of the same state are byte-identical
func SortedBalanceKeys(balances map[string]uint64) []string {
	keys := make([]string, 0, len(balances))
	for k := range balances {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
