// Package state persists ledger records through a key-value backend. Records
// are stored as RLP-encoded shadow structs under keccak-hashed, prefixed
// keys so the layout stays stable regardless of the backing store.
package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"aidledger/core/types"
	"aidledger/native/escrow"
	"aidledger/native/fees"
	"aidledger/storage"
)

var (
	escrowRecordPrefix = []byte("escrow/record/")
	escrowUpdatePrefix = []byte("escrow/update/")
	escrowDonorPrefix  = []byte("escrow/donor/")
	balancePrefix      = []byte("bank/balance/")

	escrowNextIDKey  = ethcrypto.Keccak256([]byte("escrow/next-id"))
	feesAuthorityKey = ethcrypto.Keccak256([]byte("fees/authority"))
	feesEscrowFeeKey = ethcrypto.Keccak256([]byte("fees/escrow-fee"))
)

// Manager provides typed access to the persisted ledger state. It performs no
// locking; the owning node serializes every operation.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager over the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func prefixedKey(prefix, suffix []byte) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return ethcrypto.Keccak256(buf)
}

func idBytes(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

func escrowRecordKey(id uint64) []byte {
	return prefixedKey(escrowRecordPrefix, idBytes(id))
}

func escrowUpdateKey(id uint64) []byte {
	return prefixedKey(escrowUpdatePrefix, idBytes(id))
}

func donorIndexKey(donor types.Principal) []byte {
	return prefixedKey(escrowDonorPrefix, []byte(donor))
}

func balanceKey(p types.Principal) []byte {
	return prefixedKey(balancePrefix, []byte(p))
}

func (m *Manager) get(key []byte) ([]byte, bool, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

type storedEscrow struct {
	ID          uint64
	Donor       string
	Recipient   string
	Arbiter     string
	Amount      *big.Int
	MinAmount   *big.Int
	MaxAmount   *big.Int
	Duration    uint64
	Penalty     uint32
	Threshold   uint32
	Interest    uint32
	Grace       uint32
	EscrowType  uint8
	Currency    uint8
	Location    string
	Condition   string
	ReleaseTime uint64
	RefundTime  uint64
	Timestamp   uint64
	Status      uint8
	FeePaid     bool
}

func newStoredEscrow(e *escrow.Escrow) *storedEscrow {
	return &storedEscrow{
		ID:          e.ID,
		Donor:       e.Donor.String(),
		Recipient:   e.Recipient.String(),
		Arbiter:     e.Arbiter.String(),
		Amount:      e.Amount,
		MinAmount:   e.MinAmount,
		MaxAmount:   e.MaxAmount,
		Duration:    e.Duration,
		Penalty:     e.Penalty,
		Threshold:   e.Threshold,
		Interest:    e.Interest,
		Grace:       e.Grace,
		EscrowType:  uint8(e.EscrowType),
		Currency:    uint8(e.Currency),
		Location:    e.Location,
		Condition:   e.Condition,
		ReleaseTime: e.ReleaseTime,
		RefundTime:  e.RefundTime,
		Timestamp:   e.Timestamp,
		Status:      uint8(e.Status),
		FeePaid:     e.FeePaid,
	}
}

func (s *storedEscrow) toEscrow() (*escrow.Escrow, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil escrow record")
	}
	record := &escrow.Escrow{
		ID:          s.ID,
		Donor:       types.Principal(s.Donor),
		Recipient:   types.Principal(s.Recipient),
		Arbiter:     types.Principal(s.Arbiter),
		Amount:      s.Amount,
		MinAmount:   s.MinAmount,
		MaxAmount:   s.MaxAmount,
		Duration:    s.Duration,
		Penalty:     s.Penalty,
		Threshold:   s.Threshold,
		Interest:    s.Interest,
		Grace:       s.Grace,
		EscrowType:  escrow.Type(s.EscrowType),
		Currency:    escrow.Currency(s.Currency),
		Location:    s.Location,
		Condition:   s.Condition,
		ReleaseTime: s.ReleaseTime,
		RefundTime:  s.RefundTime,
		Timestamp:   s.Timestamp,
		Status:      escrow.Status(s.Status),
		FeePaid:     s.FeePaid,
	}
	return escrow.Sanitize(record)
}

// EscrowPut validates and persists an escrow record.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.Sanitize(e)
	if err != nil {
		return fmt.Errorf("state: escrow put: %w", err)
	}
	encoded, err := rlp.EncodeToBytes(newStoredEscrow(sanitized))
	if err != nil {
		return fmt.Errorf("state: encode escrow %d: %w", sanitized.ID, err)
	}
	return m.db.Put(escrowRecordKey(sanitized.ID), encoded)
}

// EscrowGet loads the escrow with the supplied ID.
func (m *Manager) EscrowGet(id uint64) (*escrow.Escrow, bool, error) {
	data, ok, err := m.get(escrowRecordKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	var stored storedEscrow
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, false, fmt.Errorf("state: decode escrow %d: %w", id, err)
	}
	record, err := stored.toEscrow()
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

type storedUpdate struct {
	Amount    *big.Int
	Duration  uint64
	Timestamp uint64
	Updater   string
}

// EscrowUpdatePut replaces the retained amendment record for an escrow.
func (m *Manager) EscrowUpdatePut(id uint64, update *escrow.Update) error {
	if update == nil {
		return fmt.Errorf("state: nil update record")
	}
	amount := update.Amount
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: update amount must be non-negative")
	}
	encoded, err := rlp.EncodeToBytes(&storedUpdate{
		Amount:    amount,
		Duration:  update.Duration,
		Timestamp: update.Timestamp,
		Updater:   update.Updater.String(),
	})
	if err != nil {
		return fmt.Errorf("state: encode update %d: %w", id, err)
	}
	return m.db.Put(escrowUpdateKey(id), encoded)
}

// EscrowUpdateGet loads the retained amendment record for an escrow.
func (m *Manager) EscrowUpdateGet(id uint64) (*escrow.Update, bool, error) {
	data, ok, err := m.get(escrowUpdateKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	var stored storedUpdate
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, false, fmt.Errorf("state: decode update %d: %w", id, err)
	}
	return &escrow.Update{
		Amount:    stored.Amount,
		Duration:  stored.Duration,
		Timestamp: stored.Timestamp,
		Updater:   types.Principal(stored.Updater),
	}, true, nil
}

// DonorIndexAppend records a newly created escrow under its donor. The index
// is append-only: settled escrows are never removed.
func (m *Manager) DonorIndexAppend(donor types.Principal, id uint64) error {
	ids, err := m.DonorIndexGet(donor)
	if err != nil {
		return err
	}
	ids = append(ids, id)
	encoded, err := rlp.EncodeToBytes(ids)
	if err != nil {
		return fmt.Errorf("state: encode donor index: %w", err)
	}
	return m.db.Put(donorIndexKey(donor), encoded)
}

// DonorIndexGet returns every escrow ID the donor created, oldest first.
func (m *Manager) DonorIndexGet(donor types.Principal) ([]uint64, error) {
	data, ok, err := m.get(donorIndexKey(donor))
	if err != nil {
		return nil, err
	}
	if !ok {
		return []uint64{}, nil
	}
	var ids []uint64
	if err := rlp.DecodeBytes(data, &ids); err != nil {
		return nil, fmt.Errorf("state: decode donor index: %w", err)
	}
	return ids, nil
}

// NextEscrowID returns the monotone creation counter, zero when unset.
func (m *Manager) NextEscrowID() (uint64, error) {
	data, ok, err := m.get(escrowNextIDKey)
	if err != nil || !ok {
		return 0, err
	}
	var next uint64
	if err := rlp.DecodeBytes(data, &next); err != nil {
		return 0, fmt.Errorf("state: decode next escrow id: %w", err)
	}
	return next, nil
}

// SetNextEscrowID persists the creation counter.
func (m *Manager) SetNextEscrowID(id uint64) error {
	encoded, err := rlp.EncodeToBytes(id)
	if err != nil {
		return fmt.Errorf("state: encode next escrow id: %w", err)
	}
	return m.db.Put(escrowNextIDKey, encoded)
}

// AuthorityGet returns the registered fee authority, if any.
func (m *Manager) AuthorityGet() (types.Principal, bool, error) {
	data, ok, err := m.get(feesAuthorityKey)
	if err != nil || !ok {
		return "", false, err
	}
	var stored string
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return "", false, fmt.Errorf("state: decode authority: %w", err)
	}
	return types.Principal(stored), true, nil
}

// AuthoritySet stores the fee authority principal.
func (m *Manager) AuthoritySet(authority types.Principal) error {
	if authority.IsZero() {
		return fmt.Errorf("state: authority principal required")
	}
	encoded, err := rlp.EncodeToBytes(authority.String())
	if err != nil {
		return fmt.Errorf("state: encode authority: %w", err)
	}
	return m.db.Put(feesAuthorityKey, encoded)
}

// FeeIsSet reports whether a creation fee was ever persisted.
func (m *Manager) FeeIsSet() (bool, error) {
	return m.db.Has(feesEscrowFeeKey)
}

// FeeGet returns the stored creation fee, falling back to the default when
// none was ever set.
func (m *Manager) FeeGet() (*big.Int, error) {
	data, ok, err := m.get(feesEscrowFeeKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(big.Int).Set(fees.DefaultFee), nil
	}
	fee := new(big.Int)
	if err := rlp.DecodeBytes(data, fee); err != nil {
		return nil, fmt.Errorf("state: decode fee: %w", err)
	}
	return fee, nil
}

// FeeSet persists the creation fee.
func (m *Manager) FeeSet(fee *big.Int) error {
	if fee == nil || fee.Sign() < 0 {
		return fmt.Errorf("state: fee must be non-negative")
	}
	encoded, err := rlp.EncodeToBytes(fee)
	if err != nil {
		return fmt.Errorf("state: encode fee: %w", err)
	}
	return m.db.Put(feesEscrowFeeKey, encoded)
}

// BalanceGet returns the stored balance for a principal, zero when absent.
func (m *Manager) BalanceGet(p types.Principal) (*big.Int, error) {
	data, ok, err := m.get(balanceKey(p))
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	balance := new(big.Int)
	if err := rlp.DecodeBytes(data, balance); err != nil {
		return nil, fmt.Errorf("state: decode balance: %w", err)
	}
	return balance, nil
}

// BalanceSet persists the balance for a principal.
func (m *Manager) BalanceSet(p types.Principal, amount *big.Int) error {
	if p.IsZero() {
		return fmt.Errorf("state: balance principal required")
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: balance must be non-negative")
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return fmt.Errorf("state: encode balance: %w", err)
	}
	return m.db.Put(balanceKey(p), encoded)
}
