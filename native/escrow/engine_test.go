package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"aidledger/core/events"
	"aidledger/core/types"
)

const (
	testDonor     = types.Principal("ST1DONOR")
	testAuthority = types.Principal("ST2AUTH")
	testRecipient = types.Principal("ST3RECIP")
	testArbiter   = types.Principal("ST4ARBITER")
	testStranger  = types.Principal("ST5FAKE")
)

type mockState struct {
	escrows      map[uint64]*Escrow
	updates      map[uint64]*Update
	donors       map[types.Principal][]uint64
	nextID       uint64
	authority    types.Principal
	hasAuthority bool
	fee          *big.Int
}

func newMockState() *mockState {
	return &mockState{
		escrows:      make(map[uint64]*Escrow),
		updates:      make(map[uint64]*Update),
		donors:       make(map[types.Principal][]uint64),
		authority:    testAuthority,
		hasAuthority: true,
		fee:          big.NewInt(500),
	}
}

func (m *mockState) EscrowPut(e *Escrow) error {
	m.escrows[e.ID] = e.Clone()
	return nil
}

func (m *mockState) EscrowGet(id uint64) (*Escrow, bool, error) {
	esc, ok := m.escrows[id]
	if !ok {
		return nil, false, nil
	}
	return esc.Clone(), true, nil
}

func (m *mockState) EscrowUpdatePut(id uint64, update *Update) error {
	m.updates[id] = update.Clone()
	return nil
}

func (m *mockState) EscrowUpdateGet(id uint64) (*Update, bool, error) {
	update, ok := m.updates[id]
	if !ok {
		return nil, false, nil
	}
	return update.Clone(), true, nil
}

func (m *mockState) DonorIndexAppend(donor types.Principal, id uint64) error {
	m.donors[donor] = append(m.donors[donor], id)
	return nil
}

func (m *mockState) DonorIndexGet(donor types.Principal) ([]uint64, error) {
	return append([]uint64(nil), m.donors[donor]...), nil
}

func (m *mockState) NextEscrowID() (uint64, error) { return m.nextID, nil }

func (m *mockState) SetNextEscrowID(id uint64) error {
	m.nextID = id
	return nil
}

func (m *mockState) AuthorityGet() (types.Principal, bool, error) {
	if !m.hasAuthority {
		return "", false, nil
	}
	return m.authority, true, nil
}

func (m *mockState) FeeGet() (*big.Int, error) { return new(big.Int).Set(m.fee), nil }

type recordedTransfer struct {
	amount int64
	from   types.Principal
	to     types.Principal
}

type recordingLedger struct {
	transfers []recordedTransfer
	failWith  error
}

func (l *recordingLedger) Transfer(amount *big.Int, from, to types.Principal) error {
	return l.Apply([]Transfer{{Amount: amount, From: from, To: to}})
}

func (l *recordingLedger) Apply(transfers []Transfer) error {
	if l.failWith != nil {
		return l.failWith
	}
	for _, t := range transfers {
		l.transfers = append(l.transfers, recordedTransfer{amount: t.Amount.Int64(), from: t.From, to: t.To})
	}
	return nil
}

type captureEmitter struct {
	emitted []events.Event
}

func (c *captureEmitter) Emit(e events.Event) { c.emitted = append(c.emitted, e) }

type testEnv struct {
	engine *Engine
	state  *mockState
	ledger *recordingLedger
	height uint64
}

func newTestEnv() *testEnv {
	env := &testEnv{state: newMockState(), ledger: &recordingLedger{}}
	env.engine = NewEngine()
	env.engine.SetState(env.state)
	env.engine.SetLedger(env.ledger)
	env.engine.SetHeightFunc(func() uint64 { return env.height })
	return env
}

func validParams() CreateParams {
	return CreateParams{
		Recipient:   testRecipient,
		Amount:      big.NewInt(1000),
		Duration:    30,
		Penalty:     5,
		Threshold:   50,
		EscrowType:  "donation",
		Interest:    10,
		Grace:       7,
		Location:    "CountryX",
		Currency:    "STX",
		MinAmount:   big.NewInt(500),
		MaxAmount:   big.NewInt(2000),
		Condition:   "customs cleared",
		ReleaseTime: 100,
		RefundTime:  200,
		Arbiter:     testArbiter,
	}
}

func mustCreate(t *testing.T, env *testEnv) uint64 {
	t.Helper()
	id, err := env.engine.Create(testDonor, validParams())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return id
}

func TestCreateEscrow(t *testing.T) {
	env := newTestEnv()
	id, err := env.engine.Create(testDonor, validParams())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected first ID 0, got %d", id)
	}

	esc, ok, err := env.state.EscrowGet(0)
	if err != nil || !ok {
		t.Fatalf("stored escrow missing: ok=%v err=%v", ok, err)
	}
	if esc.Donor != testDonor || esc.Recipient != testRecipient || esc.Arbiter != testArbiter {
		t.Fatalf("unexpected principals: %+v", esc)
	}
	if esc.Amount.Int64() != 1000 || esc.MinAmount.Int64() != 500 || esc.MaxAmount.Int64() != 2000 {
		t.Fatalf("unexpected amounts: %+v", esc)
	}
	if esc.Duration != 30 || esc.Penalty != 5 || esc.Threshold != 50 || esc.Interest != 10 || esc.Grace != 7 {
		t.Fatalf("unexpected terms: %+v", esc)
	}
	if esc.EscrowType != TypeDonation || esc.Currency != CurrencySTX {
		t.Fatalf("unexpected tags: %+v", esc)
	}
	if esc.Location != "CountryX" || esc.Condition != "customs cleared" {
		t.Fatalf("unexpected text fields: %+v", esc)
	}
	if esc.ReleaseTime != 100 || esc.RefundTime != 200 || esc.Timestamp != 0 {
		t.Fatalf("unexpected heights: %+v", esc)
	}
	if esc.Status != StatusLocked || !esc.FeePaid {
		t.Fatalf("unexpected status: %+v", esc)
	}

	want := []recordedTransfer{
		{amount: 500, from: testDonor, to: testAuthority},
		{amount: 1000, from: testDonor, to: ModuleVault},
	}
	if len(env.ledger.transfers) != len(want) {
		t.Fatalf("expected %d transfers, got %d", len(want), len(env.ledger.transfers))
	}
	for i, transfer := range want {
		if env.ledger.transfers[i] != transfer {
			t.Fatalf("transfer %d mismatch: got %+v want %+v", i, env.ledger.transfers[i], transfer)
		}
	}

	if ids, _ := env.state.DonorIndexGet(testDonor); len(ids) != 1 || ids[0] != 0 {
		t.Fatalf("unexpected donor index: %v", ids)
	}
	if env.state.nextID != 1 {
		t.Fatalf("expected next ID 1, got %d", env.state.nextID)
	}
}

func TestCreateSequentialIDs(t *testing.T) {
	env := newTestEnv()
	for i := 0; i < 3; i++ {
		id, err := env.engine.Create(testDonor, validParams())
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if id != uint64(i) {
			t.Fatalf("expected dense ID %d, got %d", i, id)
		}
	}
	count, err := env.engine.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected count 3, got %d", count)
	}
}

func TestCreateValidationOrder(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(env *testEnv, p *CreateParams)
		wantErr *Error
	}{
		{"recipient is caller", func(_ *testEnv, p *CreateParams) {
			p.Recipient = testDonor
			p.Amount = big.NewInt(0) // recipient check runs first
		}, ErrInvalidRecipient},
		{"zero amount", func(_ *testEnv, p *CreateParams) { p.Amount = big.NewInt(0) }, ErrInvalidAmount},
		{"negative amount", func(_ *testEnv, p *CreateParams) { p.Amount = big.NewInt(-5) }, ErrInvalidAmount},
		{"zero duration", func(_ *testEnv, p *CreateParams) { p.Duration = 0 }, ErrInvalidDuration},
		{"penalty over 100", func(_ *testEnv, p *CreateParams) { p.Penalty = 101 }, ErrInvalidPenalty},
		{"zero threshold", func(_ *testEnv, p *CreateParams) { p.Threshold = 0 }, ErrInvalidThreshold},
		{"threshold over 100", func(_ *testEnv, p *CreateParams) { p.Threshold = 101 }, ErrInvalidThreshold},
		{"unknown type", func(_ *testEnv, p *CreateParams) { p.EscrowType = "invalid" }, ErrInvalidEscrowType},
		{"interest over 20", func(_ *testEnv, p *CreateParams) { p.Interest = 21 }, ErrInvalidInterest},
		{"grace over 30", func(_ *testEnv, p *CreateParams) { p.Grace = 31 }, ErrInvalidGrace},
		{"empty location", func(_ *testEnv, p *CreateParams) { p.Location = "" }, ErrInvalidLocation},
		{"oversized location", func(_ *testEnv, p *CreateParams) { p.Location = strings.Repeat("x", 101) }, ErrInvalidLocation},
		{"unknown currency", func(_ *testEnv, p *CreateParams) { p.Currency = "DOGE" }, ErrInvalidCurrency},
		{"zero min amount", func(_ *testEnv, p *CreateParams) { p.MinAmount = big.NewInt(0) }, ErrInvalidMinAmount},
		{"zero max amount", func(_ *testEnv, p *CreateParams) { p.MaxAmount = big.NewInt(0) }, ErrInvalidMaxAmount},
		{"empty condition", func(_ *testEnv, p *CreateParams) { p.Condition = "" }, ErrInvalidCondition},
		{"oversized condition", func(_ *testEnv, p *CreateParams) { p.Condition = strings.Repeat("x", 201) }, ErrInvalidCondition},
		{"release time in past", func(env *testEnv, p *CreateParams) {
			env.height = 100
			p.RefundTime = 300
		}, ErrInvalidReleaseTime},
		{"refund time in past", func(env *testEnv, p *CreateParams) {
			env.height = 150
			p.ReleaseTime = 151
			p.RefundTime = 150
		}, ErrInvalidRefundTime},
		{"arbiter is caller", func(_ *testEnv, p *CreateParams) { p.Arbiter = testDonor }, ErrInvalidArbiter},
		{"authority missing", func(env *testEnv, _ *CreateParams) { env.state.hasAuthority = false }, ErrAuthorityNotSet},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv()
			params := validParams()
			tc.mutate(env, &params)
			if _, err := env.engine.Create(testDonor, params); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if len(env.ledger.transfers) != 0 {
				t.Fatalf("no transfers expected on rejection, got %v", env.ledger.transfers)
			}
			if env.state.nextID != 0 {
				t.Fatalf("counter must not advance on rejection")
			}
		})
	}
}

func TestCreateCapacity(t *testing.T) {
	env := newTestEnv()
	env.engine.SetMaxEscrows(1)
	mustCreate(t, env)
	if _, err := env.engine.Create(testDonor, validParams()); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	count, _ := env.engine.Count()
	if count != 1 {
		t.Fatalf("counter must not advance past capacity, got %d", count)
	}
}

func TestCreateTransferFailureLeavesNoState(t *testing.T) {
	env := newTestEnv()
	env.ledger.failWith = fmt.Errorf("insufficient balance")
	if _, err := env.engine.Create(testDonor, validParams()); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	if len(env.state.escrows) != 0 {
		t.Fatalf("no record expected after transfer failure")
	}
	if env.state.nextID != 0 {
		t.Fatalf("counter must not advance after transfer failure")
	}
	if ids, _ := env.state.DonorIndexGet(testDonor); len(ids) != 0 {
		t.Fatalf("donor index must stay empty, got %v", ids)
	}
}

func TestCreateTextBoundsCountRunes(t *testing.T) {
	env := newTestEnv()
	params := validParams()
	// 60 runes but 120 bytes; the bound is on characters.
	params.Location = strings.Repeat("é", 60)
	params.Condition = strings.Repeat("ü", 150)
	if _, err := env.engine.Create(testDonor, params); err != nil {
		t.Fatalf("create: %v", err)
	}

	env = newTestEnv()
	params = validParams()
	params.Location = strings.Repeat("é", 101)
	if _, err := env.engine.Create(testDonor, params); !errors.Is(err, ErrInvalidLocation) {
		t.Fatalf("expected invalid location, got %v", err)
	}
}

func TestCreateBoundsNotEnforced(t *testing.T) {
	env := newTestEnv()
	params := validParams()
	params.MinAmount = big.NewInt(5000)
	params.MaxAmount = big.NewInt(6000)
	// amount outside [min,max] is accepted; the bounds are informational
	if _, err := env.engine.Create(testDonor, params); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestUpdateEscrow(t *testing.T) {
	env := newTestEnv()
	id := mustCreate(t, env)
	env.height = 10

	if err := env.engine.Update(testDonor, id, big.NewInt(1500), 45); err != nil {
		t.Fatalf("update: %v", err)
	}
	esc, _, _ := env.state.EscrowGet(id)
	if esc.Amount.Int64() != 1500 || esc.Duration != 45 || esc.Timestamp != 10 {
		t.Fatalf("update not applied: %+v", esc)
	}
	update, ok, _ := env.state.EscrowUpdateGet(id)
	if !ok {
		t.Fatalf("expected retained update record")
	}
	if update.Amount.Int64() != 1500 || update.Duration != 45 || update.Timestamp != 10 || update.Updater != testDonor {
		t.Fatalf("unexpected update record: %+v", update)
	}

	// The increase draws the 500 difference from the donor.
	last := env.ledger.transfers[len(env.ledger.transfers)-1]
	if last != (recordedTransfer{amount: 500, from: testDonor, to: ModuleVault}) {
		t.Fatalf("unexpected amendment transfer: %+v", last)
	}

	// A second amendment overwrites the retained record.
	env.height = 20
	if err := env.engine.Update(testDonor, id, big.NewInt(1800), 60); err != nil {
		t.Fatalf("second update: %v", err)
	}
	update, _, _ = env.state.EscrowUpdateGet(id)
	if update.Amount.Int64() != 1800 || update.Timestamp != 20 {
		t.Fatalf("update record not overwritten: %+v", update)
	}
	last = env.ledger.transfers[len(env.ledger.transfers)-1]
	if last != (recordedTransfer{amount: 300, from: testDonor, to: ModuleVault}) {
		t.Fatalf("unexpected amendment transfer: %+v", last)
	}
}

func TestUpdateDecreaseReturnsDifference(t *testing.T) {
	env := newTestEnv()
	id := mustCreate(t, env)

	if err := env.engine.Update(testDonor, id, big.NewInt(400), 30); err != nil {
		t.Fatalf("update: %v", err)
	}
	last := env.ledger.transfers[len(env.ledger.transfers)-1]
	if last != (recordedTransfer{amount: 600, from: ModuleVault, to: testDonor}) {
		t.Fatalf("unexpected amendment transfer: %+v", last)
	}
}

func TestUpdateSameAmountMovesNothing(t *testing.T) {
	env := newTestEnv()
	id := mustCreate(t, env)
	before := len(env.ledger.transfers)

	if err := env.engine.Update(testDonor, id, big.NewInt(1000), 60); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(env.ledger.transfers) != before {
		t.Fatalf("unchanged amount must not move funds, got %v", env.ledger.transfers[before:])
	}
	esc, _, _ := env.state.EscrowGet(id)
	if esc.Duration != 60 {
		t.Fatalf("duration amendment not applied: %+v", esc)
	}
}

func TestUpdateTransferFailureLeavesRecord(t *testing.T) {
	env := newTestEnv()
	id := mustCreate(t, env)
	env.ledger.failWith = fmt.Errorf("insufficient balance")

	if err := env.engine.Update(testDonor, id, big.NewInt(1500), 45); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	esc, _, _ := env.state.EscrowGet(id)
	if esc.Amount.Int64() != 1000 || esc.Duration != 30 {
		t.Fatalf("failed amendment must leave the record unchanged: %+v", esc)
	}
	if _, ok, _ := env.state.EscrowUpdateGet(id); ok {
		t.Fatalf("failed amendment must not retain an update record")
	}
}

func TestReleaseAfterAmountIncrease(t *testing.T) {
	env := newTestEnv()
	id := mustCreate(t, env)

	if err := env.engine.Update(testDonor, id, big.NewInt(1500), 45); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := env.engine.Release(testArbiter, id); err != nil {
		t.Fatalf("release after increase: %v", err)
	}
	// The settle pays out the amended amount, which the vault now holds.
	last := env.ledger.transfers[len(env.ledger.transfers)-1]
	if last != (recordedTransfer{amount: 1500, from: ModuleVault, to: testRecipient}) {
		t.Fatalf("unexpected settle transfer: %+v", last)
	}
}

func TestUpdateRejections(t *testing.T) {
	env := newTestEnv()
	id := mustCreate(t, env)

	if err := env.engine.Update(testDonor, 99, big.NewInt(1), 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	// Authorization is checked before amount validity.
	if err := env.engine.Update(testStranger, id, big.NewInt(0), 45); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}
	if err := env.engine.Update(testDonor, id, big.NewInt(0), 45); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if err := env.engine.Update(testDonor, id, big.NewInt(1500), 0); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected invalid duration, got %v", err)
	}

	if err := env.engine.Release(testArbiter, id); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := env.engine.Update(testDonor, id, big.NewInt(1500), 45); !errors.Is(err, ErrUpdateNotAllowed) {
		t.Fatalf("expected update not allowed, got %v", err)
	}
}

func TestReleaseByArbiter(t *testing.T) {
	env := newTestEnv()
	id := mustCreate(t, env)

	if err := env.engine.Release(testArbiter, id); err != nil {
		t.Fatalf("release: %v", err)
	}
	esc, _, _ := env.state.EscrowGet(id)
	if esc.Status != StatusReleased {
		t.Fatalf("expected released, got %s", esc.Status)
	}
	last := env.ledger.transfers[len(env.ledger.transfers)-1]
	if last != (recordedTransfer{amount: 1000, from: ModuleVault, to: testRecipient}) {
		t.Fatalf("unexpected settle transfer: %+v", last)
	}

	if err := env.engine.Release(testArbiter, id); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("second release must fail with invalid status, got %v", err)
	}
	if err := env.engine.Refund(testArbiter, id); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("refund after release must fail with invalid status, got %v", err)
	}
}

func TestReleaseAtDeadline(t *testing.T) {
	env := newTestEnv()
	id := mustCreate(t, env)
	env.height = 100 // deadline itself is enough

	if err := env.engine.Release(testDonor, id); err != nil {
		t.Fatalf("release at deadline: %v", err)
	}
	esc, _, _ := env.state.EscrowGet(id)
	if esc.Status != StatusReleased {
		t.Fatalf("expected released, got %s", esc.Status)
	}
}

func TestReleaseBeforeDeadlineRejected(t *testing.T) {
	env := newTestEnv()
	id := mustCreate(t, env)

	if err := env.engine.Release(testStranger, id); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}
	if err := env.engine.Release(testStranger, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRefund(t *testing.T) {
	env := newTestEnv()
	id := mustCreate(t, env)

	if err := env.engine.Refund(testStranger, id); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected not authorized before deadline, got %v", err)
	}
	if err := env.engine.Refund(testArbiter, id); err != nil {
		t.Fatalf("arbiter refund: %v", err)
	}
	esc, _, _ := env.state.EscrowGet(id)
	if esc.Status != StatusRefunded {
		t.Fatalf("expected refunded, got %s", esc.Status)
	}
	last := env.ledger.transfers[len(env.ledger.transfers)-1]
	if last != (recordedTransfer{amount: 1000, from: ModuleVault, to: testDonor}) {
		t.Fatalf("unexpected refund transfer: %+v", last)
	}
	if err := env.engine.Refund(testArbiter, id); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("second refund must fail with invalid status, got %v", err)
	}
}

func TestRefundAtDeadline(t *testing.T) {
	env := newTestEnv()
	id := mustCreate(t, env)
	env.height = 200

	if err := env.engine.Refund(testStranger, id); err != nil {
		t.Fatalf("refund at deadline: %v", err)
	}
	esc, _, _ := env.state.EscrowGet(id)
	if esc.Status != StatusRefunded {
		t.Fatalf("expected refunded, got %s", esc.Status)
	}
}

func TestStatusOf(t *testing.T) {
	env := newTestEnv()
	id := mustCreate(t, env)

	status, err := env.engine.StatusOf(id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.String() != "locked" {
		t.Fatalf("expected locked, got %s", status)
	}
	if _, err := env.engine.StatusOf(99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDonorIndexKeepsSettledEscrows(t *testing.T) {
	env := newTestEnv()
	id := mustCreate(t, env)
	if err := env.engine.Release(testArbiter, id); err != nil {
		t.Fatalf("release: %v", err)
	}
	ids, err := env.engine.EscrowsByDonor(testDonor)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("settled escrow must stay indexed, got %v", ids)
	}
}

func TestEngineEmitsEvents(t *testing.T) {
	env := newTestEnv()
	capture := &captureEmitter{}
	env.engine.SetEmitter(capture)

	id := mustCreate(t, env)
	if err := env.engine.Update(testDonor, id, big.NewInt(1500), 45); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := env.engine.Release(testArbiter, id); err != nil {
		t.Fatalf("release: %v", err)
	}

	want := []string{EventTypeEscrowCreated, EventTypeEscrowUpdated, EventTypeEscrowReleased}
	if len(capture.emitted) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(capture.emitted))
	}
	for i, eventType := range want {
		if capture.emitted[i].Type != eventType {
			t.Fatalf("event %d: expected %s, got %s", i, eventType, capture.emitted[i].Type)
		}
	}
	if capture.emitted[0].Attributes["id"] != "0" || capture.emitted[0].Attributes["donor"] != string(testDonor) {
		t.Fatalf("unexpected created attributes: %v", capture.emitted[0].Attributes)
	}
}
