package reconciler

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asmadek/omni-mst-backend/internal/pkg/chain"
	"github.com/asmadek/omni-mst-backend/internal/pkg/messaging"
	"github.com/asmadek/omni-mst-backend/internal/pkg/model"
	"github.com/asmadek/omni-mst-backend/internal/transfer"
)

const (
	testAddress  = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	testCallHash = "0xabcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789"
)

type fakeSource struct {
	mu   sync.Mutex
	open []model.Transaction
}

func (s *fakeSource) OpenTransactions(ctx context.Context) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Transaction(nil), s.open...), nil
}

func (s *fakeSource) FindOpen(chainId string, callHash string) (*model.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.open {
		if record.ChainId == chainId && record.CallHash == callHash {
			found := record
			return &found, true
		}
	}
	return nil, false
}

func (s *fakeSource) FindOpenByAccount(chainId string, callHash string, accountId []byte) (*model.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.open {
		if record.ChainId != chainId || record.CallHash != callHash {
			continue
		}
		key, err := chain.DecodeSS58(record.Address)
		if err == nil && bytes.Equal(key, accountId) {
			found := record
			return &found, true
		}
	}
	return nil, false
}

type appliedEvidence struct {
	transactionId uint64
	evidence      []transfer.Evidence
	timepoint     *chain.Timepoint
}

type fakeSink struct {
	mu        sync.Mutex
	applied   []appliedEvidence
	confirmed map[uint64]chain.Timepoint
	cancelled []uint64
	applyErr  error
}

func newFakeSink() *fakeSink {
	return &fakeSink{confirmed: map[uint64]chain.Timepoint{}}
}

func (s *fakeSink) ApplyEvidence(ctx context.Context, transactionId uint64, evidence []transfer.Evidence, timepoint *chain.Timepoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, appliedEvidence{transactionId, evidence, timepoint})
	return s.applyErr
}

func (s *fakeSink) ConfirmExecuted(ctx context.Context, transactionId uint64, executedAt chain.Timepoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmed[transactionId] = executedAt
	return nil
}

func (s *fakeSink) MarkCancelled(ctx context.Context, transactionId uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, transactionId)
	return nil
}

func (s *fakeSink) appliedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.applied)
}

type fakeConnection struct {
	mu     sync.Mutex
	state  *chain.MultisigState
	failed int
	fails  int
}

func (c *fakeConnection) SubmitExtrinsic(ctx context.Context, extrinsic []byte) (string, error) {
	return "0x00", nil
}

func (c *fakeConnection) QueryMultisigState(ctx context.Context, accountId []byte, callHash []byte) (*chain.MultisigState, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed < c.fails {
		c.failed++
		return nil, false, chain.ErrConnectionUnavailable
	}
	if c.state == nil {
		return nil, false, nil
	}
	return c.state, true, nil
}

func (c *fakeConnection) MultisigConstants(ctx context.Context) (chain.MultisigConstants, error) {
	return chain.MultisigConstants{DepositBase: big.NewInt(0), DepositFactor: big.NewInt(0)}, nil
}

func (c *fakeConnection) SimulateFee(ctx context.Context, extrinsic []byte, signerAddress string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (c *fakeConnection) SubscribeEvents(ctx context.Context) (<-chan chain.Event, error) {
	events := make(chan chain.Event)
	close(events)
	return events, nil
}

func openTestTransaction() model.Transaction {
	return model.Transaction{
		Id:       7,
		ChainId:  "westend",
		Address:  testAddress,
		CallHash: testCallHash,
		Salt:     "salt-1",
		Status:   model.TransactionCreated,
	}
}

func envelopeFor(t *testing.T, event messaging.MstEvent, senderKey string) messaging.Envelope {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return messaging.Envelope{
		RoomId:    "room-1",
		EventType: messaging.EventMstApprove,
		SenderKey: senderKey,
		Payload:   payload,
	}
}

func newTestReconciler(source *fakeSource, sink *fakeSink, conn chain.Connection) *Reconciler {
	r := New(conn, "westend", source, sink, nil)
	r.PollInterval = 10 * time.Millisecond
	r.SweepInterval = 10 * time.Millisecond
	return r
}

func TestRoomApprovalMergesMessagingEvidence(t *testing.T) {
	source := &fakeSource{open: []model.Transaction{openTestTransaction()}}
	sink := newFakeSink()
	r := newTestReconciler(source, sink, &fakeConnection{})

	envelope := envelopeFor(t, messaging.MstEvent{
		ChainId:  "westend",
		CallHash: testCallHash,
		Salt:     "salt-1",
	}, "0xaa")

	r.handleRoomApproval(context.Background(), envelope)

	require.Len(t, sink.applied, 1)
	assert.Equal(t, uint64(7), sink.applied[0].transactionId)
	require.Len(t, sink.applied[0].evidence, 1)
	assert.Equal(t, transfer.SourceMessaging, sink.applied[0].evidence[0].Source)
	assert.Equal(t, "0xaa", sink.applied[0].evidence[0].SignatoryKey)
	assert.Nil(t, sink.applied[0].timepoint)
}

func TestRoomEventSaltMismatchIgnored(t *testing.T) {
	source := &fakeSource{open: []model.Transaction{openTestTransaction()}}
	sink := newFakeSink()
	r := newTestReconciler(source, sink, &fakeConnection{})

	envelope := envelopeFor(t, messaging.MstEvent{
		ChainId:  "westend",
		CallHash: testCallHash,
		Salt:     "wrong-salt",
	}, "0xaa")

	r.handleRoomApproval(context.Background(), envelope)

	assert.Empty(t, sink.applied)
}

func TestRoomEventForUnknownTransactionIgnored(t *testing.T) {
	source := &fakeSource{}
	sink := newFakeSink()
	r := newTestReconciler(source, sink, &fakeConnection{})

	envelope := envelopeFor(t, messaging.MstEvent{
		ChainId:  "westend",
		CallHash: testCallHash,
		Salt:     "salt-1",
	}, "0xaa")

	r.handleRoomApproval(context.Background(), envelope)

	assert.Empty(t, sink.applied)
}

func TestRoomApprovalCarriesTimepoint(t *testing.T) {
	source := &fakeSource{open: []model.Transaction{openTestTransaction()}}
	sink := newFakeSink()
	r := newTestReconciler(source, sink, &fakeConnection{})

	height := uint32(100)
	index := uint32(2)
	envelope := envelopeFor(t, messaging.MstEvent{
		ChainId:        "westend",
		CallHash:       testCallHash,
		Salt:           "salt-1",
		BlockHeight:    &height,
		ExtrinsicIndex: &index,
	}, "0xbb")

	r.handleRoomApproval(context.Background(), envelope)

	require.Len(t, sink.applied, 1)
	require.NotNil(t, sink.applied[0].timepoint)
	assert.Equal(t, chain.Timepoint{Height: 100, Index: 2}, *sink.applied[0].timepoint)
}

func TestChainExecutedEventConfirms(t *testing.T) {
	source := &fakeSource{open: []model.Transaction{openTestTransaction()}}
	sink := newFakeSink()
	r := newTestReconciler(source, sink, &fakeConnection{})

	r.handleChainEvent(context.Background(), chain.Event{
		Kind:      chain.EventExecuted,
		CallHash:  testCallHash,
		Timepoint: chain.Timepoint{Height: 42, Index: 1},
	})

	assert.Equal(t, chain.Timepoint{Height: 42, Index: 1}, sink.confirmed[7])
}

func TestChainEventForOtherMultisigIgnored(t *testing.T) {
	source := &fakeSource{open: []model.Transaction{openTestTransaction()}}
	sink := newFakeSink()
	r := newTestReconciler(source, sink, &fakeConnection{})

	// same call hash, but the event names Bob's account, not the tracked one
	r.handleChainEvent(context.Background(), chain.Event{
		Kind:      chain.EventApproval,
		AccountId: "0x8eaf04151687736326c9fea17e25fc5287613693c912909cb226aa4794f26a48",
		CallHash:  testCallHash,
		Timepoint: chain.Timepoint{Height: 10, Index: 1},
	})

	assert.Empty(t, sink.applied)
}

func TestChainEventMatchedOnMultisigAccount(t *testing.T) {
	source := &fakeSource{open: []model.Transaction{openTestTransaction()}}
	sink := newFakeSink()
	r := newTestReconciler(source, sink, &fakeConnection{})

	r.handleChainEvent(context.Background(), chain.Event{
		Kind:         chain.EventApproval,
		AccountId:    "0xd43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d",
		CallHash:     testCallHash,
		ApprovingKey: "0x01",
		Timepoint:    chain.Timepoint{Height: 10, Index: 1},
	})

	require.Len(t, sink.applied, 1)
	assert.Equal(t, uint64(7), sink.applied[0].transactionId)
}

func TestPollStopsOnConflictingTimepoint(t *testing.T) {
	source := &fakeSource{open: []model.Transaction{openTestTransaction()}}
	sink := newFakeSink()
	sink.applyErr = transfer.ErrStaleTimepoint
	conn := &fakeConnection{
		state: &chain.MultisigState{
			When:      chain.Timepoint{Height: 999, Index: 0},
			Approvals: []string{"0x01"},
		},
	}
	r := newTestReconciler(source, sink, conn)

	done := make(chan struct{})
	go func() {
		r.pollTransaction(context.Background(), openTestTransaction())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poll task kept running after a conflicting timepoint")
	}
	assert.Equal(t, 1, sink.appliedCount())
}

func TestChainCancelledEventCancels(t *testing.T) {
	source := &fakeSource{open: []model.Transaction{openTestTransaction()}}
	sink := newFakeSink()
	r := newTestReconciler(source, sink, &fakeConnection{})

	r.handleChainEvent(context.Background(), chain.Event{
		Kind:     chain.EventCancelled,
		CallHash: testCallHash,
	})

	assert.Equal(t, []uint64{7}, sink.cancelled)
}

func TestMessagingExecutedEventNeverConfirms(t *testing.T) {
	source := &fakeSource{open: []model.Transaction{openTestTransaction()}}
	sink := newFakeSink()
	r := newTestReconciler(source, sink, &fakeConnection{})

	envelope := envelopeFor(t, messaging.MstEvent{
		ChainId:  "westend",
		CallHash: testCallHash,
		Salt:     "salt-1",
	}, "0xcc")
	envelope.EventType = messaging.EventMstExecuted

	r.handleRoomApproval(context.Background(), envelope)

	// merged as approval evidence only; finality stays with the chain
	assert.Empty(t, sink.confirmed)
	assert.Len(t, sink.applied, 1)
}

func TestPollAppliesChainStateAsEvidence(t *testing.T) {
	source := &fakeSource{open: []model.Transaction{openTestTransaction()}}
	sink := newFakeSink()
	conn := &fakeConnection{
		state: &chain.MultisigState{
			When:      chain.Timepoint{Height: 10, Index: 1},
			Approvals: []string{"0x01", "0x02"},
		},
	}
	r := newTestReconciler(source, sink, conn)

	ctx, cancel := context.WithCancel(context.Background())
	go r.pollTransaction(ctx, openTestTransaction())

	require.Eventually(t, func() bool { return sink.appliedCount() > 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	first := sink.applied[0]
	assert.Equal(t, uint64(7), first.transactionId)
	assert.Len(t, first.evidence, 2)
	for _, item := range first.evidence {
		assert.Equal(t, transfer.SourceOnChain, item.Source)
	}
	require.NotNil(t, first.timepoint)
	assert.Equal(t, chain.Timepoint{Height: 10, Index: 1}, *first.timepoint)
}

func TestPollRetriesAfterTransientFailure(t *testing.T) {
	source := &fakeSource{open: []model.Transaction{openTestTransaction()}}
	sink := newFakeSink()
	conn := &fakeConnection{
		fails: 2,
		state: &chain.MultisigState{
			When:      chain.Timepoint{Height: 10, Index: 1},
			Approvals: []string{"0x01"},
		},
	}
	r := newTestReconciler(source, sink, conn)

	ctx, cancel := context.WithCancel(context.Background())
	go r.pollTransaction(ctx, openTestTransaction())

	require.Eventually(t, func() bool { return sink.appliedCount() > 0 }, 3*time.Second, 5*time.Millisecond)
	cancel()
}

func TestSweepStartsAndStopsTasks(t *testing.T) {
	record := openTestTransaction()
	source := &fakeSource{open: []model.Transaction{record}}
	sink := newFakeSink()
	r := newTestReconciler(source, sink, &fakeConnection{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.sweep(ctx)
	r.mu.Lock()
	assert.Len(t, r.tasks, 1)
	r.mu.Unlock()

	// transaction reached a terminal state; next sweep cancels its task
	source.mu.Lock()
	source.open = nil
	source.mu.Unlock()

	r.sweep(ctx)
	r.mu.Lock()
	assert.Empty(t, r.tasks)
	r.mu.Unlock()
}
