package reconciler

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/asmadek/omni-mst-backend/internal/pkg/chain"
	"github.com/asmadek/omni-mst-backend/internal/pkg/messaging"
	"github.com/asmadek/omni-mst-backend/internal/pkg/model"
	"github.com/asmadek/omni-mst-backend/internal/transfer"
)

// TransactionSource yields the open transactions worth reconciling and
// correlates incoming events with them.
type TransactionSource interface {
	OpenTransactions(ctx context.Context) ([]model.Transaction, error)
	FindOpen(chainId string, callHash string) (*model.Transaction, bool)
	FindOpenByAccount(chainId string, callHash string, accountId []byte) (*model.Transaction, bool)
}

// EvidenceSink is the single mutation entry point. Everything the loop
// observes funnels through it; the sink discards evidence for transactions
// that went terminal in the meantime.
type EvidenceSink interface {
	ApplyEvidence(ctx context.Context, transactionId uint64, evidence []transfer.Evidence, timepoint *chain.Timepoint) error
	ConfirmExecuted(ctx context.Context, transactionId uint64, executedAt chain.Timepoint) error
	MarkCancelled(ctx context.Context, transactionId uint64) error
}

// Reconciler merges approval evidence from chain polling and messaging push
// into the transaction lifecycle. Each open transaction gets its own poll
// task; tasks are canceled the moment their transaction leaves the open set.
type Reconciler struct {
	Chain     chain.Connection
	ChainId   string
	Source    TransactionSource
	Sink      EvidenceSink
	Messaging messaging.Client

	PollInterval  time.Duration
	SweepInterval time.Duration

	mu    sync.Mutex
	tasks map[uint64]context.CancelFunc
}

func New(conn chain.Connection, chainId string, source TransactionSource, sink EvidenceSink, msg messaging.Client) *Reconciler {
	return &Reconciler{
		Chain:         conn,
		ChainId:       chainId,
		Source:        source,
		Sink:          sink,
		Messaging:     msg,
		PollInterval:  1500 * time.Millisecond,
		SweepInterval: 5 * time.Second,
		tasks:         map[uint64]context.CancelFunc{},
	}
}

// Start launches the sweep loop, the chain event subscription and the
// messaging subscriptions. It returns immediately; everything stops when ctx
// is done.
func (r *Reconciler) Start(ctx context.Context) {
	r.subscribeMessaging(ctx)
	go r.consumeChainEvents(ctx)
	go r.sweepLoop(ctx)
}

func (r *Reconciler) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(r.SweepInterval)
	defer ticker.Stop()

	for {
		r.sweep(ctx)
		select {
		case <-ctx.Done():
			r.cancelAll()
			return
		case <-ticker.C:
		}
	}
}

// sweep aligns the running poll tasks with the current open set.
func (r *Reconciler) sweep(ctx context.Context) {
	open, err := r.Source.OpenTransactions(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Cannot list open transactions for reconciliation")
		return
	}

	openIds := make(map[uint64]model.Transaction, len(open))
	for _, record := range open {
		openIds[record.Id] = record
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, cancel := range r.tasks {
		if _, stillOpen := openIds[id]; !stillOpen {
			cancel()
			delete(r.tasks, id)
		}
	}

	for id, record := range openIds {
		if _, running := r.tasks[id]; running {
			continue
		}
		taskCtx, cancel := context.WithCancel(ctx)
		r.tasks[id] = cancel
		go r.pollTransaction(taskCtx, record)
	}
}

func (r *Reconciler) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, cancel := range r.tasks {
		cancel()
		delete(r.tasks, id)
	}
}

// stopTask cancels one poll task early, without waiting for the next sweep.
func (r *Reconciler) stopTask(transactionId uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.tasks[transactionId]; ok {
		cancel()
		delete(r.tasks, transactionId)
	}
}

// pollTransaction polls chain state for one open transaction. Transient
// connection failures back off and retry; they are never escalated to the
// transaction itself.
func (r *Reconciler) pollTransaction(ctx context.Context, record model.Transaction) {
	accountId, err := chain.DecodeSS58(record.Address)
	if err != nil {
		log.Warn().Err(err).Uint64("transactionId", record.Id).Msg("Cannot decode multisig address, not polling")
		return
	}
	callHash, err := hex.DecodeString(strings.TrimPrefix(record.CallHash, "0x"))
	if err != nil {
		log.Warn().Err(err).Uint64("transactionId", record.Id).Msg("Cannot decode call hash, not polling")
		return
	}

	retry := &backoff.Backoff{
		Min:    r.PollInterval,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for {
		wait := r.PollInterval

		state, found, err := r.Chain.QueryMultisigState(ctx, accountId, callHash)
		switch {
		case err != nil:
			wait = retry.Duration()
			if !errors.Is(err, chain.ErrConnectionUnavailable) {
				log.Warn().Err(err).Uint64("transactionId", record.Id).Msg("Multisig state query failed")
			}
		case found:
			retry.Reset()
			if applyErr := r.applyChainState(ctx, record.Id, state); errors.Is(applyErr, transfer.ErrStaleTimepoint) {
				// fatal for this transaction; the record is flagged and
				// retrying the same observation cannot help
				log.Error().Err(applyErr).Uint64("transactionId", record.Id).Msg("Conflicting multisig timepoint, polling stopped")
				return
			}
		default:
			retry.Reset()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (r *Reconciler) applyChainState(ctx context.Context, transactionId uint64, state *chain.MultisigState) error {
	observedAt := time.Now()
	evidence := make([]transfer.Evidence, 0, len(state.Approvals))
	for _, key := range state.Approvals {
		evidence = append(evidence, transfer.Evidence{
			SignatoryKey: key,
			Source:       transfer.SourceOnChain,
			ObservedAt:   observedAt,
		})
	}

	timepoint := state.When
	err := r.Sink.ApplyEvidence(ctx, transactionId, evidence, &timepoint)
	if err != nil && !errors.Is(err, transfer.ErrStaleTimepoint) {
		log.Warn().Err(err).Uint64("transactionId", transactionId).Msg("Cannot apply chain approval evidence")
	}
	return err
}

// consumeChainEvents dispatches the multisig event stream. The subscription
// is re-established with backoff whenever it drops.
func (r *Reconciler) consumeChainEvents(ctx context.Context) {
	retry := &backoff.Backoff{
		Min:    time.Second,
		Max:    time.Minute,
		Factor: 2,
		Jitter: true,
	}

	for {
		events, err := r.Chain.SubscribeEvents(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(retry.Duration()):
				continue
			}
		}
		retry.Reset()

		for event := range events {
			r.handleChainEvent(ctx, event)
		}

		select {
		case <-ctx.Done():
			return
		default:
			log.Info().Msg("Chain event subscription dropped, resubscribing")
		}
	}
}

// correlateChainEvent matches an event to a local open transaction. Events
// that name the multisig account are matched on it too; the call hash alone
// can collide across wallets with identical payloads.
func (r *Reconciler) correlateChainEvent(event chain.Event) (*model.Transaction, bool) {
	accountId, err := hex.DecodeString(strings.TrimPrefix(event.AccountId, "0x"))
	if err == nil && len(accountId) == 32 {
		return r.Source.FindOpenByAccount(r.ChainId, event.CallHash, accountId)
	}
	return r.Source.FindOpen(r.ChainId, event.CallHash)
}

func (r *Reconciler) handleChainEvent(ctx context.Context, event chain.Event) {
	record, open := r.correlateChainEvent(event)
	if !open {
		return
	}

	switch event.Kind {
	case chain.EventNewMultisig, chain.EventApproval:
		evidence := []transfer.Evidence{{
			SignatoryKey: event.ApprovingKey,
			Source:       transfer.SourceOnChain,
			ObservedAt:   time.Now(),
		}}
		// a NewMultisig event carries no timepoint of its own; the poll task
		// anchors it from storage instead
		var timepoint *chain.Timepoint
		if event.Kind == chain.EventApproval {
			observed := event.Timepoint
			timepoint = &observed
		}
		if err := r.Sink.ApplyEvidence(ctx, record.Id, evidence, timepoint); err != nil {
			if errors.Is(err, transfer.ErrStaleTimepoint) {
				r.stopTask(record.Id)
				return
			}
			log.Warn().Err(err).Uint64("transactionId", record.Id).Msg("Cannot apply chain event evidence")
		}
	case chain.EventExecuted:
		if err := r.Sink.ConfirmExecuted(ctx, record.Id, event.Timepoint); err != nil {
			log.Warn().Err(err).Uint64("transactionId", record.Id).Msg("Cannot confirm executed multisig")
			return
		}
		r.stopTask(record.Id)
	case chain.EventCancelled:
		if err := r.Sink.MarkCancelled(ctx, record.Id); err != nil {
			log.Warn().Err(err).Uint64("transactionId", record.Id).Msg("Cannot cancel multisig transaction")
			return
		}
		r.stopTask(record.Id)
	}
}

// subscribeMessaging funnels room events through the same merge entry point
// as chain polling. Room events alone never confirm execution; an executed
// room event only merges approval evidence and leaves finality to the chain.
func (r *Reconciler) subscribeMessaging(ctx context.Context) {
	if r.Messaging == nil {
		return
	}

	for _, eventType := range []string{messaging.EventMstInit, messaging.EventMstApprove, messaging.EventMstExecuted} {
		r.Messaging.Subscribe(eventType, func(handlerCtx context.Context, envelope messaging.Envelope) {
			r.handleRoomApproval(handlerCtx, envelope)
		})
	}
	r.Messaging.Subscribe(messaging.EventMstCancel, func(handlerCtx context.Context, envelope messaging.Envelope) {
		r.handleRoomCancel(handlerCtx, envelope)
	})
}

// corroborate matches a room event against a local open transaction. Room
// payloads are never trusted on their own; callHash and salt must both match.
func (r *Reconciler) corroborate(envelope messaging.Envelope) (*model.Transaction, *messaging.MstEvent, bool) {
	var event messaging.MstEvent
	if err := json.Unmarshal(envelope.Payload, &event); err != nil {
		log.Warn().Err(err).Msg("Cannot parse room event payload")
		return nil, nil, false
	}

	record, open := r.Source.FindOpen(event.ChainId, event.CallHash)
	if !open {
		return nil, nil, false
	}
	if event.Salt != record.Salt {
		log.Debug().Uint64("transactionId", record.Id).Msg("Room event salt mismatch, ignoring")
		return nil, nil, false
	}
	return record, &event, true
}

func (r *Reconciler) handleRoomApproval(ctx context.Context, envelope messaging.Envelope) {
	record, event, ok := r.corroborate(envelope)
	if !ok {
		return
	}

	evidence := []transfer.Evidence{{
		SignatoryKey: envelope.SenderKey,
		Source:       transfer.SourceMessaging,
		ObservedAt:   time.Now(),
	}}

	var timepoint *chain.Timepoint
	if event.BlockHeight != nil && event.ExtrinsicIndex != nil {
		timepoint = &chain.Timepoint{Height: *event.BlockHeight, Index: *event.ExtrinsicIndex}
	}

	if err := r.Sink.ApplyEvidence(ctx, record.Id, evidence, timepoint); err != nil {
		if errors.Is(err, transfer.ErrStaleTimepoint) {
			r.stopTask(record.Id)
			return
		}
		log.Warn().Err(err).Uint64("transactionId", record.Id).Msg("Cannot apply room approval evidence")
	}
}

func (r *Reconciler) handleRoomCancel(ctx context.Context, envelope messaging.Envelope) {
	record, _, ok := r.corroborate(envelope)
	if !ok {
		return
	}

	if err := r.Sink.MarkCancelled(ctx, record.Id); err != nil {
		log.Warn().Err(err).Uint64("transactionId", record.Id).Msg("Cannot cancel transaction from room event")
		return
	}
	r.stopTask(record.Id)
}
