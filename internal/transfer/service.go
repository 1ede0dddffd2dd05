package transfer

import (
	"bytes"
	"context"
	"encoding/hex"
	"math/big"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/asmadek/omni-mst-backend/internal/multisig"
	"github.com/asmadek/omni-mst-backend/internal/pkg/chain"
	"github.com/asmadek/omni-mst-backend/internal/pkg/codec"
	"github.com/asmadek/omni-mst-backend/internal/pkg/messaging"
	"github.com/asmadek/omni-mst-backend/internal/pkg/model"
	"github.com/asmadek/omni-mst-backend/internal/pkg/reject"
	"github.com/asmadek/omni-mst-backend/internal/pkg/utils"
	"github.com/asmadek/omni-mst-backend/internal/pkg/ws"
)

const (
	transferInvalidAmount   = "error.transfer.invalid-amount"
	transferInvalidCallData = "error.transfer.invalid-call-data"
	transferHashMismatch    = "error.transfer.call-hash-mismatch"
	transferTerminal        = "error.transfer.already-terminal"
	transferBroadcastFailed = "error.transfer.broadcast-failed"
)

const casRetries = 3

var errVersionConflict = errors.New("transaction version conflict")

// Service owns the transaction lifecycle. All mutation of one transaction is
// serialized through a per-id lock plus an optimistic version check against
// the store, so evidence from racing channels can never lose an update.
type Service struct {
	Db        *gorm.DB
	Chain     chain.Connection
	Calls     codec.Metadata
	Messaging messaging.Client
	Hub       *ws.WebSocketNotificationHub
	Wallets   *multisig.WalletService

	locker *txLocker
}

func NewService(db *gorm.DB, conn chain.Connection, calls codec.Metadata, msg messaging.Client, hub *ws.WebSocketNotificationHub, wallets *multisig.WalletService) *Service {
	return &Service{
		Db:        db,
		Chain:     conn,
		Calls:     calls,
		Messaging: msg,
		Hub:       hub,
		Wallets:   wallets,
		locker:    newTxLocker(),
	}
}

func (s *Service) CreateTransfer(ctx context.Context, request CreateTransferRequest) (*model.Transaction, *reject.ProblemWithTrace) {
	wallet, problem := s.Wallets.FindById(request.WalletId)
	if problem != nil {
		return nil, problem
	}

	amount, ok := new(big.Int).SetString(strings.TrimSpace(request.Amount), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, badRequestProblem(transferInvalidAmount, "amount must be a positive decimal integer", nil)
	}

	recipient, err := chain.DecodeSS58(request.RecipientAddress)
	if err != nil {
		return nil, badRequestProblem(transferInvalidCallData, "cannot decode recipient address", err)
	}

	semantic := &codec.SemanticTransfer{
		Kind:      codec.PlainTransfer,
		Section:   "balances",
		Method:    "transfer_keep_alive",
		Recipient: recipient,
		Amount:    amount,
	}
	if request.AssetId != "" {
		semantic.Kind = codec.AssetTransfer
		semantic.Section = "assets"
		semantic.Method = "transfer"
		semantic.AssetId = request.AssetId
	}

	callBytes, callHash, err := codec.Encode(semantic, s.Calls)
	if err != nil {
		return nil, badRequestProblem(transferInvalidCallData, "cannot encode transfer call", err)
	}

	callData := "0x" + hex.EncodeToString(callBytes)
	kind := model.MultisigTransfer
	if !wallet.IsMultisig {
		kind = model.SimpleTransfer
	}

	record := &model.Transaction{
		ChainId:          wallet.ChainId,
		Address:          wallet.Address,
		WalletId:         wallet.Id,
		Type:             kind,
		Status:           model.TransactionCreated,
		RecipientAddress: request.RecipientAddress,
		AssetId:          request.AssetId,
		Amount:           amount.String(),
		CallHash:         "0x" + hex.EncodeToString(callHash[:]),
		CallData:         &callData,
		Salt:             uuid.New().String(),
	}

	if result := s.Db.Create(record); result.Error != nil {
		return nil, &reject.ProblemWithTrace{Problem: reject.UnexpectedProblem(result.Error), Cause: result.Error}
	}

	s.announceInit(ctx, wallet, record, request.Description)
	s.publishHint(record)

	return record, nil
}

// announceInit tells the coordination room a multisig operation was opened.
// Best effort; signatories also discover the operation from chain polling.
func (s *Service) announceInit(ctx context.Context, wallet *model.Wallet, record *model.Transaction, description string) {
	if s.Messaging == nil || wallet.RoomId == nil {
		return
	}

	senderKey := ""
	if len(wallet.Signatories) > 0 {
		senderKey = wallet.Signatories[0].PublicKey
	}
	event := messaging.MstEvent{
		ChainId:     record.ChainId,
		CallHash:    record.CallHash,
		CallData:    derefOrEmpty(record.CallData),
		Salt:        record.Salt,
		Description: description,
	}
	if err := s.Messaging.Send(ctx, *wallet.RoomId, messaging.EventMstInit, senderKey, event); err != nil {
		log.Warn().Err(err).Msg("Cannot announce multisig operation to coordination room")
	}
}

func (s *Service) GetTransfer(ctx context.Context, transactionId uint64, signerAddress string) (*TransactionView, *reject.ProblemWithTrace) {
	var record model.Transaction
	if result := s.Db.Preload("Approvals").First(&record, transactionId); result.Error != nil {
		return nil, &reject.ProblemWithTrace{Problem: reject.NotFoundProblem(), Cause: result.Error}
	}

	wallet, problem := s.Wallets.FindById(record.WalletId)
	if problem != nil {
		return nil, problem
	}

	return s.buildView(ctx, &record, wallet, signerAddress), nil
}

func (s *Service) ListTransfers(page utils.PageRequest, walletId uint64) ([]model.Transaction, int64, *reject.ProblemWithTrace) {
	query := s.Db.Model(&model.Transaction{}).Preload("Approvals")
	if walletId != 0 {
		query = query.Where("wallet_id = ?", walletId)
	}

	var count int64
	if result := query.Count(&count); result.Error != nil {
		return nil, 0, &reject.ProblemWithTrace{Problem: reject.UnexpectedProblem(result.Error), Cause: result.Error}
	}

	var records []model.Transaction
	result := query.
		Order("created_at DESC").
		Offset(page.Offset).
		Limit(page.Size).
		Find(&records)
	if result.Error != nil {
		return nil, 0, &reject.ProblemWithTrace{Problem: reject.UnexpectedProblem(result.Error), Cause: result.Error}
	}

	return records, count, nil
}

// AttachCallData resolves the opaque call bytes for a transaction created
// from a bare hash. Bytes that do not hash to the recorded call hash flag the
// transaction inconsistent; it stays open but never auto-finalizes.
func (s *Service) AttachCallData(ctx context.Context, transactionId uint64, callDataHex string) (*model.Transaction, *reject.ProblemWithTrace) {
	callBytes, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(callDataHex), "0x"))
	if err != nil || len(callBytes) == 0 {
		return nil, badRequestProblem(transferInvalidCallData, "call data must be non-empty hex", err)
	}

	record, err := s.mutate(ctx, transactionId, func(tx *model.Transaction, ledger *Ledger, threshold uint16) (bool, error) {
		if tx.Status.Terminal() {
			return false, errors.New("transaction is terminal")
		}

		if codec.HashHex(callBytes) != strings.ToLower(tx.CallHash) {
			tx.Inconsistent = true
			tx.Status = NextStatus(tx, threshold, ledger.EffectiveCount())
			return true, ErrCallHashMismatch
		}

		resolved := "0x" + hex.EncodeToString(callBytes)
		if tx.CallData != nil && *tx.CallData == resolved {
			return false, nil
		}
		tx.CallData = &resolved
		tx.Inconsistent = false

		// a recognized transfer shape refreshes the denormalized fields
		if decoded, decodeErr := codec.Decode(callBytes, s.Calls); decodeErr == nil && decoded.Transfer != nil {
			if address, encodeErr := chain.EncodeSS58(s.Wallets.SS58Prefix, decoded.Transfer.Recipient); encodeErr == nil {
				tx.RecipientAddress = address
			}
			tx.AssetId = decoded.Transfer.AssetId
			tx.Amount = decoded.Transfer.Amount.String()
		}

		tx.Status = NextStatus(tx, threshold, ledger.EffectiveCount())
		return true, nil
	})

	if errors.Is(err, ErrCallHashMismatch) {
		return nil, &reject.ProblemWithTrace{
			Problem: reject.NewProblem().
				WithTitle("Call data does not match call hash").
				WithStatus(http.StatusConflict).
				WithCode(transferHashMismatch).
				Build(),
			Cause: err,
		}
	}
	if err != nil {
		return nil, &reject.ProblemWithTrace{Problem: reject.UnexpectedProblem(err), Cause: err}
	}
	return record, nil
}

// ApplyEvidence merges approval observations from either channel and
// advances the lifecycle. Evidence for a terminal transaction is discarded.
func (s *Service) ApplyEvidence(ctx context.Context, transactionId uint64, evidence []Evidence, timepoint *chain.Timepoint) error {
	_, err := s.mutate(ctx, transactionId, func(tx *model.Transaction, ledger *Ledger, threshold uint16) (bool, error) {
		return applyEvidenceStep(tx, ledger, threshold, evidence, timepoint)
	})
	return err
}

// applyEvidenceStep is one merge+transition evaluation. A conflicting
// timepoint is fatal for the transaction: the record is flagged inconsistent
// so it surfaces for manual removal instead of being retried forever.
func applyEvidenceStep(tx *model.Transaction, ledger *Ledger, threshold uint16, evidence []Evidence, timepoint *chain.Timepoint) (bool, error) {
	if tx.Status.Terminal() {
		return false, nil
	}

	changed := false
	if timepoint != nil {
		before := tx.HasTimepoint()
		if err := ApplyTimepoint(tx, *timepoint); err != nil {
			tx.Inconsistent = true
			return true, err
		}
		changed = changed || !before
	}

	for _, item := range evidence {
		if ledger.Merge(item) {
			changed = true
		}
	}

	next := NextStatus(tx, threshold, ledger.EffectiveCount())
	if next != tx.Status {
		tx.Status = next
		changed = true
	}
	return changed, nil
}

// ConfirmExecuted finalizes a transaction from a chain "executed" event.
// Messaging evidence never reaches this path.
func (s *Service) ConfirmExecuted(ctx context.Context, transactionId uint64, executedAt chain.Timepoint) error {
	_, err := s.mutate(ctx, transactionId, func(tx *model.Transaction, ledger *Ledger, threshold uint16) (bool, error) {
		if tx.Status.Terminal() {
			return false, nil
		}
		if err := ConfirmExecution(tx, executedAt); err != nil {
			return false, err
		}
		return true, nil
	})
	return err
}

// MarkCancelled closes a transaction on explicit removal or on a chain
// "cancelled" event.
func (s *Service) MarkCancelled(ctx context.Context, transactionId uint64) error {
	_, err := s.mutate(ctx, transactionId, func(tx *model.Transaction, ledger *Ledger, threshold uint16) (bool, error) {
		if tx.Status.Terminal() {
			return false, nil
		}
		Cancel(tx)
		return true, nil
	})
	return err
}

func (s *Service) RemoveTransfer(ctx context.Context, transactionId uint64) *reject.ProblemWithTrace {
	if err := s.MarkCancelled(ctx, transactionId); err != nil {
		return &reject.ProblemWithTrace{Problem: reject.UnexpectedProblem(err), Cause: err}
	}
	return nil
}

// Broadcast submits an externally-signed extrinsic for a transaction and
// lets the coordination room know an approval went out. Signing happens on
// an external device; this service never sees key material.
func (s *Service) Broadcast(ctx context.Context, transactionId uint64, signedExtrinsicHex string, senderKey string) (string, *reject.ProblemWithTrace) {
	extrinsic, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signedExtrinsicHex), "0x"))
	if err != nil || len(extrinsic) == 0 {
		return "", badRequestProblem(transferInvalidCallData, "signed extrinsic must be non-empty hex", err)
	}

	var record model.Transaction
	if result := s.Db.First(&record, transactionId); result.Error != nil {
		return "", &reject.ProblemWithTrace{Problem: reject.NotFoundProblem(), Cause: result.Error}
	}
	if record.Status.Terminal() {
		return "", &reject.ProblemWithTrace{
			Problem: reject.NewProblem().
				WithTitle("Transaction already finalized").
				WithStatus(http.StatusConflict).
				WithCode(transferTerminal).
				Build(),
			Cause: errors.New("transaction is terminal"),
		}
	}

	hash, err := s.Chain.SubmitExtrinsic(ctx, extrinsic)
	if err != nil {
		return "", &reject.ProblemWithTrace{
			Problem: reject.NewProblem().
				WithTitle("Cannot broadcast extrinsic").
				WithStatus(http.StatusBadGateway).
				WithCode(transferBroadcastFailed).
				Build(),
			Cause: err,
		}
	}

	s.announceApproval(ctx, &record, senderKey)
	return hash, nil
}

func (s *Service) announceApproval(ctx context.Context, record *model.Transaction, senderKey string) {
	if s.Messaging == nil {
		return
	}
	wallet, problem := s.Wallets.FindById(record.WalletId)
	if problem != nil || wallet.RoomId == nil {
		return
	}

	event := messaging.MstEvent{
		ChainId:        record.ChainId,
		CallHash:       record.CallHash,
		Salt:           record.Salt,
		BlockHeight:    record.BlockHeight,
		ExtrinsicIndex: record.ExtrinsicIndex,
	}
	if err := s.Messaging.Send(ctx, *wallet.RoomId, messaging.EventMstApprove, senderKey, event); err != nil {
		log.Warn().Err(err).Msg("Cannot announce approval to coordination room")
	}
}

// OpenTransactions lists everything the reconciler should be polling.
func (s *Service) OpenTransactions(ctx context.Context) ([]model.Transaction, error) {
	var records []model.Transaction
	result := s.Db.
		Where("status IN ?", []model.TransactionStatus{model.TransactionCreated, model.TransactionPendingExecution}).
		Find(&records)
	return records, result.Error
}

// FindOpen correlates an incoming event with a local open transaction by
// chain id and call hash.
func (s *Service) FindOpen(chainId string, callHash string) (*model.Transaction, bool) {
	var record model.Transaction
	result := s.Db.
		Where("chain_id = ? AND call_hash = ? AND status IN ?",
			chainId, strings.ToLower(callHash),
			[]model.TransactionStatus{model.TransactionCreated, model.TransactionPendingExecution}).
		First(&record)
	if result.Error != nil {
		return nil, false
	}
	return &record, true
}

// FindOpenByAccount additionally matches the multisig account, for chain
// events that carry one. Two wallets can open operations with identical call
// payloads, so the call hash alone does not identify the transaction.
func (s *Service) FindOpenByAccount(chainId string, callHash string, accountId []byte) (*model.Transaction, bool) {
	var records []model.Transaction
	result := s.Db.
		Where("chain_id = ? AND call_hash = ? AND status IN ?",
			chainId, strings.ToLower(callHash),
			[]model.TransactionStatus{model.TransactionCreated, model.TransactionPendingExecution}).
		Find(&records)
	if result.Error != nil {
		return nil, false
	}

	for i := range records {
		key, err := chain.DecodeSS58(records[i].Address)
		if err == nil && bytes.Equal(key, accountId) {
			return &records[i], true
		}
	}
	return nil, false
}

// mutate runs one serialized read-modify-write cycle for a transaction. The
// callback mutates the record and ledger in place and reports whether there
// is anything to persist; its error is surfaced after a successful write so
// flag-and-fail outcomes (hash mismatch) still land in the store.
func (s *Service) mutate(ctx context.Context, transactionId uint64, fn func(tx *model.Transaction, ledger *Ledger, threshold uint16) (bool, error)) (*model.Transaction, error) {
	unlock := s.locker.lock(transactionId)
	defer unlock()

	for attempt := 0; attempt < casRetries; attempt++ {
		var record model.Transaction
		if result := s.Db.Preload("Approvals").First(&record, transactionId); result.Error != nil {
			return nil, result.Error
		}

		var wallet model.Wallet
		if result := s.Db.First(&wallet, record.WalletId); result.Error != nil {
			return nil, errors.Wrapf(result.Error,
				"loading wallet %d for transaction %d", record.WalletId, record.Id)
		}
		threshold := wallet.Threshold

		ledger := LedgerFromApprovals(record.Approvals)

		changed, opErr := fn(&record, ledger, threshold)
		if !changed {
			return &record, opErr
		}

		record.Approvals = ledger.Approvals(record.Id)

		writeErr := s.Db.Transaction(func(dbtx *gorm.DB) error {
			result := dbtx.Model(&model.Transaction{}).
				Where("id = ? AND version = ?", record.Id, record.Version).
				Updates(map[string]any{
					"status":            record.Status,
					"call_data":         record.CallData,
					"recipient_address": record.RecipientAddress,
					"asset_id":          record.AssetId,
					"amount":            record.Amount,
					"block_height":      record.BlockHeight,
					"extrinsic_index":   record.ExtrinsicIndex,
					"inconsistent":      record.Inconsistent,
					"version":           record.Version + 1,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return errVersionConflict
			}

			if result := dbtx.Where("transaction_id = ?", record.Id).Delete(&model.Approval{}); result.Error != nil {
				return result.Error
			}
			for i := range record.Approvals {
				if result := dbtx.Create(&record.Approvals[i]); result.Error != nil {
					return result.Error
				}
			}
			return nil
		})
		if errors.Is(writeErr, errVersionConflict) {
			continue
		}
		if writeErr != nil {
			return nil, writeErr
		}

		record.Version++
		s.publishHint(&record)
		return &record, opErr
	}

	return nil, errVersionConflict
}

func (s *Service) buildView(ctx context.Context, record *model.Transaction, wallet *model.Wallet, signerAddress string) *TransactionView {
	if signerAddress == "" && len(wallet.Signatories) > 0 {
		signerAddress = wallet.Signatories[0].AccountId
	}

	var callBytes []byte
	if record.CallDataResolved() {
		callBytes, _ = hex.DecodeString(strings.TrimPrefix(*record.CallData, "0x"))
	}

	ledger := LedgerFromApprovals(record.Approvals)
	statuses := make([]SignatoryStatus, 0, len(wallet.Signatories))
	for _, signatory := range wallet.Signatories {
		entry, _ := ledger.Entry(signatory.PublicKey)
		statuses = append(statuses, SignatoryStatus{
			AccountId:             signatory.AccountId,
			PublicKey:             signatory.PublicKey,
			DisplayName:           signatory.DisplayName,
			Approved:              entry.Effective(),
			ConfirmedOnChain:      entry.ConfirmedOnChain,
			ConfirmedViaMessaging: entry.ConfirmedViaMessaging,
		})
	}

	return &TransactionView{
		Transaction: *record,
		Fee:         BuildFeeView(ctx, s.Chain, callBytes, signerAddress, wallet.Threshold),
		Signatories: statuses,
	}
}

func (s *Service) publishHint(record *model.Transaction) {
	if s.Hub == nil {
		return
	}
	s.Hub.Publish(ws.WalletTopic(record.WalletId), TransactionHint{
		TransactionId: record.Id,
		Status:        record.Status,
	})
}

func badRequestProblem(code string, detail string, cause error) *reject.ProblemWithTrace {
	if cause == nil {
		cause = errors.New(detail)
	}
	return &reject.ProblemWithTrace{
		Problem: reject.NewProblem().
			WithTitle("Invalid transfer request").
			WithStatus(http.StatusBadRequest).
			WithCode(code).
			WithDetail(detail).
			Build(),
		Cause: cause,
	}
}

func derefOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
