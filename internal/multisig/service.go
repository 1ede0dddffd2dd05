package multisig

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/asmadek/omni-mst-backend/internal/pkg/chain"
	"github.com/asmadek/omni-mst-backend/internal/pkg/messaging"
	"github.com/asmadek/omni-mst-backend/internal/pkg/model"
	"github.com/asmadek/omni-mst-backend/internal/pkg/reject"
)

const (
	mstAccountExists = "error.wallet.mst-account-exists"
	invalidMstSpec   = "error.wallet.invalid-multisig-spec"
	roomAlreadyBound = "error.wallet.room-already-bound"
	databaseError    = "error.data.access"
)

// WalletService owns multisig wallet records. Wallets are immutable after
// creation except for the coordination room id, which may be bound once.
type WalletService struct {
	Db         *gorm.DB
	Messaging  messaging.Client
	SS58Prefix uint16
}

func (s *WalletService) CreateWallet(ctx context.Context, request CreateWalletRequest) (*model.Wallet, *reject.ProblemWithTrace) {
	return s.createWallet(ctx, request, true)
}

func (s *WalletService) createWallet(ctx context.Context, request CreateWalletRequest, openRoom bool) (*model.Wallet, *reject.ProblemWithTrace) {
	keys := make([][]byte, 0, len(request.Signatories))
	for _, signatory := range request.Signatories {
		key, err := decodeKey(signatory.PublicKey)
		if err != nil {
			return nil, invalidSpecProblem(err)
		}
		keys = append(keys, key)
	}

	address, err := DeriveAddress(keys, request.Threshold, s.SS58Prefix)
	if err != nil {
		return nil, invalidSpecProblem(err)
	}

	var existing int64
	s.Db.Model(&model.Wallet{}).Where("address = ?", address).Count(&existing)
	if existing > 0 {
		return nil, &reject.ProblemWithTrace{
			Problem: reject.NewProblem().
				WithTitle("MST account already exists").
				WithStatus(http.StatusConflict).
				WithCode(mstAccountExists).
				Build(),
			Cause: fmt.Errorf("wallet with address %s already exists", address),
		}
	}

	wallet := &model.Wallet{
		Name:       strings.TrimSpace(request.Name),
		IsMultisig: true,
		Address:    address,
		Threshold:  request.Threshold,
		ChainId:    request.ChainId,
	}

	err = s.Db.Transaction(func(tx *gorm.DB) error {
		if result := tx.Create(wallet); result.Error != nil {
			return result.Error
		}

		for i, signatory := range request.Signatories {
			accountId, encodeErr := chain.EncodeSS58(s.SS58Prefix, keys[i])
			if encodeErr != nil {
				return encodeErr
			}
			row := model.Signatory{
				WalletId:    wallet.Id,
				AccountId:   accountId,
				PublicKey:   normalizeKey(signatory.PublicKey),
				DisplayName: signatory.DisplayName,
				MessagingId: signatory.MessagingId,
			}
			if result := tx.Create(&row); result.Error != nil {
				return result.Error
			}
			wallet.Signatories = append(wallet.Signatories, row)
		}
		return nil
	})
	if err != nil {
		return nil, &reject.ProblemWithTrace{Problem: reject.UnexpectedProblem(err), Cause: err}
	}

	if openRoom {
		s.createCoordinationRoom(ctx, wallet, request)
	}

	return wallet, nil
}

// createCoordinationRoom is best effort: a wallet without a room is still
// usable and the room can be bound later from an incoming invite.
func (s *WalletService) createCoordinationRoom(ctx context.Context, wallet *model.Wallet, request CreateWalletRequest) {
	if s.Messaging == nil {
		return
	}

	invitees := make([]string, 0, len(wallet.Signatories))
	for _, signatory := range wallet.Signatories {
		invitees = append(invitees, signatory.MessagingId)
	}

	roomId, err := s.Messaging.CreateRoom(ctx, invitees)
	if err != nil {
		log.Warn().Err(err).Msg("Cannot create coordination room, wallet left unbound")
		return
	}

	invite := roomInviteFor(wallet)
	if err := s.Messaging.Send(ctx, roomId, messaging.EventRoomInvite, invite.InviterPublicKey, invite); err != nil {
		log.Warn().Err(err).Msg("Cannot send room invite")
		return
	}

	result := s.Db.Model(&model.Wallet{}).
		Where("id = ? AND room_id IS NULL", wallet.Id).
		Update("room_id", roomId)
	if result.Error != nil {
		log.Warn().Err(result.Error).Msg("Cannot bind coordination room to wallet")
		return
	}
	wallet.RoomId = &roomId
}

// roomInviteFor builds the invite payload for a wallet's coordination room.
// The receiving side re-derives the address from the signatory set, so the
// chain id and signatories must describe the wallet completely.
func roomInviteFor(wallet *model.Wallet) messaging.RoomInvite {
	signatoryAddresses := make([]string, 0, len(wallet.Signatories))
	for _, signatory := range wallet.Signatories {
		signatoryAddresses = append(signatoryAddresses, signatory.AccountId)
	}

	invite := messaging.RoomInvite{
		MstAccount: messaging.MstAccount{
			AccountName: wallet.Name,
			ChainId:     wallet.ChainId,
			Address:     wallet.Address,
			Signatories: signatoryAddresses,
			Threshold:   wallet.Threshold,
		},
	}
	if len(wallet.Signatories) > 0 {
		invite.InviterPublicKey = wallet.Signatories[0].PublicKey
	}
	return invite
}

// CreateFromInvite builds a local wallet from a room invite payload. The
// address is re-derived from the invited signatory set rather than trusted
// from the payload.
func (s *WalletService) CreateFromInvite(ctx context.Context, name string, roomId string, chainId string, threshold uint16, signatoryAddresses []string) (*model.Wallet, *reject.ProblemWithTrace) {
	signatories := make([]CreateWalletSignatory, 0, len(signatoryAddresses))
	for _, address := range signatoryAddresses {
		key, err := chain.DecodeSS58(address)
		if err != nil {
			return nil, invalidSpecProblem(err)
		}
		signatories = append(signatories, CreateWalletSignatory{
			PublicKey: "0x" + hex.EncodeToString(key),
		})
	}

	// the inviter's room is joined, never replaced with a fresh one
	wallet, problem := s.createWallet(ctx, CreateWalletRequest{
		Name:        name,
		Threshold:   threshold,
		ChainId:     chainId,
		Signatories: signatories,
	}, false)
	if problem != nil {
		return nil, problem
	}

	if problem := s.AttachRoom(wallet.Id, roomId); problem != nil {
		return nil, problem
	}
	wallet.RoomId = &roomId
	return wallet, nil
}

// AttachRoom binds a coordination room to a wallet exactly once.
func (s *WalletService) AttachRoom(walletId uint64, roomId string) *reject.ProblemWithTrace {
	result := s.Db.Model(&model.Wallet{}).
		Where("id = ? AND room_id IS NULL", walletId).
		Update("room_id", roomId)

	if result.Error != nil {
		return &reject.ProblemWithTrace{Problem: reject.UnexpectedProblem(result.Error), Cause: result.Error}
	}
	if result.RowsAffected == 0 {
		err := fmt.Errorf("wallet %d missing or room already bound", walletId)
		return &reject.ProblemWithTrace{
			Problem: reject.NewProblem().
				WithTitle("Coordination room already bound").
				WithStatus(http.StatusConflict).
				WithCode(roomAlreadyBound).
				Build(),
			Cause: err,
		}
	}
	return nil
}

func (s *WalletService) ListWallets() ([]model.Wallet, *reject.ProblemWithTrace) {
	var wallets []model.Wallet
	result := s.Db.Model(&model.Wallet{}).Preload("Signatories").Find(&wallets)
	if result.Error != nil {
		return nil, &reject.ProblemWithTrace{
			Problem: reject.NewProblem().
				WithTitle("Trouble fetching data from database").
				WithStatus(http.StatusInternalServerError).
				WithCode(databaseError).
				Build(),
			Cause: result.Error,
		}
	}
	return wallets, nil
}

func (s *WalletService) FindById(walletId uint64) (*model.Wallet, *reject.ProblemWithTrace) {
	var wallet model.Wallet
	result := s.Db.Preload("Signatories").Where("id = ?", walletId).First(&wallet)
	if result.Error != nil {
		return nil, &reject.ProblemWithTrace{Problem: reject.NotFoundProblem(), Cause: result.Error}
	}
	return &wallet, nil
}

func (s *WalletService) FindByAddress(address string) (*model.Wallet, *reject.ProblemWithTrace) {
	var wallet model.Wallet
	result := s.Db.Preload("Signatories").Where("address = ?", address).First(&wallet)
	if result.Error != nil {
		return nil, &reject.ProblemWithTrace{Problem: reject.NotFoundProblem(), Cause: result.Error}
	}
	return &wallet, nil
}

func (s *WalletService) ForgetWallet(walletId uint64) *reject.ProblemWithTrace {
	err := s.Db.Transaction(func(tx *gorm.DB) error {
		if result := tx.Where("wallet_id = ?", walletId).Delete(&model.Signatory{}); result.Error != nil {
			return result.Error
		}
		if result := tx.Delete(&model.Wallet{}, walletId); result.Error != nil {
			return result.Error
		}
		return nil
	})
	if err != nil {
		return &reject.ProblemWithTrace{Problem: reject.UnexpectedProblem(err), Cause: err}
	}
	return nil
}

func invalidSpecProblem(err error) *reject.ProblemWithTrace {
	return &reject.ProblemWithTrace{
		Problem: reject.NewProblem().
			WithTitle("Invalid multisig account spec").
			WithStatus(http.StatusBadRequest).
			WithCode(invalidMstSpec).
			WithDetail(err.Error()).
			Build(),
		Cause: err,
	}
}

func decodeKey(value string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
}

func normalizeKey(value string) string {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	return "0x" + strings.ToLower(trimmed)
}
