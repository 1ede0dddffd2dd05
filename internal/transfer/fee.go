package transfer

import (
	"context"
	"math/big"

	"github.com/rs/zerolog/log"

	"github.com/asmadek/omni-mst-backend/internal/pkg/chain"
)

// FeeView is the advisory cost breakdown shown before broadcasting. Amounts
// are decimal strings in the chain's base asset precision.
type FeeView struct {
	EstimatedFee string `json:"estimatedFee"`
	Deposit      string `json:"deposit"`
}

// DepositFor computes the multisig reservation for a threshold from live
// chain constants. Always recomputed on read; constants can change across
// runtime upgrades so caching the result would go stale.
func DepositFor(constants chain.MultisigConstants, threshold uint16) *big.Int {
	deposit := new(big.Int).Mul(constants.DepositFactor, big.NewInt(int64(threshold)))
	return deposit.Add(deposit, constants.DepositBase)
}

// BuildFeeView simulates the fee for resolved call bytes and combines it with
// the deposit. Fee is advisory only; any failure yields a zero view instead
// of blocking the caller.
func BuildFeeView(ctx context.Context, conn chain.Connection, callData []byte, signerAddress string, threshold uint16) FeeView {
	view := FeeView{EstimatedFee: "0", Deposit: "0"}

	constants, err := conn.MultisigConstants(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Cannot fetch multisig constants for fee view")
		return view
	}
	view.Deposit = DepositFor(constants, threshold).String()

	if len(callData) == 0 {
		return view
	}

	fee, err := conn.SimulateFee(ctx, callData, signerAddress)
	if err != nil {
		log.Debug().Err(err).Msg("Fee simulation unavailable")
		return view
	}
	view.EstimatedFee = fee.String()
	return view
}
