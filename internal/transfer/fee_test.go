package transfer

import (
	"context"
	"math/big"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/asmadek/omni-mst-backend/internal/pkg/chain"
)

type stubConnection struct {
	constants    chain.MultisigConstants
	constantsErr error
	fee          *big.Int
	feeErr       error
}

func (c *stubConnection) SubmitExtrinsic(ctx context.Context, extrinsic []byte) (string, error) {
	return "", errors.New("not implemented")
}

func (c *stubConnection) QueryMultisigState(ctx context.Context, accountId []byte, callHash []byte) (*chain.MultisigState, bool, error) {
	return nil, false, nil
}

func (c *stubConnection) MultisigConstants(ctx context.Context) (chain.MultisigConstants, error) {
	return c.constants, c.constantsErr
}

func (c *stubConnection) SimulateFee(ctx context.Context, extrinsic []byte, signerAddress string) (*big.Int, error) {
	return c.fee, c.feeErr
}

func (c *stubConnection) SubscribeEvents(ctx context.Context) (<-chan chain.Event, error) {
	return nil, errors.New("not implemented")
}

func TestDepositForThresholdThree(t *testing.T) {
	constants := chain.MultisigConstants{
		DepositBase:   big.NewInt(1000),
		DepositFactor: big.NewInt(100),
	}

	deposit := DepositFor(constants, 3)
	assert.Equal(t, "1300", deposit.String())

	// recomputed, not cached
	assert.Equal(t, "1300", DepositFor(constants, 3).String())
}

func TestBuildFeeView(t *testing.T) {
	conn := &stubConnection{
		constants: chain.MultisigConstants{
			DepositBase:   big.NewInt(1000),
			DepositFactor: big.NewInt(100),
		},
		fee: big.NewInt(420),
	}

	view := BuildFeeView(context.Background(), conn, []byte{0x04, 0x03}, "addr", 3)
	assert.Equal(t, "420", view.EstimatedFee)
	assert.Equal(t, "1300", view.Deposit)
}

func TestBuildFeeViewWithoutCallBytes(t *testing.T) {
	conn := &stubConnection{
		constants: chain.MultisigConstants{
			DepositBase:   big.NewInt(1000),
			DepositFactor: big.NewInt(100),
		},
	}

	view := BuildFeeView(context.Background(), conn, nil, "addr", 2)
	assert.Equal(t, "0", view.EstimatedFee)
	assert.Equal(t, "1200", view.Deposit)
}

func TestBuildFeeViewIsAdvisoryOnFailure(t *testing.T) {
	down := &stubConnection{constantsErr: chain.ErrConnectionUnavailable}

	view := BuildFeeView(context.Background(), down, []byte{0x04}, "addr", 3)
	assert.Equal(t, "0", view.EstimatedFee)
	assert.Equal(t, "0", view.Deposit)

	simulateDown := &stubConnection{
		constants: chain.MultisigConstants{
			DepositBase:   big.NewInt(1000),
			DepositFactor: big.NewInt(100),
		},
		feeErr: chain.ErrConnectionUnavailable,
	}
	view = BuildFeeView(context.Background(), simulateDown, []byte{0x04}, "addr", 3)
	assert.Equal(t, "0", view.EstimatedFee)
	assert.Equal(t, "1300", view.Deposit)
}
