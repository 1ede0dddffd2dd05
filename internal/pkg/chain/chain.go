package chain

import (
	"context"
	"math/big"

	"github.com/pkg/errors"
)

// ErrConnectionUnavailable marks transient RPC failures. Callers retry on the
// next poll cycle; it is never escalated to a transaction-level failure.
var ErrConnectionUnavailable = errors.New("chain connection unavailable")

// Timepoint identifies when a multisig operation was first approved on chain.
// It is required to submit subsequent approvals for the same operation.
type Timepoint struct {
	Height uint32 `json:"height"`
	Index  uint32 `json:"index"`
}

func (t Timepoint) Equal(other Timepoint) bool {
	return t.Height == other.Height && t.Index == other.Index
}

// MultisigState is the chain's view of one open multisig operation.
type MultisigState struct {
	When      Timepoint
	Depositor string
	// Approvals holds hex-encoded public keys of signatories that already
	// approved on chain.
	Approvals []string
}

type MultisigConstants struct {
	DepositBase   *big.Int
	DepositFactor *big.Int
}

type EventKind string

const (
	EventNewMultisig EventKind = "NEW_MULTISIG"
	EventApproval    EventKind = "APPROVAL"
	EventExecuted    EventKind = "EXECUTED"
	EventCancelled   EventKind = "CANCELLED"
)

// Event is a multisig-related chain event. AccountId and ApprovingKey are
// hex-encoded public keys, CallHash is the hex-encoded call digest.
type Event struct {
	Kind         EventKind
	AccountId    string
	ApprovingKey string
	CallHash     string
	Timepoint    Timepoint
}

// Connection is the blockchain RPC collaborator. Implementations are assumed
// eventually consistent; state is polled rather than pushed except for the
// event subscription.
type Connection interface {
	// SubmitExtrinsic submits an already-signed extrinsic blob and returns
	// its hash. Signing happens out of process.
	SubmitExtrinsic(ctx context.Context, extrinsic []byte) (string, error)

	// QueryMultisigState reads the open multisig operation for the given
	// multisig account id and call hash. The boolean is false when no such
	// operation is currently on chain.
	QueryMultisigState(ctx context.Context, accountId []byte, callHash []byte) (*MultisigState, bool, error)

	// MultisigConstants reads depositBase/depositFactor. Constants may change
	// between runtime upgrades, so results must not be cached across reads.
	MultisigConstants(ctx context.Context) (MultisigConstants, error)

	// SimulateFee estimates the cost of dispatching the given extrinsic from
	// the signer's address.
	SimulateFee(ctx context.Context, extrinsic []byte, signerAddress string) (*big.Int, error)

	// SubscribeEvents streams multisig events. The channel is closed when ctx
	// is done or the subscription drops.
	SubscribeEvents(ctx context.Context) (<-chan Event, error)
}
