package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"math/big"
	"strings"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/asmadek/omni-mst-backend/internal/pkg/codec"
)

// knownCalls are the dispatchables this service can name. Anything else is
// surfaced as a raw call with an unknown shape.
var knownCalls = []struct{ section, method string }{
	{"balances", "transfer"},
	{"balances", "transfer_keep_alive"},
	{"balances", "transfer_allow_death"},
	{"assets", "transfer"},
	{"currencies", "transfer"},
	{"multisig", "as_multi"},
	{"multisig", "approve_as_multi"},
	{"multisig", "cancel_as_multi"},
}

// SubstrateConnection implements Connection against a Substrate node RPC.
type SubstrateConnection struct {
	api        *gsrpc.SubstrateAPI
	registry   *codec.Registry
	ss58Prefix uint16
}

func Connect(url string, ss58Prefix uint16) (*SubstrateConnection, error) {
	api, err := gsrpc.NewSubstrateAPI(url)
	if err != nil {
		return nil, errors.Wrap(ErrConnectionUnavailable, err.Error())
	}

	meta, err := api.RPC.State.GetMetadataLatest()
	if err != nil {
		return nil, errors.Wrap(ErrConnectionUnavailable, err.Error())
	}

	registry := codec.NewRegistry()
	for _, call := range knownCalls {
		// metadata lookups use "Pallet.call" naming
		index, err := meta.FindCallIndex(titleCase(call.section) + "." + call.method)
		if err != nil {
			// the connected runtime simply does not include this pallet
			continue
		}
		registry.Register(
			codec.CallIndex{index.SectionIndex, index.MethodIndex},
			call.section, call.method,
		)
	}

	return &SubstrateConnection{
		api:        api,
		registry:   registry,
		ss58Prefix: ss58Prefix,
	}, nil
}

// Calls exposes the dispatch registry built from runtime metadata.
func (c *SubstrateConnection) Calls() *codec.Registry {
	return c.registry
}

func (c *SubstrateConnection) SS58Prefix() uint16 {
	return c.ss58Prefix
}

func (c *SubstrateConnection) SubmitExtrinsic(ctx context.Context, extrinsic []byte) (string, error) {
	var ext types.Extrinsic
	if err := scale.NewDecoder(bytes.NewReader(extrinsic)).Decode(&ext); err != nil {
		return "", errors.Wrap(err, "malformed extrinsic blob")
	}

	hash, err := c.api.RPC.Author.SubmitExtrinsic(ext)
	if err != nil {
		return "", errors.Wrap(ErrConnectionUnavailable, err.Error())
	}
	return hash.Hex(), nil
}

// multisigRecord mirrors pallet_multisig's Multisigs storage value.
type multisigRecord struct {
	When      types.TimePoint
	Deposit   types.U128
	Depositor types.AccountID
	Approvals []types.AccountID
}

func (c *SubstrateConnection) QueryMultisigState(ctx context.Context, accountId []byte, callHash []byte) (*MultisigState, bool, error) {
	meta, err := c.api.RPC.State.GetMetadataLatest()
	if err != nil {
		return nil, false, errors.Wrap(ErrConnectionUnavailable, err.Error())
	}

	key, err := types.CreateStorageKey(meta, "Multisig", "Multisigs", accountId, callHash)
	if err != nil {
		return nil, false, errors.Wrap(err, "building multisig storage key")
	}

	var record multisigRecord
	ok, err := c.api.RPC.State.GetStorageLatest(key, &record)
	if err != nil {
		return nil, false, errors.Wrap(ErrConnectionUnavailable, err.Error())
	}
	if !ok {
		return nil, false, nil
	}

	state := &MultisigState{
		When: Timepoint{
			Height: uint32(record.When.Height),
			Index:  uint32(record.When.Index),
		},
		Depositor: accountHex(record.Depositor),
	}
	for _, approval := range record.Approvals {
		state.Approvals = append(state.Approvals, accountHex(approval))
	}
	return state, true, nil
}

func (c *SubstrateConnection) MultisigConstants(ctx context.Context) (MultisigConstants, error) {
	// re-read metadata on every call; constants change across runtime upgrades
	meta, err := c.api.RPC.State.GetMetadataLatest()
	if err != nil {
		return MultisigConstants{}, errors.Wrap(ErrConnectionUnavailable, err.Error())
	}

	base, err := constantU128(meta, "Multisig", "DepositBase")
	if err != nil {
		return MultisigConstants{}, err
	}
	factor, err := constantU128(meta, "Multisig", "DepositFactor")
	if err != nil {
		return MultisigConstants{}, err
	}

	return MultisigConstants{DepositBase: base, DepositFactor: factor}, nil
}

type runtimeDispatchInfo struct {
	Weight     any    `json:"weight"`
	Class      string `json:"class"`
	PartialFee string `json:"partialFee"`
}

func (c *SubstrateConnection) SimulateFee(ctx context.Context, extrinsic []byte, signerAddress string) (*big.Int, error) {
	var info runtimeDispatchInfo
	err := c.api.Client.Call(&info, "payment_queryInfo", "0x"+hex.EncodeToString(extrinsic))
	if err != nil {
		return nil, errors.Wrap(ErrConnectionUnavailable, err.Error())
	}

	fee, ok := parseNumeric(info.PartialFee)
	if !ok {
		return nil, errors.Errorf("unparseable partialFee %q", info.PartialFee)
	}
	return fee, nil
}

func (c *SubstrateConnection) SubscribeEvents(ctx context.Context) (<-chan Event, error) {
	meta, err := c.api.RPC.State.GetMetadataLatest()
	if err != nil {
		return nil, errors.Wrap(ErrConnectionUnavailable, err.Error())
	}

	key, err := types.CreateStorageKey(meta, "System", "Events")
	if err != nil {
		return nil, errors.Wrap(err, "building events storage key")
	}

	sub, err := c.api.RPC.State.SubscribeStorageRaw([]types.StorageKey{key})
	if err != nil {
		return nil, errors.Wrap(ErrConnectionUnavailable, err.Error())
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case set, open := <-sub.Chan():
				if !open {
					return
				}
				for _, change := range set.Changes {
					if !change.HasStorageData {
						continue
					}
					c.emitMultisigEvents(ctx, meta, change.StorageData, out)
				}
			}
		}
	}()
	return out, nil
}

func (c *SubstrateConnection) emitMultisigEvents(ctx context.Context, meta *types.Metadata, data types.StorageDataRaw, out chan<- Event) {
	var records types.EventRecords
	if err := types.EventRecordsRaw(data).DecodeEventRecords(meta, &records); err != nil {
		// runtimes with custom events are expected to fail here occasionally
		log.Debug().Err(err).Msg("Skipping undecodable event batch")
		return
	}

	emit := func(ev Event) {
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}

	for _, e := range records.Multisig_NewMultisig {
		emit(Event{
			Kind:         EventNewMultisig,
			AccountId:    accountHex(e.ID),
			ApprovingKey: accountHex(e.Who),
			CallHash:     hashHex(e.CallHash),
		})
	}
	for _, e := range records.Multisig_MultisigApproval {
		emit(Event{
			Kind:         EventApproval,
			AccountId:    accountHex(e.ID),
			ApprovingKey: accountHex(e.Who),
			CallHash:     hashHex(e.CallHash),
			Timepoint: Timepoint{
				Height: uint32(e.TimePoint.Height),
				Index:  uint32(e.TimePoint.Index),
			},
		})
	}
	for _, e := range records.Multisig_MultisigExecuted {
		emit(Event{
			Kind:         EventExecuted,
			AccountId:    accountHex(e.ID),
			ApprovingKey: accountHex(e.Who),
			CallHash:     hashHex(e.CallHash),
			Timepoint: Timepoint{
				Height: uint32(e.TimePoint.Height),
				Index:  uint32(e.TimePoint.Index),
			},
		})
	}
	for _, e := range records.Multisig_MultisigCancelled {
		emit(Event{
			Kind:         EventCancelled,
			AccountId:    accountHex(e.ID),
			ApprovingKey: accountHex(e.Who),
			CallHash:     hashHex(e.CallHash),
			Timepoint: Timepoint{
				Height: uint32(e.TimePoint.Height),
				Index:  uint32(e.TimePoint.Index),
			},
		})
	}
}

func constantU128(meta *types.Metadata, module, name string) (*big.Int, error) {
	data, err := meta.FindConstantValue(module, name)
	if err != nil {
		return nil, errors.Wrapf(err, "constant %s.%s", module, name)
	}
	var value types.U128
	if err := scale.NewDecoder(bytes.NewReader(data)).Decode(&value); err != nil {
		return nil, errors.Wrapf(err, "decoding constant %s.%s", module, name)
	}
	return value.Int, nil
}

func parseNumeric(value string) (*big.Int, bool) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "0x") {
		return new(big.Int).SetString(value[2:], 16)
	}
	return new(big.Int).SetString(value, 10)
}

func accountHex(id types.AccountID) string {
	return "0x" + hex.EncodeToString(id.ToBytes())
}

func hashHex(h types.Hash) string {
	return h.Hex()
}

func titleCase(section string) string {
	if section == "" {
		return section
	}
	return strings.ToUpper(section[:1]) + section[1:]
}
