package multisig

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asmadek/omni-mst-backend/internal/pkg/messaging"
	"github.com/asmadek/omni-mst-backend/internal/pkg/model"
)

func inviteTestWallet() *model.Wallet {
	name := "ops"
	return &model.Wallet{
		Id:         1,
		Name:       "treasury",
		IsMultisig: true,
		Address:    "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY",
		Threshold:  2,
		ChainId:    "westend",
		Signatories: []model.Signatory{
			{
				WalletId:    1,
				AccountId:   "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY",
				PublicKey:   "0xd43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d",
				DisplayName: &name,
				MessagingId: "@alice:example.org",
			},
			{
				WalletId:    1,
				AccountId:   "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty",
				PublicKey:   "0x8eaf04151687736326c9fea17e25fc5287613693c912909cb226aa4794f26a48",
				MessagingId: "@bob:example.org",
			},
		},
	}
}

func TestRoomInviteDescribesWalletCompletely(t *testing.T) {
	wallet := inviteTestWallet()

	invite := roomInviteFor(wallet)

	assert.Equal(t, "treasury", invite.MstAccount.AccountName)
	assert.Equal(t, "westend", invite.MstAccount.ChainId)
	assert.Equal(t, wallet.Address, invite.MstAccount.Address)
	assert.Equal(t, uint16(2), invite.MstAccount.Threshold)
	assert.Equal(t,
		[]string{wallet.Signatories[0].AccountId, wallet.Signatories[1].AccountId},
		invite.MstAccount.Signatories)
	assert.Equal(t, wallet.Signatories[0].PublicKey, invite.InviterPublicKey)
}

func TestRoomInviteChainIdSurvivesTransport(t *testing.T) {
	wallet := inviteTestWallet()

	// the receiving side parses the invite back out of the envelope payload
	payload, err := json.Marshal(roomInviteFor(wallet))
	require.NoError(t, err)

	var received messaging.RoomInvite
	require.NoError(t, json.Unmarshal(payload, &received))

	assert.Equal(t, wallet.ChainId, received.MstAccount.ChainId)
	assert.Equal(t, wallet.Threshold, received.MstAccount.Threshold)
	assert.Len(t, received.MstAccount.Signatories, 2)
}
