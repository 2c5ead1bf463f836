package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeRoundTrip(t *testing.T) {
	p, err := New(nil)
	require.NoError(t, err)

	p.Addresses[11155111] = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	p.UserInfo["dkey.example"] = UserInfo{
		Username: "operator",
		ChainPrefs: ChainPrefs{
			DefaultChainID: 11155111,
			ChainIDs:       []uint64{11155111, 137},
			RPCURLs:        map[uint64]string{137: "http://localhost:8545"},
		},
		GatewayURL:    "http://localhost:8080/ipfs",
		PinningMethod: PinningLocal,
	}
	p.AddListing(11155111, ListingSummary{
		FileName:   "doc.txt",
		ContentID:  "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi",
		Price:      "0.05",
		UnitsTotal: 3,
	})
	p.AddDKey(137, DKeySummary{FileName: "art.png", ContentID: "bafyartcid", Amount: "0.2"})
	p.SetOpenBid(11155111, BidSummary{FileName: "doc.txt", ContentID: "bafybidcid", Amount: "0.01", BidIndex: 4})

	blob, err := p.Serialize()
	require.NoError(t, err)

	restored, err := Deserialize(blob, nil)
	require.NoError(t, err)

	assert.Equal(t, p.Addresses, restored.Addresses)
	assert.Equal(t, p.UserInfo, restored.UserInfo)
	assert.Equal(t, p.MyListings, restored.MyListings)
	assert.Equal(t, p.MyDKeys, restored.MyDKeys)
	assert.Equal(t, p.MyOpenBids, restored.MyOpenBids)

	// The bid key survives too.
	a1, b1 := p.BidKeyHalves()
	a2, b2 := restored.BidKeyHalves()
	assert.Equal(t, a1, a2)
	assert.Equal(t, b1, b2)
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	_, err := Deserialize("not json", nil)
	assert.Error(t, err)

	_, err = Deserialize(`{"addresses":{}}`, nil)
	assert.Error(t, err, "missing bid key")
}

func TestCloneIsIndependent(t *testing.T) {
	p, err := New(nil)
	require.NoError(t, err)
	p.AddListing(1, ListingSummary{ContentID: "bafyone", OpenBids: 1})

	cp := p.Clone()
	cp.UpdateListing(1, "bafyone", func(s ListingSummary) ListingSummary {
		s.OpenBids = 2
		return s
	})
	cp.Addresses[1] = "0xabc"

	assert.Equal(t, uint64(1), p.MyListings[1]["bafyone"].OpenBids)
	_, ok := p.Addresses[1]
	assert.False(t, ok)
}

func TestCapabilityQueries(t *testing.T) {
	p, err := New(nil)
	require.NoError(t, err)

	assert.False(t, p.IsListingOwner(1, "bafyone"))
	assert.False(t, p.IsDkeyOwner(1, "bafyone"))
	assert.False(t, p.HasOpenBid(1, "bafyone"))

	p.AddListing(1, ListingSummary{ContentID: "bafyone"})
	p.AddDKey(1, DKeySummary{ContentID: "bafyone"})
	p.SetOpenBid(1, BidSummary{ContentID: "bafyone"})

	assert.True(t, p.IsListingOwner(1, "bafyone"))
	assert.True(t, p.IsDkeyOwner(1, "bafyone"))
	assert.True(t, p.HasOpenBid(1, "bafyone"))

	p.RemoveOpenBid(1, "bafyone")
	assert.False(t, p.HasOpenBid(1, "bafyone"))
}
