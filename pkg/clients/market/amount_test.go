package market

import (
	"math/big"
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(t *testing.T, s string) *apd.Decimal {
	t.Helper()
	d, _, err := apd.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestEtherToWei(t *testing.T) {
	wei, err := EtherToWei(dec(t, "0.05"))
	require.NoError(t, err)
	assert.Equal(t, "50000000000000000", wei.String())

	wei, err = EtherToWei(dec(t, "0.000001"))
	require.NoError(t, err)
	assert.Equal(t, "1000000000000", wei.String())

	_, err = EtherToWei(dec(t, "0.0000000000000000001"))
	assert.Error(t, err, "sub-wei precision")

	_, err = EtherToWei(dec(t, "-1"))
	assert.Error(t, err)
}

func TestWeiToEtherRoundTrip(t *testing.T) {
	d := WeiToEther(big.NewInt(50000000000000000))
	assert.Equal(t, "0.05", d.Text('f'))
}

func TestBidOpen(t *testing.T) {
	assert.False(t, (&Bid{AmountWei: big.NewInt(0)}).Open())
	assert.False(t, (&Bid{AmountWei: new(big.Int).Set(NotOpenSentinel)}).Open())
	assert.True(t, (&Bid{AmountWei: big.NewInt(1)}).Open())
}
