package market

import (
	"fmt"
	"math/big"

	"github.com/cockroachdb/apd/v3"
)

var amountCtx = apd.BaseContext.WithPrecision(40)

// EtherToWei converts a decimal native-token amount to wei. Amounts with
// sub-wei precision are rejected rather than rounded.
func EtherToWei(amount *apd.Decimal) (*big.Int, error) {
	var scaled apd.Decimal
	if _, err := amountCtx.Mul(&scaled, amount, apd.New(1, 18)); err != nil {
		return nil, fmt.Errorf("failed to scale amount: %w", err)
	}

	wei, ok := new(big.Int).SetString(scaled.Text('f'), 10)
	if !ok {
		return nil, fmt.Errorf("amount %s has sub-wei precision", amount.Text('f'))
	}
	if wei.Sign() < 0 {
		return nil, fmt.Errorf("amount %s is negative", amount.Text('f'))
	}

	return wei, nil
}

// WeiToEther renders a wei amount as a reduced decimal.
func WeiToEther(wei *big.Int) *apd.Decimal {
	d := apd.NewWithBigInt(new(apd.BigInt).SetMathBigInt(wei), -18)
	d.Reduce(d)
	return d
}
