// Package wallet defines the opaque account identifier used for accounting.
package wallet

// Wallet is an opaque account address. A node always has an earning
// wallet; a consuming wallet is optional and represented at call sites as
// *Wallet == nil (only originators that pay carry one).
type Wallet struct {
	Address string
}

// New builds a Wallet from a raw address string.
func New(address string) Wallet {
	return Wallet{Address: address}
}

// Equal reports address equality.
func (w Wallet) Equal(other Wallet) bool {
	return w.Address == other.Address
}

// String renders the wallet for logging.
func (w Wallet) String() string {
	return w.Address
}
