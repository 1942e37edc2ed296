// Package asset defines the compile-time asset parameterization for
// marketplaces. Each deployed marketplace is bound to exactly one asset
// type; the binding is a type parameter, not a runtime field, so stakes
// denominated in different assets can never be mixed in one pool.
package asset

// Asset is the constraint satisfied by every supported settlement asset.
// Implementations are zero-sized marker types; their methods describe the
// asset but carry no state.
type Asset interface {
	Symbol() string
	Decimals() uint8
}

// APT is the Aptos coin, denominated in octas (1e-8).
type APT struct{}

func (APT) Symbol() string  { return "APT" }
func (APT) Decimals() uint8 { return 8 }

// USDC is the USD Coin stablecoin, denominated in micro-units (1e-6).
type USDC struct{}

func (USDC) Symbol() string  { return "USDC" }
func (USDC) Decimals() uint8 { return 6 }

// Units converts a whole-asset amount into base units for the given asset.
func Units[A Asset](whole uint64) uint64 {
	var a A
	mul := uint64(1)
	for i := uint8(0); i < a.Decimals(); i++ {
		mul *= 10
	}
	return whole * mul
}
