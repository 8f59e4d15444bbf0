package shipping

import "context"

// Address holds the human-readable names for a carrier address code pair.
// Used only to compose the display address snapshot on orders, never for
// pricing.
type Address struct {
	Province string
	District string
	Ward     string
}

// AddressResolver resolves display names from carrier address codes.
type AddressResolver interface {
	ResolveNames(ctx context.Context, districtID int, wardCode string) (Address, error)
}

// NoopResolver returns empty names. Used when the storefront client already
// submits a formatted address string.
type NoopResolver struct{}

// ResolveNames returns an empty Address.
func (NoopResolver) ResolveNames(context.Context, int, string) (Address, error) {
	return Address{}, nil
}
