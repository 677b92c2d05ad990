package transport

import "net/netip"

// Family is the address family of a Transport Handle.
type Family int

const (
	FamilyV4 Family = iota
	FamilyV6
)

// FamilyOf returns the family that would be used to dial addr.
func FamilyOf(addr netip.Addr) Family {
	if addr.Is4() || addr.Is4In6() {
		return FamilyV4
	}
	return FamilyV6
}
