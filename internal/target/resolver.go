// Package target normalizes investigation targets into the predicate
// shapes the per-table fragment builders understand.
package target

import (
	"context"
	"encoding/hex"
	"net/netip"
	"strings"
)

// Kind discriminates the predicate variants.
type Kind int

const (
	// KindUser matches rows through the actor join for a registered account.
	KindUser Kind = iota
	// KindIP matches rows whose ip_hex equals a single address.
	KindIP
	// KindIPRange matches rows whose ip_hex falls inside an inclusive range.
	KindIPRange
)

// Predicate is the structured form of one resolved target.
type Predicate struct {
	Kind     Kind
	UserID   int64  // KindUser
	UserText string // KindUser, canonical account name
	ByName   bool   // KindUser: match on actor name instead of user ID
	Hex      string // KindIP
	StartHex string // KindIPRange
	EndHex   string // KindIPRange
}

// UserLookup resolves a registered account name to its internal user ID.
// Implementations return found=false (not an error) for unknown names.
type UserLookup interface {
	LookupUser(ctx context.Context, name string) (id int64, found bool, err error)
}

// RangeLimits caps how wide a CIDR target may be, per address family,
// expressed as the minimum accepted prefix length. Ranges wider than the
// limit are treated as unresolvable so a typo cannot trigger a scan over
// half the address space.
type RangeLimits struct {
	V4MinPrefix int
	V6MinPrefix int
}

// DefaultRangeLimits mirrors the usual production caps: /16 for IPv4, /32 for IPv6.
func DefaultRangeLimits() RangeLimits {
	return RangeLimits{V4MinPrefix: 16, V6MinPrefix: 32}
}

// Resolver turns raw target strings into predicates. Resolution is total:
// any string that is neither a valid IP, an acceptable CIDR range, nor a
// known account name resolves to nil. Multi-target queries rely on that to
// drop bad entries while still answering for the rest.
type Resolver struct {
	users  UserLookup
	limits RangeLimits
}

// NewResolver builds a resolver over the given account lookup.
func NewResolver(users UserLookup, limits RangeLimits) *Resolver {
	return &Resolver{users: users, limits: limits}
}

// Resolve normalizes one target string. A nil result means "no fragment",
// never an error; err is only set when the account lookup itself failed.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*Predicate, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	if addr, err := netip.ParseAddr(raw); err == nil {
		return &Predicate{Kind: KindIP, Hex: HexForAddr(addr)}, nil
	}

	if prefix, err := netip.ParsePrefix(raw); err == nil {
		if !r.rangeAllowed(prefix) {
			return nil, nil
		}
		start, end := rangeBounds(prefix)
		return &Predicate{Kind: KindIPRange, StartHex: start, EndHex: end}, nil
	}

	if r.users == nil {
		return nil, nil
	}
	id, found, err := r.users.LookupUser(ctx, raw)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &Predicate{Kind: KindUser, UserID: id, UserText: raw}, nil
}

func (r *Resolver) rangeAllowed(prefix netip.Prefix) bool {
	if prefix.Addr().Is4() {
		return prefix.Bits() >= r.limits.V4MinPrefix
	}
	return prefix.Bits() >= r.limits.V6MinPrefix
}

// HexForAddr returns the fixed-width uppercase hex encoding used by the
// ip_hex columns: 8 chars for IPv4, 32 for IPv6.
func HexForAddr(addr netip.Addr) string {
	if addr.Is4() {
		b := addr.As4()
		return strings.ToUpper(hex.EncodeToString(b[:]))
	}
	b := addr.As16()
	return strings.ToUpper(hex.EncodeToString(b[:]))
}

// rangeBounds computes the inclusive [start, end] hex bounds of a prefix.
func rangeBounds(prefix netip.Prefix) (string, string) {
	masked := prefix.Masked().Addr()
	if masked.Is4() {
		start := masked.As4()
		end := start
		setHostBits(end[:], prefix.Bits())
		return strings.ToUpper(hex.EncodeToString(start[:])),
			strings.ToUpper(hex.EncodeToString(end[:]))
	}
	start := masked.As16()
	end := start
	setHostBits(end[:], prefix.Bits())
	return strings.ToUpper(hex.EncodeToString(start[:])),
		strings.ToUpper(hex.EncodeToString(end[:]))
}

// setHostBits sets every bit past the prefix length, yielding the last
// address of the range.
func setHostBits(b []byte, bits int) {
	for i := bits; i < len(b)*8; i++ {
		b[i/8] |= 1 << (7 - i%8)
	}
}
