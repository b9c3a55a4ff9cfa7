package models

import (
	"time"

	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

// MulticastGroup represents a multicast session, keyed by its multicast
// DevAddr. Multicast downlinks share the unicast code path but forbid
// confirmed frames and carry no FOpts.
type MulticastGroup struct {
	DevAddr lorawan.DevAddr   `json:"devAddr" db:"dev_addr"`
	NwkSKey lorawan.AES128Key `json:"-" db:"nwks_key"`
	AppSKey lorawan.AES128Key `json:"-" db:"apps_key"`

	FCntDown uint32 `json:"fcntDown" db:"fcntdown"`

	Region   string        `json:"region" db:"region"`
	RXWin    lorawan.RXWin `json:"rxwin" db:"rxwin"`
	LastMAC  lorawan.EUI64 `json:"lastMAC" db:"last_mac"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// IgnoredLink is a DevAddr pattern whose uplinks are silently dropped
// before MIC verification. A nil mask means exact match.
type IgnoredLink struct {
	DevAddr lorawan.DevAddr  `json:"devAddr" db:"dev_addr"`
	Mask    *lorawan.DevAddr `json:"mask,omitempty" db:"mask"`
}

// Matches reports whether the received address matches the pattern:
// exact equality without a mask, received&mask == addr otherwise.
func (i IgnoredLink) Matches(addr lorawan.DevAddr) bool {
	if i.Mask == nil {
		return i.DevAddr == addr
	}
	for n := 0; n < 4; n++ {
		if addr[n]&i.Mask[n] != i.DevAddr[n] {
			return false
		}
	}
	return true
}
