package models

import (
	"time"

	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

// Gateway represents a LoRaWAN gateway
type Gateway struct {
	MAC         lorawan.EUI64 `json:"mac" db:"mac"`
	NetID       lorawan.NetID `json:"netID" db:"net_id"`
	Description string        `json:"description" db:"description"`

	// Position, updated from status reports
	Latitude  *float64 `json:"latitude,omitempty" db:"latitude"`
	Longitude *float64 `json:"longitude,omitempty" db:"longitude"`
	Altitude  *int     `json:"altitude,omitempty" db:"altitude"`

	LastRX    *time.Time `json:"lastRX,omitempty" db:"last_rx"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
}

// Stat is a gateway status report as carried by the packet-forwarder
// protocol.
type Stat struct {
	Time string  `json:"time,omitempty"`
	Lati float64 `json:"lati,omitempty"`
	Long float64 `json:"long,omitempty"`
	Alti int     `json:"alti,omitempty"`
	Desc string  `json:"desc,omitempty"`
	RXNb int     `json:"rxnb,omitempty"`
	RXOK int     `json:"rxok,omitempty"`
	RXFW int     `json:"rxfw,omitempty"`
	ACKR float64 `json:"ackr,omitempty"`
	DWNb int     `json:"dwnb,omitempty"`
	TXNb int     `json:"txnb,omitempty"`
}
