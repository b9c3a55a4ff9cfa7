package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

// RxFrame is one entry of the append-only RX frame log.
type RxFrame struct {
	FrameID int64           `json:"frameID" db:"frame_id"`
	MAC     lorawan.EUI64   `json:"mac" db:"mac"`
	RxQ     lorawan.RxQ     `json:"rxq" db:"rxq"`
	App     string          `json:"app" db:"app"`
	AppID   string          `json:"appID" db:"app_id"`
	DevAddr lorawan.DevAddr `json:"devAddr" db:"dev_addr"`
	FCnt    uint32          `json:"fcnt" db:"fcnt"`
	Port    *uint8          `json:"port,omitempty" db:"port"`
	Data    []byte          `json:"data,omitempty" db:"data"`

	ReceivedAt time.Time `json:"receivedAt" db:"received_at"`
	DevStat    *DevStat  `json:"devstat,omitempty" db:"devstat"`
}

// PendingFrame holds the most recently transmitted downlink PHY payload
// for a DevAddr, kept for retransmission on a repeated uplink and, when
// confirmed, until the device acknowledges it.
type PendingFrame struct {
	DevAddr    lorawan.DevAddr `json:"devAddr" db:"dev_addr"`
	PHYPayload []byte          `json:"phyPayload" db:"phy_payload"`
	Confirmed  bool            `json:"confirmed" db:"confirmed"`
	SentAt     time.Time       `json:"sentAt" db:"sent_at"`
}

// TxFrame is one queued application downlink for a DevAddr.
type TxFrame struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	DevAddr   lorawan.DevAddr `json:"devAddr" db:"dev_addr"`
	Port      uint8           `json:"port" db:"port"`
	Data      []byte          `json:"data" db:"data"`
	Confirmed bool            `json:"confirmed" db:"confirmed"`
	Pending   bool            `json:"pending" db:"pending"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// TxData is a downlink intent handed to the downlink engine.
type TxData struct {
	Confirmed bool   `json:"confirmed"`
	Port      *uint8 `json:"port,omitempty"`
	Data      []byte `json:"data,omitempty"`

	// Pending sets the FPending bit, telling the device more
	// downlink data is queued.
	Pending bool `json:"pending,omitempty"`
}

// RxData is a decoded uplink handed to the application dispatcher.
type RxData struct {
	FCnt uint32 `json:"fcnt"`
	Port *uint8 `json:"port,omitempty"`
	Data []byte `json:"data,omitempty"`

	// LastLost reports that the previous confirmed downlink was not
	// acknowledged by this uplink.
	LastLost bool `json:"lastLost"`

	// ShallReply reports that the engine will open a downlink window
	// regardless of application data.
	ShallReply bool `json:"shallReply"`
}
