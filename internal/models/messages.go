package models

import "github.com/lorawan-server/lorawan-server-go/pkg/lorawan"

// UplinkMessage carries one received PHY payload from the gateway
// bridge to the network server.
type UplinkMessage struct {
	MAC        lorawan.EUI64 `json:"mac"`
	RxQ        lorawan.RxQ   `json:"rxq"`
	PHYPayload []byte        `json:"phyPayload"`
}

// StatusMessage carries a gateway status report.
type StatusMessage struct {
	MAC  lorawan.EUI64 `json:"mac"`
	Stat Stat          `json:"stat"`
}

// DownlinkMessage carries a transmit order from the network server to
// the gateway bridge.
type DownlinkMessage struct {
	MAC        lorawan.EUI64 `json:"mac"`
	TxQ        lorawan.TxQ   `json:"txq"`
	PHYPayload []byte        `json:"phyPayload"`
}

// JoinEvent is published to the application bus after a join.
type JoinEvent struct {
	DevAddr lorawan.DevAddr `json:"devAddr"`
	App     string          `json:"app"`
	AppID   string          `json:"appID"`
	AppArgs string          `json:"appArgs,omitempty"`
	Time    int64           `json:"time"`
}

// RxEvent is published to the application bus for each new uplink.
type RxEvent struct {
	DevAddr lorawan.DevAddr `json:"devAddr"`
	App     string          `json:"app"`
	AppID   string          `json:"appID"`
	AppArgs string          `json:"appArgs,omitempty"`
	RxData  RxData          `json:"rxData"`
	RxQ     lorawan.RxQ     `json:"rxq"`
	Time    int64           `json:"time"`
}
