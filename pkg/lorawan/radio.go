package lorawan

import "time"

// RxQ carries the radio metadata of a received uplink, as reported by
// the packet forwarder.
type RxQ struct {
	Freq       float64   `json:"freq"`
	DataRate   string    `json:"datr"`
	CodingRate string    `json:"codr"`
	RSSI       int       `json:"rssi"`
	LoRaSNR    float64   `json:"lsnr"`
	Channel    int       `json:"chan"`
	RFChain    int       `json:"rfch"`
	Tmst       uint32    `json:"tmst"`
	Time       time.Time `json:"time,omitempty"`

	// SrvTmst is the server receive timestamp in Unix milliseconds,
	// stamped by the gateway bridge from the wall clock (not monotonic).
	SrvTmst int64 `json:"srvtmst"`
}

// TxQ carries the radio instructions for a pending downlink.
type TxQ struct {
	Freq        float64 `json:"freq"`
	DataRate    string  `json:"datr"`
	CodingRate  string  `json:"codr"`
	Tmst        uint32  `json:"tmst,omitempty"`
	Immediately bool    `json:"imme,omitempty"`
	Power       int     `json:"powe,omitempty"`
	RFChain     int     `json:"rfch"`
}
