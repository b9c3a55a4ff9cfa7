package lorawan

import (
	"fmt"
	"time"
)

// ADRConfig holds the ADR-managed transmit parameters of a link:
// tx-power index, data-rate index, and enabled-channel mask.
type ADRConfig struct {
	TXPower  int    `json:"txPower"`
	DataRate int    `json:"dataRate"`
	Chans    uint64 `json:"chans"`
}

// RXWin holds the receive-window parameters of a link.
type RXWin struct {
	RX1DROffset uint8   `json:"rx1DROffset"`
	RX2DataRate uint8   `json:"rx2DataRate"`
	RX2Freq     float64 `json:"rx2Freq"`
}

// DelayKind selects between the join-accept and data downlink receive
// window delays.
type DelayKind int

const (
	DataDelay DelayKind = iota
	JoinDelay
)

// DataRate represents a LoRa data rate configuration
type DataRate struct {
	SpreadFactor int
	Bandwidth    int
}

// Datar returns the packet-forwarder representation, e.g. "SF12BW125".
func (d DataRate) Datar() string {
	return fmt.Sprintf("SF%dBW%d", d.SpreadFactor, d.Bandwidth)
}

// Channel represents a LoRa channel
type Channel struct {
	Freq  float64
	MinDR int
	MaxDR int
}

// RegionConfiguration represents region-specific PHY parameters.
type RegionConfiguration struct {
	Name            string
	DefaultChannels []Channel
	DataRates       []DataRate

	// RX1 data rate as a function of uplink data rate and offset.
	RX1DRTable map[int]map[int]int

	DefaultRX2DR   uint8
	DefaultRX2Freq float64

	DefaultTXPower int
	DefaultChans   uint64

	rx1Freq func(upFreq float64, upChan int) float64
}

// GetRegion returns the configuration for a region tag.
func GetRegion(name string) (*RegionConfiguration, error) {
	switch name {
	case "EU868":
		return &eu868, nil
	case "US915":
		return &us915, nil
	case "CN470", "CN470_510":
		return &cn470, nil
	}
	return nil, fmt.Errorf("unknown region %q", name)
}

// DefaultADR returns the region's initial ADR configuration.
func (r *RegionConfiguration) DefaultADR() ADRConfig {
	return ADRConfig{
		TXPower:  r.DefaultTXPower,
		DataRate: 0,
		Chans:    r.DefaultChans,
	}
}

// DefaultRXWin returns the region's initial receive-window parameters.
func (r *RegionConfiguration) DefaultRXWin() RXWin {
	return RXWin{
		RX1DROffset: 0,
		RX2DataRate: r.DefaultRX2DR,
		RX2Freq:     r.DefaultRX2Freq,
	}
}

// RX2DR returns the region's default RX2 data-rate index.
func (r *RegionConfiguration) RX2DR() uint8 {
	return r.DefaultRX2DR
}

// DatarToDR resolves a packet-forwarder data-rate string to the
// region's data-rate index.
func (r *RegionConfiguration) DatarToDR(datr string) (int, error) {
	for i, dr := range r.DataRates {
		if dr.Datar() == datr {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown data rate %q in region %s", datr, r.Name)
}

// DRToDatar resolves a data-rate index to its packet-forwarder string.
func (r *RegionConfiguration) DRToDatar(dr int) (string, error) {
	if dr < 0 || dr >= len(r.DataRates) {
		return "", fmt.Errorf("data rate %d out of range in region %s", dr, r.Name)
	}
	return r.DataRates[dr].Datar(), nil
}

// RX1Delay returns the delay between the end of an uplink and the RX1
// window: 1 s for data, 5 s after a join-request.
func (r *RegionConfiguration) RX1Delay(kind DelayKind) time.Duration {
	if kind == JoinDelay {
		return 5 * time.Second
	}
	return 1 * time.Second
}

// RX2Delay returns the delay to the RX2 window: RX1 + 1 s.
func (r *RegionConfiguration) RX2Delay(kind DelayKind) time.Duration {
	return r.RX1Delay(kind) + time.Second
}

// RX1Window computes the transmit instructions for the RX1 window
// following the given uplink.
func (r *RegionConfiguration) RX1Window(rxwin RXWin, rxq RxQ, kind DelayKind) (TxQ, error) {
	upDR, err := r.DatarToDR(rxq.DataRate)
	if err != nil {
		return TxQ{}, err
	}

	dnDR, ok := r.RX1DRTable[upDR][int(rxwin.RX1DROffset)]
	if !ok {
		dnDR = upDR
	}

	datr, err := r.DRToDatar(dnDR)
	if err != nil {
		return TxQ{}, err
	}

	freq := rxq.Freq
	if r.rx1Freq != nil {
		freq = r.rx1Freq(rxq.Freq, rxq.Channel)
	}

	return TxQ{
		Freq:       freq,
		DataRate:   datr,
		CodingRate: rxq.CodingRate,
		Tmst:       rxq.Tmst + uint32(r.RX1Delay(kind)/time.Microsecond),
	}, nil
}

// RX2Window computes the transmit instructions for the RX2 window
// following the given uplink.
func (r *RegionConfiguration) RX2Window(rxwin RXWin, rxq RxQ, kind DelayKind) (TxQ, error) {
	datr, err := r.DRToDatar(int(rxwin.RX2DataRate))
	if err != nil {
		return TxQ{}, err
	}

	return TxQ{
		Freq:       rxwin.RX2Freq,
		DataRate:   datr,
		CodingRate: rxq.CodingRate,
		Tmst:       rxq.Tmst + uint32(r.RX2Delay(kind)/time.Microsecond),
	}, nil
}

// RFGroup returns the transmit instructions for server-initiated
// downlinks, which use the RX2 parameters.
func (r *RegionConfiguration) RFGroup(rxwin RXWin) (TxQ, error) {
	datr, err := r.DRToDatar(int(rxwin.RX2DataRate))
	if err != nil {
		return TxQ{}, err
	}

	return TxQ{
		Freq:       rxwin.RX2Freq,
		DataRate:   datr,
		CodingRate: "4/5",
		Power:      r.DefaultTXPower,
	}, nil
}

var eu868 = RegionConfiguration{
	Name: "EU868",
	DefaultChannels: []Channel{
		{Freq: 868.1, MinDR: 0, MaxDR: 5},
		{Freq: 868.3, MinDR: 0, MaxDR: 5},
		{Freq: 868.5, MinDR: 0, MaxDR: 5},
	},
	DataRates: []DataRate{
		{SpreadFactor: 12, Bandwidth: 125}, // DR0
		{SpreadFactor: 11, Bandwidth: 125}, // DR1
		{SpreadFactor: 10, Bandwidth: 125}, // DR2
		{SpreadFactor: 9, Bandwidth: 125},  // DR3
		{SpreadFactor: 8, Bandwidth: 125},  // DR4
		{SpreadFactor: 7, Bandwidth: 125},  // DR5
	},
	RX1DRTable: map[int]map[int]int{
		0: {0: 0, 1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
		1: {0: 1, 1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
		2: {0: 2, 1: 1, 2: 0, 3: 0, 4: 0, 5: 0},
		3: {0: 3, 1: 2, 2: 1, 3: 0, 4: 0, 5: 0},
		4: {0: 4, 1: 3, 2: 2, 3: 1, 4: 0, 5: 0},
		5: {0: 5, 1: 4, 2: 3, 3: 2, 4: 1, 5: 0},
	},
	DefaultRX2DR:   0,
	DefaultRX2Freq: 869.525,
	DefaultTXPower: 1,
	DefaultChans:   0x07,
}

var us915 = RegionConfiguration{
	Name: "US915",
	DataRates: []DataRate{
		{SpreadFactor: 10, Bandwidth: 125}, // DR0
		{SpreadFactor: 9, Bandwidth: 125},  // DR1
		{SpreadFactor: 8, Bandwidth: 125},  // DR2
		{SpreadFactor: 7, Bandwidth: 125},  // DR3
		{SpreadFactor: 8, Bandwidth: 500},  // DR4
		{}, {}, {},                         // DR5-7 RFU
		{SpreadFactor: 12, Bandwidth: 500}, // DR8
		{SpreadFactor: 11, Bandwidth: 500}, // DR9
		{SpreadFactor: 10, Bandwidth: 500}, // DR10
		{SpreadFactor: 9, Bandwidth: 500},  // DR11
		{SpreadFactor: 8, Bandwidth: 500},  // DR12
		{SpreadFactor: 7, Bandwidth: 500},  // DR13
	},
	RX1DRTable: map[int]map[int]int{
		0: {0: 10, 1: 9, 2: 8, 3: 8},
		1: {0: 11, 1: 10, 2: 9, 3: 8},
		2: {0: 12, 1: 11, 2: 10, 3: 9},
		3: {0: 13, 1: 12, 2: 11, 3: 10},
		4: {0: 13, 1: 13, 2: 12, 3: 11},
	},
	DefaultRX2DR:   8,
	DefaultRX2Freq: 923.3,
	DefaultTXPower: 5,
	DefaultChans:   0xFFFFFFFFFFFFFFFF,
	rx1Freq: func(upFreq float64, upChan int) float64 {
		// 64 125kHz uplink channels from 902.3 MHz map onto 8
		// downlink channels from 923.3 MHz.
		ch := upChan
		if ch == 0 && upFreq > 902.0 {
			ch = int((upFreq-902.3)/0.2 + 0.5)
		}
		return 923.3 + float64(ch%8)*0.6
	},
}

var cn470 = RegionConfiguration{
	Name: "CN470",
	DefaultChannels: []Channel{
		{Freq: 470.3, MinDR: 0, MaxDR: 5},
		{Freq: 470.5, MinDR: 0, MaxDR: 5},
		{Freq: 470.7, MinDR: 0, MaxDR: 5},
		{Freq: 470.9, MinDR: 0, MaxDR: 5},
		{Freq: 471.1, MinDR: 0, MaxDR: 5},
		{Freq: 471.3, MinDR: 0, MaxDR: 5},
		{Freq: 471.5, MinDR: 0, MaxDR: 5},
		{Freq: 471.7, MinDR: 0, MaxDR: 5},
	},
	DataRates: []DataRate{
		{SpreadFactor: 12, Bandwidth: 125}, // DR0
		{SpreadFactor: 11, Bandwidth: 125}, // DR1
		{SpreadFactor: 10, Bandwidth: 125}, // DR2
		{SpreadFactor: 9, Bandwidth: 125},  // DR3
		{SpreadFactor: 8, Bandwidth: 125},  // DR4
		{SpreadFactor: 7, Bandwidth: 125},  // DR5
	},
	RX1DRTable: map[int]map[int]int{
		0: {0: 0, 1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
		1: {0: 1, 1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
		2: {0: 2, 1: 1, 2: 0, 3: 0, 4: 0, 5: 0},
		3: {0: 3, 1: 2, 2: 1, 3: 0, 4: 0, 5: 0},
		4: {0: 4, 1: 3, 2: 2, 3: 1, 4: 0, 5: 0},
		5: {0: 5, 1: 4, 2: 3, 3: 2, 4: 1, 5: 0},
	},
	DefaultRX2DR:   0,
	DefaultRX2Freq: 505.3,
	DefaultTXPower: 0,
	DefaultChans:   0xFF,
}
