package network

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-server-go/internal/models"
	"github.com/lorawan-server/lorawan-server-go/internal/storage"
	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

var testDevAddr = lorawan.DevAddr{0x26, 0x01, 0x02, 0x03}

func testLink() *models.Link {
	adrUse := lorawan.ADRConfig{TXPower: 1, DataRate: 3, Chans: 0x07}
	rxwin := lorawan.RXWin{RX2DataRate: 0, RX2Freq: 869.525}

	return &models.Link{
		DevAddr:   testDevAddr,
		DevEUI:    testDevEUI,
		Region:    "EU868",
		App:       "semtech-mote",
		AppID:     "1",
		NwkSKey:   testNwkKey,
		AppSKey:   testAppSKy,
		FCntUp:    5,
		FCntCheck: models.FCntCheckStrict16,
		ADRUse:    &adrUse,
		RXWinUse:  rxwin,
		RXWinSet:  rxwin,
		LastMAC:   testMAC,

		// A fresh device-status answer keeps the MAC handler from
		// piggybacking requests, so replies carry no FOpts unless a
		// test asks for them.
		DevStat: &models.DevStat{Battery: 254, Margin: 10},
	}
}

// dataUplinkPHY builds a signed (and, when carrying data, encrypted)
// data uplink for the test link keys. fcnt32 is the counter value the
// server is expected to settle on; its low 16 bits go on the wire.
func dataUplinkPHY(t *testing.T, mtype lorawan.MType, fcnt32 uint32, port *uint8, data []byte, fctrl lorawan.FCtrl, fopts []byte) []byte {
	t.Helper()

	var frm []byte
	if port != nil && len(data) > 0 {
		key := testAppSKy
		if *port == 0 {
			key = testNwkKey
		}
		var err error
		frm, err = lorawan.CipherFRMPayload(key, 0, testDevAddr, fcnt32, data)
		require.NoError(t, err)
	}

	m := lorawan.MACPayload{
		FHDR: lorawan.FHDR{
			DevAddr: testDevAddr,
			FCtrl:   fctrl,
			FCnt:    uint16(fcnt32),
			FOpts:   fopts,
		},
		FPort:      port,
		FRMPayload: frm,
	}

	macPayload, err := m.Marshal()
	require.NoError(t, err)

	payload := lorawan.PHYPayload{
		MHDR:       lorawan.MHDR{MType: mtype, Major: lorawan.LoRaWAN1_0},
		MACPayload: macPayload,
	}

	mic, err := lorawan.ComputeDataMIC(testNwkKey, 0, testDevAddr, fcnt32, payload.Msg())
	require.NoError(t, err)
	payload.MIC = mic

	phy, err := payload.MarshalBinary()
	require.NoError(t, err)
	return phy
}

func uint8p(v uint8) *uint8 { return &v }

func TestClassifyFCnt(t *testing.T) {
	tests := []struct {
		name   string
		mode   models.FCntCheck
		stored uint32
		rx     uint16
		class  fcntClass
		fcnt   uint32
		ok     bool
	}{
		{"strict16 next", models.FCntCheckStrict16, 5, 6, fcntNew, 6, true},
		{"strict16 retransmit", models.FCntCheckStrict16, 6, 6, fcntRetransmit, 6, true},
		{"strict16 gap limit", models.FCntCheckStrict16, 1, 0x5000, 0, 0, false},
		{"strict16 wraps 16 bits", models.FCntCheckStrict16, 0xFFF0, 0x0002, fcntNew, 2, true},
		{"strict32 rollover", models.FCntCheckStrict32, 0x0001FFF0, 0x0002, fcntNew, 0x00020002, true},
		{"strict32 retransmit", models.FCntCheckStrict32, 0x00010006, 0x0006, fcntRetransmit, 0x00010006, true},
		{"strict32 gap limit", models.FCntCheckStrict32, 1, 0x5000, 0, 0, false},
		{"reset window", models.FCntCheckResetAllowed, 0x0400, 0x0002, fcntReset, 2, true},
		{"reset window upper bound", models.FCntCheckResetAllowed, 0x0400, 10, 0, 0, false},
		{"reset-allowed forward", models.FCntCheckResetAllowed, 5, 6, fcntNew, 6, true},
		{"disabled any value", models.FCntCheckDisabled, 0x0400, 0x0300, fcntNew, 0x0300, true},
		{"disabled reset window", models.FCntCheckDisabled, 0x0400, 0x0002, fcntReset, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, fcnt, ok := classifyFCnt(tt.mode, tt.stored, tt.rx)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			require.Equal(t, tt.class, class)
			require.Equal(t, tt.fcnt, fcnt)
		})
	}
}

func TestUplinkNew(t *testing.T) {
	p, ms, app := newTestProcessor(t)
	ctx := context.Background()
	require.NoError(t, ms.PutLink(ctx, testLink()))

	phy := dataUplinkPHY(t, lorawan.UnconfirmedDataUp, 6, uint8p(1), []byte{0x17}, lorawan.FCtrl{}, nil)

	action, err := p.ProcessFrame(ctx, testMAC, testRxQ(), phy)
	require.NoError(t, err)
	require.Nil(t, action)

	link, err := ms.GetLink(ctx, testDevAddr)
	require.NoError(t, err)
	require.Equal(t, uint32(6), link.FCntUp)
	require.NotNil(t, link.LastRX)
	require.Equal(t, testMAC, link.LastMAC)

	frames, err := ms.ListRxFrames(ctx, testDevAddr, 0, 0)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, uint32(6), frames[0].FCnt)
	require.Equal(t, uint8(1), *frames[0].Port)
	require.Equal(t, []byte{0x17}, frames[0].Data)

	require.Len(t, app.rxs, 1)
	require.Equal(t, []byte{0x17}, app.rxs[0].Data)
	require.False(t, app.rxs[0].ShallReply)
}

func TestUplinkRetransmit(t *testing.T) {
	p, ms, app := newTestProcessor(t)
	ctx := context.Background()

	link := testLink()
	link.FCntUp = 6
	require.NoError(t, ms.PutLink(ctx, link))

	pendingPHY := []byte{0x60, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	require.NoError(t, ms.PutPending(ctx, &models.PendingFrame{
		DevAddr:    testDevAddr,
		PHYPayload: pendingPHY,
	}))

	rxq := testRxQ()
	phy := dataUplinkPHY(t, lorawan.UnconfirmedDataUp, 6, uint8p(1), []byte{0x17}, lorawan.FCtrl{}, nil)

	action, err := p.ProcessFrame(ctx, testMAC, rxq, phy)
	require.NoError(t, err)

	// The pending downlink goes out again in RX1.
	require.NotNil(t, action)
	require.Equal(t, pendingPHY, action.PHYPayload)
	require.Equal(t, rxq.Tmst+1000000, action.TxQ.Tmst)
	require.Equal(t, rxq.Freq, action.TxQ.Freq)

	// No counter change and no application dispatch.
	link, err = ms.GetLink(ctx, testDevAddr)
	require.NoError(t, err)
	require.Equal(t, uint32(6), link.FCntUp)
	require.Empty(t, app.rxs)

	// The retransmission is still logged.
	frames, err := ms.ListRxFrames(ctx, testDevAddr, 0, 0)
	require.NoError(t, err)
	require.Len(t, frames, 1)
}

func TestUplinkRetransmitNoPending(t *testing.T) {
	p, ms, _ := newTestProcessor(t)
	ctx := context.Background()

	link := testLink()
	link.FCntUp = 6
	require.NoError(t, ms.PutLink(ctx, link))

	phy := dataUplinkPHY(t, lorawan.UnconfirmedDataUp, 6, nil, nil, lorawan.FCtrl{}, nil)

	action, err := p.ProcessFrame(ctx, testMAC, testRxQ(), phy)
	require.NoError(t, err)
	require.Nil(t, action)
}

func TestUplinkFCntReset(t *testing.T) {
	p, ms, app := newTestProcessor(t)
	ctx := context.Background()

	link := testLink()
	link.FCntUp = 0x0400
	link.FCntCheck = models.FCntCheckResetAllowed
	link.ADRUse = &lorawan.ADRConfig{TXPower: 3, DataRate: 5, Chans: 0x07}
	require.NoError(t, ms.PutLink(ctx, link))

	require.NoError(t, ms.PutPending(ctx, &models.PendingFrame{
		DevAddr:    testDevAddr,
		PHYPayload: []byte{1, 2, 3},
	}))
	require.NoError(t, ms.PutTxFrame(ctx, &models.TxFrame{
		DevAddr: testDevAddr,
		Port:    1,
		Data:    []byte{4},
	}))

	phy := dataUplinkPHY(t, lorawan.UnconfirmedDataUp, 2, uint8p(1), []byte{0x17}, lorawan.FCtrl{}, nil)

	_, err := p.ProcessFrame(ctx, testMAC, testRxQ(), phy)
	require.NoError(t, err)

	updated, err := ms.GetLink(ctx, testDevAddr)
	require.NoError(t, err)
	require.Equal(t, uint32(2), updated.FCntUp)
	require.NotNil(t, updated.LastReset)

	// ADR and RX-window state fall back to the region defaults; the
	// uplink's own data rate is then tracked as usual.
	region, err := lorawan.GetRegion("EU868")
	require.NoError(t, err)
	require.Equal(t, region.DefaultADR().TXPower, updated.ADRUse.TXPower)
	require.Equal(t, region.DefaultRXWin(), updated.RXWinUse)

	// Pending downlink and queued frames are purged.
	_, err = ms.GetPending(ctx, testDevAddr)
	require.Equal(t, storage.ErrNotFound, err)
	_, err = ms.NextTxFrame(ctx, testDevAddr)
	require.Equal(t, storage.ErrNotFound, err)

	// The frame still reaches the application.
	require.Len(t, app.rxs, 1)
}

func TestUplinkFCntGapTooLarge(t *testing.T) {
	p, ms, app := newTestProcessor(t)
	ctx := context.Background()

	link := testLink()
	link.FCntUp = 1
	require.NoError(t, ms.PutLink(ctx, link))

	phy := dataUplinkPHY(t, lorawan.UnconfirmedDataUp, 0x5000, nil, nil, lorawan.FCtrl{}, nil)

	action, err := p.ProcessFrame(ctx, testMAC, testRxQ(), phy)
	require.Nil(t, action)

	var engineErr *Error
	require.ErrorAs(t, err, &engineErr)
	require.Equal(t, KindFCntGapTooLarge, engineErr.Kind)
	require.Equal(t, testDevAddr.String(), engineErr.ID)
	require.Equal(t, uint32(0x5000), engineErr.FCnt)

	// The counter is untouched.
	link, err = ms.GetLink(ctx, testDevAddr)
	require.NoError(t, err)
	require.Equal(t, uint32(1), link.FCntUp)
	require.Empty(t, app.rxs)
}

func TestUplinkBadMIC(t *testing.T) {
	p, ms, app := newTestProcessor(t)
	ctx := context.Background()
	require.NoError(t, ms.PutLink(ctx, testLink()))

	phy := dataUplinkPHY(t, lorawan.UnconfirmedDataUp, 6, uint8p(1), []byte{0x17}, lorawan.FCtrl{}, nil)
	phy[len(phy)-1] ^= 0xFF

	_, err := p.ProcessFrame(ctx, testMAC, testRxQ(), phy)

	var engineErr *Error
	require.ErrorAs(t, err, &engineErr)
	require.Equal(t, KindBadMIC, engineErr.Kind)

	// A bad MIC never mutates state.
	link, err := ms.GetLink(ctx, testDevAddr)
	require.NoError(t, err)
	require.Equal(t, uint32(5), link.FCntUp)
	require.Empty(t, app.rxs)
	require.Empty(t, ms.data.rxFrames)
}

func TestUplinkUnknownDevAddr(t *testing.T) {
	p, _, _ := newTestProcessor(t)

	phy := dataUplinkPHY(t, lorawan.UnconfirmedDataUp, 6, nil, nil, lorawan.FCtrl{}, nil)

	_, err := p.ProcessFrame(context.Background(), testMAC, testRxQ(), phy)

	var engineErr *Error
	require.ErrorAs(t, err, &engineErr)
	require.Equal(t, KindUnknownDevAddr, engineErr.Kind)
}

func TestUplinkIgnoredLink(t *testing.T) {
	p, ms, app := newTestProcessor(t)
	ctx := context.Background()
	require.NoError(t, ms.PutLink(ctx, testLink()))

	// Mask match: every address in 26xxxxxx is dropped.
	mask := lorawan.DevAddr{0xFF, 0x00, 0x00, 0x00}
	require.NoError(t, ms.PutIgnored(ctx, &models.IgnoredLink{
		DevAddr: lorawan.DevAddr{0x26, 0x00, 0x00, 0x00},
		Mask:    &mask,
	}))

	phy := dataUplinkPHY(t, lorawan.UnconfirmedDataUp, 6, uint8p(1), []byte{0x17}, lorawan.FCtrl{}, nil)

	action, err := p.ProcessFrame(ctx, testMAC, testRxQ(), phy)
	require.NoError(t, err)
	require.Nil(t, action)

	link, err := ms.GetLink(ctx, testDevAddr)
	require.NoError(t, err)
	require.Equal(t, uint32(5), link.FCntUp)
	require.Empty(t, app.rxs)
}

func TestUplinkDoubleFOpts(t *testing.T) {
	p, ms, app := newTestProcessor(t)
	ctx := context.Background()
	require.NoError(t, ms.PutLink(ctx, testLink()))

	// FPort 0 with FOpts present: the frame authenticates but is
	// rejected after MIC verification.
	phy := dataUplinkPHY(t, lorawan.UnconfirmedDataUp, 6, uint8p(0), []byte{0x06, 0xFF, 0x0A}, lorawan.FCtrl{}, []byte{0x02})

	_, err := p.ProcessFrame(ctx, testMAC, testRxQ(), phy)

	var engineErr *Error
	require.ErrorAs(t, err, &engineErr)
	require.Equal(t, KindDoubleFOpts, engineErr.Kind)
	require.Empty(t, app.rxs)
}

func TestConfirmedUplinkApplicationReply(t *testing.T) {
	p, ms, app := newTestProcessor(t)
	ctx := context.Background()
	require.NoError(t, ms.PutLink(ctx, testLink()))

	app.result = AppResult{Send: &models.TxData{
		Port: uint8p(2),
		Data: []byte("OK"),
	}}

	rxq := testRxQ()
	phy := dataUplinkPHY(t, lorawan.ConfirmedDataUp, 6, uint8p(1), []byte{0x17}, lorawan.FCtrl{}, nil)

	action, err := p.ProcessFrame(ctx, testMAC, rxq, phy)
	require.NoError(t, err)
	require.NotNil(t, action)

	require.Len(t, app.rxs, 1)
	require.True(t, app.rxs[0].ShallReply)

	var reply lorawan.PHYPayload
	require.NoError(t, reply.UnmarshalBinary(action.PHYPayload))
	require.Equal(t, lorawan.UnconfirmedDataDown, reply.MHDR.MType)

	var m lorawan.MACPayload
	require.NoError(t, m.Unmarshal(reply.MACPayload))
	require.Equal(t, testDevAddr, m.FHDR.DevAddr)
	require.True(t, m.FHDR.FCtrl.ACK)
	require.Equal(t, uint16(1), m.FHDR.FCnt)
	require.Equal(t, uint8(2), *m.FPort)

	// FRMPayload is the ciphered data, byte-reversed.
	ciphered, err := lorawan.CipherFRMPayload(testAppSKy, 1, testDevAddr, 1, []byte("OK"))
	require.NoError(t, err)
	require.Equal(t, lorawan.Reverse(ciphered), m.FRMPayload)

	mic, err := lorawan.ComputeDataMIC(testNwkKey, 1, testDevAddr, 1, reply.Msg())
	require.NoError(t, err)
	require.Equal(t, mic, reply.MIC)

	link, err := ms.GetLink(ctx, testDevAddr)
	require.NoError(t, err)
	require.Equal(t, uint32(1), link.FCntDown)

	pending, err := ms.GetPending(ctx, testDevAddr)
	require.NoError(t, err)
	require.Equal(t, action.PHYPayload, pending.PHYPayload)
	require.False(t, pending.Confirmed)
}

func TestConfirmedUplinkEmptyReply(t *testing.T) {
	p, ms, _ := newTestProcessor(t)
	ctx := context.Background()
	require.NoError(t, ms.PutLink(ctx, testLink()))

	phy := dataUplinkPHY(t, lorawan.ConfirmedDataUp, 6, nil, nil, lorawan.FCtrl{}, nil)

	action, err := p.ProcessFrame(ctx, testMAC, testRxQ(), phy)
	require.NoError(t, err)

	// A confirmed uplink with nothing queued still gets an ACK-only
	// downlink.
	require.NotNil(t, action)

	var reply lorawan.PHYPayload
	require.NoError(t, reply.UnmarshalBinary(action.PHYPayload))

	var m lorawan.MACPayload
	require.NoError(t, m.Unmarshal(reply.MACPayload))
	require.True(t, m.FHDR.FCtrl.ACK)
	require.Nil(t, m.FPort)
}

func TestUplinkLastLost(t *testing.T) {
	p, ms, app := newTestProcessor(t)
	ctx := context.Background()

	link := testLink()
	require.NoError(t, ms.PutLink(ctx, link))

	confirmed := &models.PendingFrame{
		DevAddr:    testDevAddr,
		PHYPayload: []byte{0xA0, 1, 2, 3},
		Confirmed:  true,
	}
	require.NoError(t, ms.PutPending(ctx, confirmed))

	// No ACK bit: the confirmed downlink was lost.
	phy := dataUplinkPHY(t, lorawan.UnconfirmedDataUp, 6, nil, nil, lorawan.FCtrl{}, nil)
	_, err := p.ProcessFrame(ctx, testMAC, testRxQ(), phy)
	require.NoError(t, err)

	require.Len(t, app.rxs, 1)
	require.True(t, app.rxs[0].LastLost)
	_, err = ms.GetPending(ctx, testDevAddr)
	require.NoError(t, err)

	// ACK settles it.
	phy = dataUplinkPHY(t, lorawan.UnconfirmedDataUp, 7, nil, nil, lorawan.FCtrl{ACK: true}, nil)
	_, err = p.ProcessFrame(ctx, testMAC, testRxQ(), phy)
	require.NoError(t, err)

	require.Len(t, app.rxs, 2)
	require.False(t, app.rxs[1].LastLost)
	_, err = ms.GetPending(ctx, testDevAddr)
	require.Equal(t, storage.ErrNotFound, err)
}

func TestUplinkApplicationRetransmit(t *testing.T) {
	p, ms, app := newTestProcessor(t)
	ctx := context.Background()
	require.NoError(t, ms.PutLink(ctx, testLink()))

	pendingPHY := []byte{0xA0, 9, 8, 7}
	require.NoError(t, ms.PutPending(ctx, &models.PendingFrame{
		DevAddr:    testDevAddr,
		PHYPayload: pendingPHY,
		Confirmed:  true,
	}))

	app.result = AppResult{Retransmit: true}

	phy := dataUplinkPHY(t, lorawan.UnconfirmedDataUp, 6, nil, nil, lorawan.FCtrl{}, nil)
	action, err := p.ProcessFrame(ctx, testMAC, testRxQ(), phy)
	require.NoError(t, err)
	require.NotNil(t, action)
	require.Equal(t, pendingPHY, action.PHYPayload)

	// No counter was spent on the retransmission.
	link, err := ms.GetLink(ctx, testDevAddr)
	require.NoError(t, err)
	require.Equal(t, uint32(0), link.FCntDown)
}

func TestFCntDownAdvancesExactlyOnce(t *testing.T) {
	p, ms, app := newTestProcessor(t)
	ctx := context.Background()
	require.NoError(t, ms.PutLink(ctx, testLink()))

	app.result = AppResult{Send: &models.TxData{Port: uint8p(2), Data: []byte{0x01}}}

	for i, fcnt := range []uint32{6, 7, 8} {
		phy := dataUplinkPHY(t, lorawan.UnconfirmedDataUp, fcnt, nil, nil, lorawan.FCtrl{}, nil)
		action, err := p.ProcessFrame(ctx, testMAC, testRxQ(), phy)
		require.NoError(t, err)
		require.NotNil(t, action)

		link, err := ms.GetLink(ctx, testDevAddr)
		require.NoError(t, err)
		require.Equal(t, uint32(i+1), link.FCntDown)
	}
}

func TestUplinkADRTracking(t *testing.T) {
	p, ms, _ := newTestProcessor(t)
	ctx := context.Background()

	link := testLink()
	link.ADRUse = nil
	link.DevStatFCnt = 3
	link.LastQs = []models.QS{{RSSI: -50, SNR: 7}}
	require.NoError(t, ms.PutLink(ctx, link))

	// First sighting initialises adr_use from the uplink data rate
	// and resets the quality tracking.
	phy := dataUplinkPHY(t, lorawan.UnconfirmedDataUp, 6, nil, nil, lorawan.FCtrl{ADR: true}, nil)
	_, err := p.ProcessFrame(ctx, testMAC, testRxQ(), phy)
	require.NoError(t, err)

	updated, err := ms.GetLink(ctx, testDevAddr)
	require.NoError(t, err)
	require.NotNil(t, updated.ADRUse)
	require.Equal(t, 3, updated.ADRUse.DataRate) // SF9BW125 is DR3 in EU868
	require.True(t, updated.ADRFlagUse)
	require.Equal(t, uint32(0), updated.DevStatFCnt)

	// A data-rate change is tracked and resets the window again.
	rxq := testRxQ()
	rxq.DataRate = "SF7BW125"
	phy = dataUplinkPHY(t, lorawan.UnconfirmedDataUp, 7, nil, nil, lorawan.FCtrl{ADR: true}, nil)
	_, err = p.ProcessFrame(ctx, testMAC, rxq, phy)
	require.NoError(t, err)

	updated, err = ms.GetLink(ctx, testDevAddr)
	require.NoError(t, err)
	require.Equal(t, 5, updated.ADRUse.DataRate)
}

func TestChooseTxWindows(t *testing.T) {
	p, _, _ := newTestProcessor(t)

	region, err := lorawan.GetRegion("EU868")
	require.NoError(t, err)
	link := testLink()

	// Within the RX1 budget.
	rxq := testRxQ()
	txq, err := p.chooseTx(region, link, rxq)
	require.NoError(t, err)
	require.Equal(t, rxq.Freq, txq.Freq)
	require.Equal(t, rxq.Tmst+1000000, txq.Tmst)

	// Past the budget the reply moves to RX2.
	p.now = func() time.Time { return time.Now().Add(2 * time.Second) }
	txq, err = p.chooseTx(region, link, rxq)
	require.NoError(t, err)
	require.Equal(t, 869.525, txq.Freq)
	require.Equal(t, "SF12BW125", txq.DataRate)
	require.Equal(t, rxq.Tmst+2000000, txq.Tmst)
}

func TestProcessFrameDropsDownlinkMTypes(t *testing.T) {
	p, ms, _ := newTestProcessor(t)
	ctx := context.Background()
	require.NoError(t, ms.PutLink(ctx, testLink()))

	// A downlink MType on the uplink path is dropped silently.
	phy := dataUplinkPHY(t, lorawan.UnconfirmedDataUp, 6, nil, nil, lorawan.FCtrl{}, nil)
	phy[0] = byte(lorawan.UnconfirmedDataDown) << 5

	action, err := p.ProcessFrame(ctx, testMAC, testRxQ(), phy)
	require.NoError(t, err)
	require.Nil(t, action)
}
