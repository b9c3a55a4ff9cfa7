package network

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-server-go/internal/models"
	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

func TestMACHandlerDevStatusAns(t *testing.T) {
	h := NewMACCommandHandler()
	link := testLink()
	link.DevStat = nil
	link.FCntUp = 42
	frame := &models.RxFrame{}

	fopts, err := h.Handle(testRxQ(), link, []byte{lorawan.DevStatusAns, 0xFE, 0x0A}, frame)
	require.NoError(t, err)

	require.NotNil(t, link.DevStat)
	require.Equal(t, uint8(0xFE), link.DevStat.Battery)
	require.Equal(t, int8(10), link.DevStat.Margin)
	require.Equal(t, uint32(42), link.DevStatFCnt)
	require.Equal(t, link.DevStat, frame.DevStat)

	// The answer satisfies the request, so nothing is piggybacked.
	require.Empty(t, fopts)
}

func TestMACHandlerLinkCheck(t *testing.T) {
	h := NewMACCommandHandler()
	link := testLink()

	rxq := testRxQ()
	rxq.LoRaSNR = 7.5

	fopts, err := h.Handle(rxq, link, []byte{lorawan.LinkCheckReq}, &models.RxFrame{})
	require.NoError(t, err)

	cmds, err := lorawan.ParseMACCommands(false, fopts)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	require.Equal(t, lorawan.LinkCheckAns, cmds[0].CID)
	require.Equal(t, []byte{27, 1}, cmds[0].Payload)
}

func TestMACHandlerLinkADR(t *testing.T) {
	h := NewMACCommandHandler()

	adrSet := lorawan.ADRConfig{TXPower: 2, DataRate: 5, Chans: 0x07}
	flag := true
	link := testLink()
	link.ADRFlagSet = &flag
	link.ADRSet = &adrSet

	// The desired state differs from the used state: a LinkADRReq
	// goes out.
	fopts, err := h.Handle(testRxQ(), link, nil, &models.RxFrame{})
	require.NoError(t, err)

	cmds, err := lorawan.ParseMACCommands(false, fopts)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	require.Equal(t, lorawan.LinkADRReq, cmds[0].CID)
	require.Equal(t, []byte{0x52, 0x07, 0x00, 0x01}, cmds[0].Payload)

	// The device accepts: adr_use follows adr_set, and the request
	// stops.
	fopts, err = h.Handle(testRxQ(), link, []byte{lorawan.LinkADRAns, 0x07}, &models.RxFrame{})
	require.NoError(t, err)
	require.Equal(t, adrSet, *link.ADRUse)
	require.Empty(t, fopts)
}

func TestMACHandlerLinkADRRejected(t *testing.T) {
	h := NewMACCommandHandler()

	adrSet := lorawan.ADRConfig{TXPower: 2, DataRate: 5, Chans: 0x07}
	link := testLink()
	link.ADRSet = &adrSet
	before := *link.ADRUse

	// Channel mask rejected: the used state stays.
	_, err := h.Handle(testRxQ(), link, []byte{lorawan.LinkADRAns, 0x06}, &models.RxFrame{})
	require.NoError(t, err)
	require.Equal(t, before, *link.ADRUse)
}

func TestMACHandlerRXParamSetup(t *testing.T) {
	h := NewMACCommandHandler()

	link := testLink()
	link.RXWinSet = lorawan.RXWin{RX1DROffset: 1, RX2DataRate: 3, RX2Freq: 869.525}

	// Mismatch between set and use produces a request.
	fopts, err := h.Handle(testRxQ(), link, nil, &models.RxFrame{})
	require.NoError(t, err)

	cmds, err := lorawan.ParseMACCommands(false, fopts)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	require.Equal(t, lorawan.RXParamSetupReq, cmds[0].CID)
	// 869.525 MHz in 100 Hz steps, little-endian.
	freq := uint32(link.RXWinSet.RX2Freq * 10000)
	require.Equal(t, []byte{0x13, byte(freq), byte(freq >> 8), byte(freq >> 16)}, cmds[0].Payload)

	// All three accept bits settle the window.
	_, err = h.Handle(testRxQ(), link, []byte{lorawan.RXParamSetupAns, 0x07}, &models.RxFrame{})
	require.NoError(t, err)
	require.Equal(t, link.RXWinSet, link.RXWinUse)
}

func TestMACHandlerQualityWindow(t *testing.T) {
	h := NewMACCommandHandler()
	link := testLink()

	for i := 0; i < qualityWindow+5; i++ {
		_, err := h.Handle(testRxQ(), link, nil, &models.RxFrame{})
		require.NoError(t, err)
	}

	require.Len(t, link.LastQs, qualityWindow)
}

func TestMACHandlerMalformedFOpts(t *testing.T) {
	h := NewMACCommandHandler()
	link := testLink()

	// Truncated and unknown commands are ignored, not fatal.
	_, err := h.Handle(testRxQ(), link, []byte{lorawan.DevStatusAns, 0x01}, &models.RxFrame{})
	require.NoError(t, err)

	_, err = h.Handle(testRxQ(), link, []byte{0x7F}, &models.RxFrame{})
	require.NoError(t, err)
}

func TestMACHandlerDevStatusPeriod(t *testing.T) {
	h := NewMACCommandHandler()

	link := testLink()
	link.DevStatFCnt = 0
	link.FCntUp = devStatPeriod

	// The status answer has aged out by devStatPeriod frames: a new
	// request goes out.
	fopts, err := h.Handle(testRxQ(), link, nil, &models.RxFrame{})
	require.NoError(t, err)

	cmds, err := lorawan.ParseMACCommands(false, fopts)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	require.Equal(t, lorawan.DevStatusReq, cmds[0].CID)
}
