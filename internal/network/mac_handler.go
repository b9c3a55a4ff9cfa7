package network

import (
	"encoding/binary"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-server-go/internal/models"
	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

const (
	// qualityWindow is the number of samples kept in last_qs.
	qualityWindow = 20

	// devStatPeriod is the number of frames between device-status
	// requests.
	devStatPeriod = 100
)

// MACCommandHandler consumes the MAC commands piggybacked on uplinks
// and produces the FOpts for the next downlink. It owns the devstat
// and link-quality bookkeeping on the link record.
type MACCommandHandler struct{}

// NewMACCommandHandler creates a MAC command handler
func NewMACCommandHandler() *MACCommandHandler {
	return &MACCommandHandler{}
}

// Handle processes the uplink FOpts against the link state and returns
// the FOpts to piggyback on the reply.
func (h *MACCommandHandler) Handle(rxq lorawan.RxQ, link *models.Link, foptsIn []byte, frame *models.RxFrame) ([]byte, error) {
	link.LastQs = append(link.LastQs, models.QS{RSSI: rxq.RSSI, SNR: rxq.LoRaSNR})
	if len(link.LastQs) > qualityWindow {
		link.LastQs = link.LastQs[len(link.LastQs)-qualityWindow:]
	}

	commands, err := lorawan.ParseMACCommands(true, foptsIn)
	if err != nil {
		// Malformed MAC commands do not fail the frame.
		log.Warn().Err(err).Str("devAddr", link.DevAddr.String()).Msg("ignoring MAC commands")
		commands = nil
	}

	var responses []lorawan.MACCommand
	for _, cmd := range commands {
		switch cmd.CID {
		case lorawan.LinkCheckReq:
			responses = append(responses, h.linkCheckAns(rxq))

		case lorawan.LinkADRAns:
			h.handleLinkADRAns(link, cmd.Payload)

		case lorawan.DevStatusAns:
			h.handleDevStatusAns(link, frame, cmd.Payload)

		case lorawan.RXParamSetupAns:
			h.handleRXParamSetupAns(link, cmd.Payload)

		default:
			log.Debug().
				Uint8("cid", cmd.CID).
				Str("devAddr", link.DevAddr.String()).
				Msg("unhandled MAC command")
		}
	}

	responses = append(responses, h.requests(link)...)
	return lorawan.EncodeMACCommands(responses), nil
}

// BuildFOpts returns the pending MAC command requests for a
// server-initiated downlink.
func (h *MACCommandHandler) BuildFOpts(link *models.Link) []byte {
	return lorawan.EncodeMACCommands(h.requests(link))
}

// linkCheckAns answers a link check with the demodulation margin and
// the number of receiving gateways.
func (h *MACCommandHandler) linkCheckAns(rxq lorawan.RxQ) lorawan.MACCommand {
	// SF12 demodulates down to roughly -20 dB SNR.
	margin := int(rxq.LoRaSNR) + 20
	if margin < 0 {
		margin = 0
	}
	if margin > 254 {
		margin = 254
	}

	return lorawan.MACCommand{
		CID:     lorawan.LinkCheckAns,
		Payload: []byte{byte(margin), 1},
	}
}

// handleLinkADRAns applies an accepted ADR request to the used state.
func (h *MACCommandHandler) handleLinkADRAns(link *models.Link, payload []byte) {
	if len(payload) != 1 {
		return
	}

	status := payload[0]
	accepted := status&0x07 == 0x07

	log.Debug().
		Str("devAddr", link.DevAddr.String()).
		Bool("accepted", accepted).
		Msg("LinkADRAns")

	if accepted && link.ADRSet != nil {
		set := *link.ADRSet
		link.ADRUse = &set
	}
}

// handleDevStatusAns records the reported battery level and margin.
func (h *MACCommandHandler) handleDevStatusAns(link *models.Link, frame *models.RxFrame, payload []byte) {
	if len(payload) != 2 {
		return
	}

	stat := &models.DevStat{
		Battery: payload[0],
		Margin:  int8(payload[1]),
	}
	link.DevStat = stat
	link.DevStatFCnt = link.FCntUp
	frame.DevStat = stat

	log.Debug().
		Str("devAddr", link.DevAddr.String()).
		Uint8("battery", stat.Battery).
		Int8("margin", stat.Margin).
		Msg("device status")
}

// handleRXParamSetupAns applies accepted RX window parameters.
func (h *MACCommandHandler) handleRXParamSetupAns(link *models.Link, payload []byte) {
	if len(payload) != 1 {
		return
	}

	if payload[0]&0x07 == 0x07 {
		link.RXWinUse = link.RXWinSet
	}
}

// requests builds the MAC command requests due for a link.
func (h *MACCommandHandler) requests(link *models.Link) []lorawan.MACCommand {
	var commands []lorawan.MACCommand

	if link.DevStat == nil || link.FCntUp-link.DevStatFCnt >= devStatPeriod {
		commands = append(commands, lorawan.MACCommand{CID: lorawan.DevStatusReq})
	}

	if link.ADRFlag() && link.ADRSet != nil &&
		(link.ADRUse == nil || *link.ADRUse != *link.ADRSet) {
		commands = append(commands, h.linkADRReq(link.ADRSet))
	}

	if link.RXWinUse != link.RXWinSet {
		commands = append(commands, h.rxParamSetupReq(link.RXWinSet))
	}

	return commands
}

// linkADRReq encodes the desired data rate, power and channel mask.
func (h *MACCommandHandler) linkADRReq(set *lorawan.ADRConfig) lorawan.MACCommand {
	payload := make([]byte, 4)
	payload[0] = byte(set.DataRate&0x0F)<<4 | byte(set.TXPower&0x0F)
	binary.LittleEndian.PutUint16(payload[1:3], uint16(set.Chans))
	payload[3] = 0x01 // ChMaskCntl 0, NbTrans 1

	return lorawan.MACCommand{CID: lorawan.LinkADRReq, Payload: payload}
}

// rxParamSetupReq encodes the desired RX window parameters. The
// frequency transits in 100 Hz steps, little-endian.
func (h *MACCommandHandler) rxParamSetupReq(set lorawan.RXWin) lorawan.MACCommand {
	payload := make([]byte, 4)
	payload[0] = (set.RX1DROffset&0x07)<<4 | set.RX2DataRate&0x0F

	freq := uint32(set.RX2Freq * 10000)
	payload[1] = byte(freq)
	payload[2] = byte(freq >> 8)
	payload[3] = byte(freq >> 16)

	return lorawan.MACCommand{CID: lorawan.RXParamSetupReq, Payload: payload}
}
