package network

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-server-go/internal/models"
	"github.com/lorawan-server/lorawan-server-go/internal/storage"
	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

const (
	// maxFCntGap is the widest forward gap accepted by the strict
	// counter modes.
	maxFCntGap = 16384

	// maxLostAfterReset bounds the counter value accepted as a
	// device reset.
	maxLostAfterReset = 10
)

// fcntClass is the outcome of frame-counter classification.
type fcntClass int

const (
	fcntNew fcntClass = iota
	fcntRetransmit
	fcntReset
)

// classifyFCnt classifies a received 16-bit frame counter against the
// stored 32-bit session counter and returns the new session counter
// value. With a 16-bit wire counter a genuine device reset cannot be
// told apart from a rollover past 0xFFFF; behaviour follows the
// configured check mode.
func classifyFCnt(mode models.FCntCheck, stored uint32, rx uint16) (fcntClass, uint32, bool) {
	relaxed := mode == models.FCntCheckResetAllowed || mode == models.FCntCheckDisabled

	switch {
	case relaxed && uint32(rx) < stored && rx < maxLostAfterReset:
		return fcntReset, uint32(rx), true

	case mode == models.FCntCheckDisabled:
		return fcntNew, uint32(rx), true

	case rx == uint16(stored):
		return fcntRetransmit, stored, true

	case mode == models.FCntCheckStrict32:
		gap := uint32(rx-uint16(stored)) & 0xFFFF
		if gap < maxFCntGap {
			return fcntNew, stored + gap, true
		}
		return 0, 0, false

	default:
		// strict-16 (and reset-allowed above the reset window).
		gap := uint32(rx-uint16(stored)) & 0xFFFF
		if gap < maxFCntGap {
			return fcntNew, uint32(rx), true
		}
		return 0, 0, false
	}
}

// handleDataUp processes a confirmed or unconfirmed data uplink.
func (p *Processor) handleDataUp(ctx context.Context, gw *models.Gateway, rxq lorawan.RxQ, phy *lorawan.PHYPayload) (*Action, error) {
	var m lorawan.MACPayload
	if err := m.Unmarshal(phy.MACPayload); err != nil {
		return nil, errBadFrame(phy.MACPayload)
	}
	devAddr := m.FHDR.DevAddr

	// Step 1: uplinks matching an ignored-link pattern are dropped
	// before MIC verification.
	ignored, err := p.store.ListIgnored(ctx)
	if err != nil {
		return nil, err
	}
	for _, pattern := range ignored {
		if pattern.Matches(devAddr) {
			log.Debug().Str("devAddr", devAddr.String()).Msg("ignoring uplink")
			return nil, nil
		}
	}

	// Steps 2-4: session lookup, counter classification and MIC
	// verification run in one transaction, so concurrent uplinks for
	// the same DevAddr linearise on the link row.
	var (
		link  *models.Link
		class fcntClass
		fcnt  uint32
	)
	err = p.store.InTransaction(ctx, func(tx storage.Store) error {
		var err error
		link, err = tx.GetLink(ctx, devAddr)
		if err == storage.ErrNotFound {
			return errUnknownDevAddr(devAddr)
		}
		if err != nil {
			return err
		}

		var ok bool
		class, fcnt, ok = classifyFCnt(link.FCntCheck, link.FCntUp, m.FHDR.FCnt)
		if !ok {
			return errFCntGap(devAddr, uint32(m.FHDR.FCnt))
		}

		expected, err := lorawan.ComputeDataMIC(link.NwkSKey, phy.MHDR.MType.Dir(), devAddr, fcnt, phy.Msg())
		if err != nil {
			return err
		}
		if expected != phy.MIC {
			return errBadMIC(devAddr)
		}

		switch class {
		case fcntNew:
			link.FCntUp = fcnt
		case fcntReset:
			region, err := lorawan.GetRegion(link.Region)
			if err != nil {
				return err
			}
			now := time.Now()
			adrUse := region.DefaultADR()
			link.FCntUp = fcnt
			link.ADRUse = &adrUse
			link.RXWinUse = region.DefaultRXWin()
			link.LastReset = &now
			if err := tx.DeletePending(ctx, devAddr); err != nil {
				return err
			}
			if err := tx.PurgeTxFrames(ctx, devAddr); err != nil {
				return err
			}
		}

		if class != fcntRetransmit {
			return tx.PutLink(ctx, link)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Step 5: payload decrypt. FPort 0 carries MAC commands under
	// NwkSKey; anything else is application data under AppSKey. The
	// direction byte is MType&1 in both cases.
	if m.FPort != nil && *m.FPort == 0 && len(m.FHDR.FOpts) > 0 {
		return nil, &Error{Kind: KindDoubleFOpts, ID: devAddr.String()}
	}

	var data []byte
	if m.FPort != nil {
		key := link.AppSKey
		if *m.FPort == 0 {
			key = link.NwkSKey
		}
		data, err = lorawan.CipherFRMPayload(key, phy.MHDR.MType.Dir(), devAddr, fcnt, m.FRMPayload)
		if err != nil {
			return nil, err
		}
	}

	frame := &models.RxFrame{
		MAC:        gw.MAC,
		RxQ:        rxq,
		App:        link.App,
		AppID:      link.AppID,
		DevAddr:    devAddr,
		FCnt:       fcnt,
		Port:       m.FPort,
		Data:       data,
		ReceivedAt: time.Now(),
	}

	// Step 6: a retransmission is logged and answered with the
	// pending downlink, if any, in RX1.
	if class == fcntRetransmit {
		if err := p.store.PutRxFrame(ctx, frame); err != nil {
			return nil, err
		}

		pending, err := p.store.GetPending(ctx, devAddr)
		if err == storage.ErrNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		region, err := lorawan.GetRegion(link.Region)
		if err != nil {
			return nil, err
		}
		txq, err := region.RX1Window(link.RXWinUse, rxq, lorawan.DataDelay)
		if err != nil {
			return nil, err
		}

		log.Debug().
			Str("devAddr", devAddr.String()).
			Uint32("fcnt", fcnt).
			Msg("retransmitting pending downlink")
		return &Action{MAC: gw.MAC, TxQ: txq, PHYPayload: pending.PHYPayload}, nil
	}

	return p.processNewUplink(ctx, gw, rxq, phy, &m, link, fcnt, data, frame)
}

// processNewUplink runs step 7: ADR tracking, MAC commands, logging,
// the application dispatch and the reply decision.
func (p *Processor) processNewUplink(ctx context.Context, gw *models.Gateway, rxq lorawan.RxQ, phy *lorawan.PHYPayload, m *lorawan.MACPayload, link *models.Link, fcnt uint32, data []byte, frame *models.RxFrame) (*Action, error) {
	region, err := lorawan.GetRegion(link.Region)
	if err != nil {
		return nil, err
	}

	// ADR tracking: watch the ADR bit and the transmit data rate.
	rxDR, err := region.DatarToDR(rxq.DataRate)
	if err != nil {
		return nil, err
	}
	trackADR(link, m.FHDR.FCtrl.ADR, rxDR)

	// MAC commands: FOpts from the FHDR, or the decrypted FRMPayload
	// byte-reversed when FPort is 0.
	foptsIn := m.FHDR.FOpts
	if m.FPort != nil && *m.FPort == 0 {
		foptsIn = lorawan.Reverse(data)
	}

	foptsOut, err := p.macHandler.Handle(rxq, link, foptsIn, frame)
	if err != nil {
		return nil, err
	}

	// Persist the updated link and the RX log entry.
	now := time.Now()
	link.LastRX = &now
	link.LastMAC = gw.MAC
	link.LastRxQ = &rxq
	if err := p.store.PutLink(ctx, link); err != nil {
		return nil, err
	}
	if err := p.store.PutRxFrame(ctx, frame); err != nil {
		return nil, err
	}

	// A pending confirmed downlink that this uplink does not ACK was
	// lost; one that it does ACK is settled.
	var pendingPHY []byte
	lastLost := false
	pending, err := p.store.GetPending(ctx, link.DevAddr)
	if err != nil && err != storage.ErrNotFound {
		return nil, err
	}
	if pending != nil {
		pendingPHY = pending.PHYPayload
		if pending.Confirmed {
			if m.FHDR.FCtrl.ACK {
				if err := p.store.DeletePending(ctx, link.DevAddr); err != nil {
					return nil, err
				}
			} else {
				lastLost = true
			}
		}
	}

	confirmed := phy.MHDR.MType == lorawan.ConfirmedDataUp
	shallReply := confirmed || m.FHDR.FCtrl.ADRACKReq || len(foptsOut) > 0

	rx := models.RxData{
		FCnt:       fcnt,
		Port:       m.FPort,
		Data:       data,
		LastLost:   lastLost,
		ShallReply: shallReply,
	}

	result, err := p.app.HandleRx(ctx, link, rx, rxq)
	if err != nil {
		return nil, err
	}

	switch {
	case result.Retransmit:
		if pendingPHY == nil {
			return nil, nil
		}
		txq, err := p.chooseTx(region, link, rxq)
		if err != nil {
			return nil, err
		}
		return &Action{MAC: gw.MAC, TxQ: txq, PHYPayload: pendingPHY}, nil

	case result.Send != nil:
		return p.replyDownlink(ctx, gw, region, link, rxq, confirmed, foptsOut, *result.Send)

	case shallReply:
		return p.replyDownlink(ctx, gw, region, link, rxq, confirmed, foptsOut, models.TxData{})

	default:
		return nil, nil
	}
}

// trackADR updates the link's observed ADR state from an uplink. Any
// change resets the device-status and quality tracking.
func trackADR(link *models.Link, adrBit bool, rxDR int) {
	changed := false

	if link.ADRUse == nil {
		// Transmit power and channel mask are unknown until the
		// device answers a LinkADRReq.
		link.ADRUse = &lorawan.ADRConfig{TXPower: -1, DataRate: rxDR}
		changed = true
	} else if link.ADRUse.DataRate != rxDR {
		link.ADRUse.DataRate = rxDR
		changed = true
	}

	if link.ADRFlagUse != adrBit {
		link.ADRFlagUse = adrBit
		changed = true
	}

	if changed {
		link.DevStatFCnt = 0
		link.LastQs = nil
	}
}

// replyDownlink builds the unicast reply to an uplink.
func (p *Processor) replyDownlink(ctx context.Context, gw *models.Gateway, region *lorawan.RegionConfiguration, link *models.Link, rxq lorawan.RxQ, ack bool, fopts []byte, txd models.TxData) (*Action, error) {
	mtype := lorawan.UnconfirmedDataDown
	if txd.Confirmed {
		mtype = lorawan.ConfirmedDataDown
	}

	phy, err := p.encodeUnicast(ctx, link.DevAddr, mtype, ack, fopts, txd)
	if err != nil {
		return nil, err
	}

	txq, err := p.chooseTx(region, link, rxq)
	if err != nil {
		return nil, err
	}

	return &Action{MAC: gw.MAC, TxQ: txq, PHYPayload: phy}, nil
}

// chooseTx picks RX1 while there is enough of the delay budget left,
// RX2 otherwise.
func (p *Processor) chooseTx(region *lorawan.RegionConfiguration, link *models.Link, rxq lorawan.RxQ) (lorawan.TxQ, error) {
	elapsed := p.monoMillis() - rxq.SrvTmst
	budget := region.RX1Delay(lorawan.DataDelay).Milliseconds() - p.preprocessingDelay.Milliseconds()

	if elapsed < budget {
		return region.RX1Window(link.RXWinUse, rxq, lorawan.DataDelay)
	}
	return region.RX2Window(link.RXWinUse, rxq, lorawan.DataDelay)
}
