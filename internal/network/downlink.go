package network

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-server-go/internal/models"
	"github.com/lorawan-server/lorawan-server-go/internal/storage"
	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

// encodeUnicast builds a unicast downlink PHY payload. The fcntdown
// allocation is a transaction of its own, so concurrent downlinks for
// one DevAddr never share a counter value. The finished frame is
// persisted as the pending downlink for the address.
func (p *Processor) encodeUnicast(ctx context.Context, devAddr lorawan.DevAddr, mtype lorawan.MType, ack bool, fopts []byte, txd models.TxData) ([]byte, error) {
	var (
		link *models.Link
		fcnt uint32
	)
	err := p.store.InTransaction(ctx, func(tx storage.Store) error {
		var err error
		link, err = tx.GetLink(ctx, devAddr)
		if err == storage.ErrNotFound {
			return errUnknownDevAddr(devAddr)
		}
		if err != nil {
			return err
		}

		fcnt = (link.FCntDown + 1) & 0xFFFFFFFF
		link.FCntDown = fcnt
		return tx.PutLink(ctx, link)
	})
	if err != nil {
		return nil, err
	}

	phy, err := buildDataDown(mtype, devAddr, link.NwkSKey, link.AppSKey, fcnt, lorawan.FCtrl{
		ADR:      link.ADRFlag(),
		ACK:      ack,
		FPending: txd.Pending,
	}, fopts, txd)
	if err != nil {
		return nil, err
	}

	if err := p.store.PutPending(ctx, &models.PendingFrame{
		DevAddr:    devAddr,
		PHYPayload: phy,
		Confirmed:  txd.Confirmed,
		SentAt:     time.Now(),
	}); err != nil {
		return nil, err
	}

	log.Debug().
		Str("devAddr", devAddr.String()).
		Uint32("fcntDown", fcnt).
		Bool("confirmed", txd.Confirmed).
		Msg("downlink encoded")
	return phy, nil
}

// encodeMulticast builds a multicast downlink. Multicast forbids
// confirmed frames and carries neither ACK nor FOpts.
func (p *Processor) encodeMulticast(ctx context.Context, group *models.MulticastGroup, txd models.TxData) ([]byte, error) {
	if txd.Confirmed {
		return nil, &Error{Kind: KindNotAllowed, ID: group.DevAddr.String()}
	}

	var fcnt uint32
	err := p.store.InTransaction(ctx, func(tx storage.Store) error {
		g, err := tx.GetMulticastGroup(ctx, group.DevAddr)
		if err != nil {
			return err
		}

		fcnt = (g.FCntDown + 1) & 0xFFFFFFFF
		g.FCntDown = fcnt
		group.FCntDown = fcnt
		return tx.PutMulticastGroup(ctx, g)
	})
	if err != nil {
		return nil, err
	}

	return buildDataDown(lorawan.UnconfirmedDataDown, group.DevAddr, group.NwkSKey, group.AppSKey, fcnt, lorawan.FCtrl{}, nil, txd)
}

// buildDataDown assembles and signs a data downlink.
func buildDataDown(mtype lorawan.MType, devAddr lorawan.DevAddr, nwkSKey, appSKey lorawan.AES128Key, fcnt uint32, fctrl lorawan.FCtrl, fopts []byte, txd models.TxData) ([]byte, error) {
	m := lorawan.MACPayload{
		FHDR: lorawan.FHDR{
			DevAddr: devAddr,
			FCtrl:   fctrl,
			FCnt:    uint16(fcnt),
			FOpts:   fopts,
		},
	}

	if txd.Port != nil {
		key := appSKey
		if *txd.Port == 0 {
			key = nwkSKey
		}

		frm, err := lorawan.CipherFRMPayload(key, 1, devAddr, fcnt, txd.Data)
		if err != nil {
			return nil, err
		}

		m.FPort = txd.Port
		m.FRMPayload = lorawan.Reverse(frm)
	}

	macPayload, err := m.Marshal()
	if err != nil {
		return nil, err
	}

	payload := lorawan.PHYPayload{
		MHDR:       lorawan.MHDR{MType: mtype, Major: lorawan.LoRaWAN1_0},
		MACPayload: macPayload,
	}

	mic, err := lorawan.ComputeDataMIC(nwkSKey, 1, devAddr, fcnt, payload.Msg())
	if err != nil {
		return nil, err
	}
	payload.MIC = mic

	return payload.MarshalBinary()
}

// HandleDownlink emits a server-initiated downlink for a link, e.g.
// towards a Class-C device. It transmits on the RX2 parameters at the
// caller-specified time through the gateway the link was last seen on.
func (p *Processor) HandleDownlink(ctx context.Context, link *models.Link, tmst uint32, txd models.TxData) (*Action, error) {
	region, err := lorawan.GetRegion(link.Region)
	if err != nil {
		return nil, err
	}

	mtype := lorawan.UnconfirmedDataDown
	if txd.Confirmed {
		mtype = lorawan.ConfirmedDataDown
	}

	phy, err := p.encodeUnicast(ctx, link.DevAddr, mtype, false, p.macHandler.BuildFOpts(link), txd)
	if err != nil {
		return nil, err
	}

	txq, err := region.RFGroup(link.RXWinUse)
	if err != nil {
		return nil, err
	}
	txq.Tmst = tmst
	txq.Immediately = tmst == 0

	return &Action{MAC: link.LastMAC, TxQ: txq, PHYPayload: phy}, nil
}

// HandleMulticast emits a server-initiated multicast downlink.
func (p *Processor) HandleMulticast(ctx context.Context, group *models.MulticastGroup, tmst uint32, txd models.TxData) (*Action, error) {
	region, err := lorawan.GetRegion(group.Region)
	if err != nil {
		return nil, err
	}

	phy, err := p.encodeMulticast(ctx, group, txd)
	if err != nil {
		return nil, err
	}

	txq, err := region.RFGroup(group.RXWin)
	if err != nil {
		return nil, err
	}
	txq.Tmst = tmst
	txq.Immediately = tmst == 0

	return &Action{MAC: group.LastMAC, TxQ: txq, PHYPayload: phy}, nil
}
