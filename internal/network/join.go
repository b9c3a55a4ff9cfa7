package network

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-server-go/internal/models"
	"github.com/lorawan-server/lorawan-server-go/internal/storage"
	"github.com/lorawan-server/lorawan-server-go/pkg/crypto"
	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

// handleJoinRequest validates a join-request, derives the session keys,
// replaces the link atomically and answers with an encrypted
// join-accept in the RX1 window.
func (p *Processor) handleJoinRequest(ctx context.Context, gw *models.Gateway, rxq lorawan.RxQ, phy *lorawan.PHYPayload) (*Action, error) {
	var jr lorawan.JoinRequestPayload
	if err := jr.Unmarshal(phy.MACPayload); err != nil {
		return nil, errBadFrame(phy.MACPayload)
	}

	device, err := p.store.GetDevice(ctx, jr.DevEUI)
	if err == storage.ErrNotFound {
		return nil, errUnknownDevEUI(jr.DevEUI)
	}
	if err != nil {
		return nil, err
	}

	// A device that may not join is accepted silently: no reply, no
	// state change.
	if !device.CanJoin {
		log.Debug().Str("devEUI", jr.DevEUI.String()).Msg("join not permitted, ignoring")
		return nil, nil
	}

	mic, err := lorawan.ComputeMIC(device.AppKey, phy.Msg())
	if err != nil {
		return nil, err
	}
	if mic != phy.MIC {
		return nil, errBadMIC(jr.DevEUI)
	}

	region, err := lorawan.GetRegion(device.Region)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", jr.DevEUI, err)
	}

	nonce, err := crypto.RandomBytes(3)
	if err != nil {
		return nil, fmt.Errorf("generate AppNonce: %w", err)
	}
	var appNonce [3]byte
	copy(appNonce[:], nonce)

	nwkSKey, appSKey, err := lorawan.DeriveSessionKeys(device.AppKey, appNonce, p.netID, jr.DevNonce)
	if err != nil {
		return nil, fmt.Errorf("derive session keys: %w", err)
	}

	var link *models.Link
	err = p.store.InTransaction(ctx, func(tx storage.Store) error {
		dev, err := tx.GetDevice(ctx, jr.DevEUI)
		if err != nil {
			return err
		}

		var devAddr lorawan.DevAddr
		if dev.DevAddr != nil {
			// Reused on re-join; the NwkID bits are not
			// re-validated against the current NetID.
			devAddr = *dev.DevAddr
			log.Debug().
				Str("devEUI", dev.DevEUI.String()).
				Str("devAddr", devAddr.String()).
				Msg("reusing DevAddr")
		} else {
			devAddr, err = newDevAddr(p.netID)
			if err != nil {
				return err
			}
		}

		now := time.Now()
		dev.DevAddr = &devAddr
		dev.LastJoin = &now
		if err := tx.PutDevice(ctx, dev); err != nil {
			return err
		}

		adrUse := region.DefaultADR()
		rxwinUse := region.DefaultRXWin()
		rxwinSet := rxwinUse
		if dev.RXWinSet != nil {
			rxwinSet = *dev.RXWinSet
		}

		link = &models.Link{
			DevAddr:    devAddr,
			DevEUI:     dev.DevEUI,
			Region:     dev.Region,
			App:        dev.App,
			AppID:      dev.AppID,
			AppArgs:    dev.AppArgs,
			NwkSKey:    nwkSKey,
			AppSKey:    appSKey,
			FCntUp:     0,
			FCntDown:   0,
			FCntCheck:  dev.FCntCheck,
			ADRFlagSet: dev.ADRFlagSet,
			ADRUse:     &adrUse,
			ADRSet:     dev.ADRSet,
			RXWinUse:   rxwinUse,
			RXWinSet:   rxwinSet,
			LastMAC:    gw.MAC,
			LastRxQ:    &rxq,
			CreatedAt:  now,
		}
		if err := tx.PutLink(ctx, link); err != nil {
			return err
		}

		if err := tx.DeletePending(ctx, devAddr); err != nil {
			return err
		}
		return tx.PurgeTxFrames(ctx, devAddr)
	})
	if err != nil {
		return nil, err
	}

	if err := p.app.HandleJoin(ctx, link.DevAddr, link.App, link.AppID, link.AppArgs); err != nil {
		return nil, err
	}

	return p.buildJoinAccept(gw, rxq, device.AppKey, region, link, appNonce)
}

// buildJoinAccept assembles and encrypts the join-accept reply.
func (p *Processor) buildJoinAccept(gw *models.Gateway, rxq lorawan.RxQ, appKey lorawan.AES128Key, region *lorawan.RegionConfiguration, link *models.Link, appNonce [3]byte) (*Action, error) {
	ja := lorawan.JoinAcceptPayload{
		AppNonce: appNonce,
		NetID:    p.netID,
		DevAddr:  link.DevAddr,
		// DLSettings: RX1DROffset 0, RX2 data rate per region.
		DLSettings: region.RX2DR() & 0x0F,
		RXDelay:    1,
	}

	payload := lorawan.PHYPayload{
		MHDR:       lorawan.MHDR{MType: lorawan.JoinAccept, Major: lorawan.LoRaWAN1_0},
		MACPayload: ja.Marshal(),
	}

	mic, err := lorawan.ComputeMIC(appKey, payload.Msg())
	if err != nil {
		return nil, err
	}

	// The join-accept is "encrypted" with an ECB decrypt so that the
	// device recovers it by encrypting.
	encrypted, err := lorawan.EncryptJoinAccept(appKey, append(payload.MACPayload, mic[:]...))
	if err != nil {
		return nil, err
	}
	payload.MACPayload = encrypted

	phy, err := payload.MarshalBinary()
	if err != nil {
		return nil, err
	}

	txq, err := region.RX1Window(link.RXWinUse, rxq, lorawan.JoinDelay)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("devEUI", link.DevEUI.String()).
		Str("devAddr", link.DevAddr.String()).
		Msg("device joined")

	return &Action{MAC: gw.MAC, TxQ: txq, PHYPayload: phy}, nil
}

// newDevAddr allocates a random device address carrying the NwkID
// prefix: NwkID(7 bits) | 0 | random(24 bits).
func newDevAddr(netID lorawan.NetID) (lorawan.DevAddr, error) {
	var devAddr lorawan.DevAddr

	b, err := crypto.RandomBytes(3)
	if err != nil {
		return devAddr, err
	}

	devAddr[0] = netID.NwkID() << 1
	copy(devAddr[1:], b)
	return devAddr, nil
}
