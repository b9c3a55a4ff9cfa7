package network

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-server-go/internal/config"
	"github.com/lorawan-server/lorawan-server-go/internal/models"
	"github.com/lorawan-server/lorawan-server-go/internal/storage"
	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

// Action is a transmit order handed back to the gateway transport.
type Action struct {
	MAC        lorawan.EUI64 `json:"mac"`
	TxQ        lorawan.TxQ   `json:"txq"`
	PHYPayload []byte        `json:"phyPayload"`
}

// AppResult is the application dispatcher's answer to an uplink.
// Zero value means "ok, nothing to send".
type AppResult struct {
	// Retransmit requests retransmission of the pending downlink.
	Retransmit bool

	// Send carries application downlink data for the reply.
	Send *models.TxData
}

// AppHandler is the application dispatcher contract.
type AppHandler interface {
	HandleJoin(ctx context.Context, devAddr lorawan.DevAddr, app, appID, appArgs string) error
	HandleRx(ctx context.Context, link *models.Link, rx models.RxData, rxq lorawan.RxQ) (AppResult, error)
}

// Processor is the MAC protocol engine. It converts raw PHY payloads
// into application events and assembles the downlinks transmitted in
// the device receive windows.
type Processor struct {
	nc         *nats.Conn
	store      storage.Store
	app        AppHandler
	macHandler *MACCommandHandler
	netID      lorawan.NetID

	// preprocessingDelay is subtracted from the RX1 budget when
	// deciding between the receive windows.
	preprocessingDelay time.Duration

	workers int

	// now is the server wall clock, overridable in tests.
	now func() time.Time
}

// NewProcessor creates a processor
func NewProcessor(nc *nats.Conn, store storage.Store, app AppHandler, cfg *config.Config) (*Processor, error) {
	netID, err := lorawan.ParseNetID(cfg.Network.NetID)
	if err != nil {
		return nil, fmt.Errorf("parse net_id: %w", err)
	}

	workers := cfg.Network.Workers
	if workers <= 0 {
		workers = 8
	}

	return &Processor{
		nc:                 nc,
		store:              store,
		app:                app,
		macHandler:         NewMACCommandHandler(),
		netID:              netID,
		preprocessingDelay: cfg.Network.PreprocessingDelay,
		workers:            workers,
		now:                time.Now,
	}, nil
}

// ProcessFrame processes one raw PHY payload received by a gateway.
// A nil Action with nil error means there is nothing to send.
func (p *Processor) ProcessFrame(ctx context.Context, mac lorawan.EUI64, rxq lorawan.RxQ, phy []byte) (*Action, error) {
	gw, err := p.store.GetGateway(ctx, mac)
	if err == storage.ErrNotFound {
		return nil, errUnknownMAC(mac)
	}
	if err != nil {
		return nil, err
	}

	var payload lorawan.PHYPayload
	if err := payload.UnmarshalBinary(phy); err != nil {
		return nil, errBadFrame(phy)
	}

	switch payload.MHDR.MType {
	case lorawan.JoinRequest:
		return p.handleJoinRequest(ctx, gw, rxq, &payload)
	case lorawan.UnconfirmedDataUp, lorawan.ConfirmedDataUp:
		return p.handleDataUp(ctx, gw, rxq, &payload)
	}

	// Downlink MTypes arriving on the uplink path are dropped
	// silently.
	log.Debug().
		Str("mac", mac.String()).
		Uint8("mtype", uint8(payload.MHDR.MType)).
		Msg("dropping frame with unexpected MType")
	return nil, nil
}

// Start subscribes to the gateway uplink subjects and processes frames
// on a worker pool until the context is cancelled. Each packet is
// handled end to end by one worker.
func (p *Processor) Start(ctx context.Context) error {
	uplinks := make(chan *nats.Msg, 64)

	subRx, err := p.nc.ChanSubscribe("gateway.*.rx", uplinks)
	if err != nil {
		return fmt.Errorf("subscribe gateway rx: %w", err)
	}
	defer subRx.Unsubscribe()

	subStat, err := p.nc.Subscribe("gateway.*.stats", func(msg *nats.Msg) {
		var sm models.StatusMessage
		if err := json.Unmarshal(msg.Data, &sm); err != nil {
			log.Warn().Err(err).Msg("bad status message")
			return
		}
		if err := p.ProcessStatus(ctx, sm.MAC, sm.Stat); err != nil {
			log.Warn().Err(err).Str("mac", sm.MAC.String()).Msg("status report failed")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe gateway stats: %w", err)
	}
	defer subStat.Unsubscribe()

	log.Info().Int("workers", p.workers).Msg("network processor started")

	for i := 0; i < p.workers; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-uplinks:
					p.handleUplinkMessage(ctx, msg)
				}
			}
		}()
	}

	<-ctx.Done()
	return ctx.Err()
}

func (p *Processor) handleUplinkMessage(ctx context.Context, msg *nats.Msg) {
	var um models.UplinkMessage
	if err := json.Unmarshal(msg.Data, &um); err != nil {
		log.Warn().Err(err).Msg("bad uplink message")
		return
	}

	action, err := p.ProcessFrame(ctx, um.MAC, um.RxQ, um.PHYPayload)
	if err != nil {
		log.Warn().Err(err).Str("mac", um.MAC.String()).Msg("uplink rejected")
		return
	}
	if action == nil {
		return
	}

	p.emit(action)
}

// emit publishes a transmit order for the gateway bridge.
func (p *Processor) emit(action *Action) {
	data, err := json.Marshal(models.DownlinkMessage{
		MAC:        action.MAC,
		TxQ:        action.TxQ,
		PHYPayload: action.PHYPayload,
	})
	if err != nil {
		log.Error().Err(err).Msg("marshal downlink message")
		return
	}

	subject := fmt.Sprintf("gateway.%s.tx", action.MAC)
	if err := p.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("publish downlink")
	}
}

// monoMillis returns the server wall clock in Unix milliseconds, the
// same timebase the gateway bridge stamps into RxQ.SrvTmst. It is not
// monotonic: a clock step shifts the RX1/RX2 choice.
func (p *Processor) monoMillis() int64 {
	return p.now().UnixMilli()
}
