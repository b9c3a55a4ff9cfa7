package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-server-go/internal/models"
	"github.com/lorawan-server/lorawan-server-go/internal/network"
	"github.com/lorawan-server/lorawan-server-go/internal/storage"
	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

// Dispatcher fans decoded uplinks out to applications over NATS and
// answers the engine's reply decision from the per-device downlink
// queue. It implements network.AppHandler.
type Dispatcher struct {
	nc    *nats.Conn
	store storage.Store
}

// NewDispatcher creates a dispatcher
func NewDispatcher(nc *nats.Conn, store storage.Store) *Dispatcher {
	return &Dispatcher{nc: nc, store: store}
}

// HandleJoin publishes a join event.
func (d *Dispatcher) HandleJoin(ctx context.Context, devAddr lorawan.DevAddr, app, appID, appArgs string) error {
	event := models.JoinEvent{
		DevAddr: devAddr,
		App:     app,
		AppID:   appID,
		AppArgs: appArgs,
		Time:    time.Now().Unix(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("application.%s.device.%s.join", app, devAddr)
	if err := d.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish join event: %w", err)
	}
	return nil
}

// HandleRx publishes the uplink event and pops the device's downlink
// queue for the reply.
func (d *Dispatcher) HandleRx(ctx context.Context, link *models.Link, rx models.RxData, rxq lorawan.RxQ) (network.AppResult, error) {
	event := models.RxEvent{
		DevAddr: link.DevAddr,
		App:     link.App,
		AppID:   link.AppID,
		AppArgs: link.AppArgs,
		RxData:  rx,
		RxQ:     rxq,
		Time:    time.Now().Unix(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return network.AppResult{}, err
	}

	subject := fmt.Sprintf("application.%s.device.%s.rx", link.App, link.DevAddr)
	if err := d.nc.Publish(subject, data); err != nil {
		return network.AppResult{}, fmt.Errorf("publish rx event: %w", err)
	}

	frame, err := d.store.NextTxFrame(ctx, link.DevAddr)
	if err == storage.ErrNotFound {
		return network.AppResult{}, nil
	}
	if err != nil {
		return network.AppResult{}, err
	}

	if err := d.store.DeleteTxFrame(ctx, frame.ID); err != nil {
		return network.AppResult{}, err
	}

	// FPending tells the device more data is waiting.
	pending := false
	if _, err := d.store.NextTxFrame(ctx, link.DevAddr); err == nil {
		pending = true
	} else if err != storage.ErrNotFound {
		return network.AppResult{}, err
	}

	port := frame.Port
	log.Debug().
		Str("devAddr", link.DevAddr.String()).
		Uint8("port", port).
		Bool("pending", pending).
		Msg("dequeued downlink")

	return network.AppResult{Send: &models.TxData{
		Confirmed: frame.Confirmed,
		Port:      &port,
		Data:      frame.Data,
		Pending:   pending,
	}}, nil
}
