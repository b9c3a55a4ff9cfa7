package network

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-server-go/internal/models"
	"github.com/lorawan-server/lorawan-server-go/internal/storage"
	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

// ProcessStatus updates a gateway row from a status report. Some
// receivers report a position with a zero altitude; the position is
// kept and the altitude dropped.
func (p *Processor) ProcessStatus(ctx context.Context, mac lorawan.EUI64, stat models.Stat) error {
	gw, err := p.store.GetGateway(ctx, mac)
	if err == storage.ErrNotFound {
		return errUnknownMAC(mac)
	}
	if err != nil {
		return err
	}

	now := time.Now()
	gw.LastRX = &now

	if stat.Lati != 0 && stat.Long != 0 {
		lat, lon := stat.Lati, stat.Long
		gw.Latitude = &lat
		gw.Longitude = &lon

		if stat.Alti != 0 {
			alt := stat.Alti
			gw.Altitude = &alt
		}
	}

	if stat.Desc != "" {
		gw.Description = stat.Desc
	}

	if err := p.store.PutGateway(ctx, gw); err != nil {
		return err
	}

	log.Debug().Str("mac", mac.String()).Msg("gateway status updated")
	return nil
}
