package network

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-server-go/internal/models"
	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

func TestProcessStatus(t *testing.T) {
	p, ms, _ := newTestProcessor(t)
	ctx := context.Background()

	err := p.ProcessStatus(ctx, testMAC, models.Stat{
		Lati: 48.858,
		Long: 2.294,
		Alti: 35,
		Desc: "rooftop",
	})
	require.NoError(t, err)

	gw, err := ms.GetGateway(ctx, testMAC)
	require.NoError(t, err)
	require.NotNil(t, gw.LastRX)
	require.Equal(t, 48.858, *gw.Latitude)
	require.Equal(t, 2.294, *gw.Longitude)
	require.Equal(t, 35, *gw.Altitude)
	require.Equal(t, "rooftop", gw.Description)
}

func TestProcessStatusZeroAltitude(t *testing.T) {
	p, ms, _ := newTestProcessor(t)
	ctx := context.Background()

	// Some receivers report a position with a zero altitude: the
	// position is kept, the altitude dropped.
	err := p.ProcessStatus(ctx, testMAC, models.Stat{
		Lati: 48.858,
		Long: 2.294,
	})
	require.NoError(t, err)

	gw, err := ms.GetGateway(ctx, testMAC)
	require.NoError(t, err)
	require.NotNil(t, gw.Latitude)
	require.NotNil(t, gw.Longitude)
	require.Nil(t, gw.Altitude)
}

func TestProcessStatusNoPosition(t *testing.T) {
	p, ms, _ := newTestProcessor(t)
	ctx := context.Background()

	// A report without a fix leaves the stored position alone.
	lat, lon := 1.0, 2.0
	gw, err := ms.GetGateway(ctx, testMAC)
	require.NoError(t, err)
	gw.Latitude = &lat
	gw.Longitude = &lon
	gw.Description = "old"
	require.NoError(t, ms.PutGateway(ctx, gw))

	require.NoError(t, p.ProcessStatus(ctx, testMAC, models.Stat{}))

	gw, err = ms.GetGateway(ctx, testMAC)
	require.NoError(t, err)
	require.Equal(t, 1.0, *gw.Latitude)
	require.Equal(t, 2.0, *gw.Longitude)
	require.Equal(t, "old", gw.Description)
	require.NotNil(t, gw.LastRX)
}

func TestProcessStatusUnknownGateway(t *testing.T) {
	p, _, _ := newTestProcessor(t)

	unknown := lorawan.EUI64{1, 1, 1, 1, 1, 1, 1, 1}
	err := p.ProcessStatus(context.Background(), unknown, models.Stat{})

	var engineErr *Error
	require.ErrorAs(t, err, &engineErr)
	require.Equal(t, KindUnknownMAC, engineErr.Kind)
}
