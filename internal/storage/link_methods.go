package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lorawan-server/lorawan-server-go/internal/models"
	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

// GetLink gets a link by DevAddr
func (s *PostgresStore) GetLink(ctx context.Context, devAddr lorawan.DevAddr) (*models.Link, error) {
	query := `
		SELECT dev_addr, dev_eui, region, app, app_id, app_args,
		       nwks_key, apps_key, fcntup, fcntdown, fcnt_check,
		       adr_flag_use, adr_flag_set, adr_use, adr_set,
		       rxwin_use, rxwin_set, last_mac, last_rxq,
		       devstat, devstat_fcnt, last_qs, last_rx, last_reset,
		       created_at
		FROM links
		WHERE dev_addr = $1`

	var (
		link      models.Link
		fcntUp    int64
		fcntDown  int64
		fcntCheck int
		adrUse    []byte
		adrSet    []byte
		rxwinUse  []byte
		rxwinSet  []byte
		lastRxQ   []byte
		devStat   []byte
		lastQs    []byte
	)
	err := s.getDB().QueryRowContext(ctx, query, devAddr).Scan(
		&link.DevAddr, &link.DevEUI, &link.Region,
		&link.App, &link.AppID, &link.AppArgs,
		&link.NwkSKey, &link.AppSKey, &fcntUp, &fcntDown, &fcntCheck,
		&link.ADRFlagUse, &link.ADRFlagSet, &adrUse, &adrSet,
		&rxwinUse, &rxwinSet, &link.LastMAC, &lastRxQ,
		&devStat, &link.DevStatFCnt, &lastQs, &link.LastRX, &link.LastReset,
		&link.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	link.FCntUp = uint32(fcntUp)
	link.FCntDown = uint32(fcntDown)
	link.FCntCheck = models.FCntCheck(fcntCheck)

	for _, col := range []struct {
		src []byte
		dst interface{}
	}{
		{adrUse, &link.ADRUse},
		{adrSet, &link.ADRSet},
		{rxwinUse, &link.RXWinUse},
		{rxwinSet, &link.RXWinSet},
		{lastRxQ, &link.LastRxQ},
		{devStat, &link.DevStat},
		{lastQs, &link.LastQs},
	} {
		if err := jsonScan(col.src, col.dst); err != nil {
			return nil, err
		}
	}

	return &link, nil
}

// PutLink inserts or replaces a link. A re-join replaces the session
// atomically through this upsert.
func (s *PostgresStore) PutLink(ctx context.Context, link *models.Link) error {
	query := `
		INSERT INTO links (
			dev_addr, dev_eui, region, app, app_id, app_args,
			nwks_key, apps_key, fcntup, fcntdown, fcnt_check,
			adr_flag_use, adr_flag_set, adr_use, adr_set,
			rxwin_use, rxwin_set, last_mac, last_rxq,
			devstat, devstat_fcnt, last_qs, last_rx, last_reset,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25
		)
		ON CONFLICT (dev_addr) DO UPDATE SET
			dev_eui = EXCLUDED.dev_eui, region = EXCLUDED.region,
			app = EXCLUDED.app, app_id = EXCLUDED.app_id,
			app_args = EXCLUDED.app_args, nwks_key = EXCLUDED.nwks_key,
			apps_key = EXCLUDED.apps_key, fcntup = EXCLUDED.fcntup,
			fcntdown = EXCLUDED.fcntdown, fcnt_check = EXCLUDED.fcnt_check,
			adr_flag_use = EXCLUDED.adr_flag_use,
			adr_flag_set = EXCLUDED.adr_flag_set,
			adr_use = EXCLUDED.adr_use, adr_set = EXCLUDED.adr_set,
			rxwin_use = EXCLUDED.rxwin_use, rxwin_set = EXCLUDED.rxwin_set,
			last_mac = EXCLUDED.last_mac, last_rxq = EXCLUDED.last_rxq,
			devstat = EXCLUDED.devstat, devstat_fcnt = EXCLUDED.devstat_fcnt,
			last_qs = EXCLUDED.last_qs, last_rx = EXCLUDED.last_rx,
			last_reset = EXCLUDED.last_reset`

	_, err := s.getDB().ExecContext(ctx, query,
		link.DevAddr, link.DevEUI, link.Region,
		link.App, link.AppID, link.AppArgs,
		link.NwkSKey, link.AppSKey,
		int64(link.FCntUp), int64(link.FCntDown), int(link.FCntCheck),
		link.ADRFlagUse, link.ADRFlagSet,
		jsonText{link.ADRUse}, jsonText{link.ADRSet},
		jsonText{link.RXWinUse}, jsonText{link.RXWinSet},
		link.LastMAC, jsonText{link.LastRxQ},
		jsonText{link.DevStat}, link.DevStatFCnt, jsonText{link.LastQs},
		link.LastRX, link.LastReset, link.CreatedAt,
	)
	return err
}

// DeleteLink deletes a link by DevAddr
func (s *PostgresStore) DeleteLink(ctx context.Context, devAddr lorawan.DevAddr) error {
	res, err := s.getDB().ExecContext(ctx, `DELETE FROM links WHERE dev_addr = $1`, devAddr)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
