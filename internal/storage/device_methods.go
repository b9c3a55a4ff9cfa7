package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lorawan-server/lorawan-server-go/internal/models"
	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

// CreateDevice creates a new device
func (s *PostgresStore) CreateDevice(ctx context.Context, device *models.Device) error {
	device.CreatedAt = time.Now()

	query := `
		INSERT INTO devices (
			dev_eui, app_key, can_join, region, app, app_id, app_args,
			adr_flag_set, adr_set, rxwin_set, fcnt_check, last_join,
			dev_addr, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.getDB().ExecContext(ctx, query,
		device.DevEUI, device.AppKey, device.CanJoin, device.Region,
		device.App, device.AppID, device.AppArgs,
		device.ADRFlagSet, jsonText{device.ADRSet}, jsonText{device.RXWinSet},
		int(device.FCntCheck), device.LastJoin, device.DevAddr, device.CreatedAt,
	)

	if isDuplicateKey(err) {
		return ErrDuplicateKey
	}
	return err
}

// GetDevice gets a device by DevEUI
func (s *PostgresStore) GetDevice(ctx context.Context, devEUI lorawan.EUI64) (*models.Device, error) {
	query := `
		SELECT dev_eui, app_key, can_join, region, app, app_id, app_args,
		       adr_flag_set, adr_set, rxwin_set, fcnt_check, last_join,
		       dev_addr, created_at
		FROM devices
		WHERE dev_eui = $1`

	var (
		device    models.Device
		fcntCheck int
		adrSet    []byte
		rxwinSet  []byte
	)
	err := s.getDB().QueryRowContext(ctx, query, devEUI).Scan(
		&device.DevEUI, &device.AppKey, &device.CanJoin, &device.Region,
		&device.App, &device.AppID, &device.AppArgs,
		&device.ADRFlagSet, &adrSet, &rxwinSet,
		&fcntCheck, &device.LastJoin, &device.DevAddr, &device.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	device.FCntCheck = models.FCntCheck(fcntCheck)
	if err := jsonScan(adrSet, &device.ADRSet); err != nil {
		return nil, err
	}
	if err := jsonScan(rxwinSet, &device.RXWinSet); err != nil {
		return nil, err
	}

	return &device, nil
}

// PutDevice updates a device
func (s *PostgresStore) PutDevice(ctx context.Context, device *models.Device) error {
	query := `
		UPDATE devices
		SET app_key = $2, can_join = $3, region = $4, app = $5,
		    app_id = $6, app_args = $7, adr_flag_set = $8, adr_set = $9,
		    rxwin_set = $10, fcnt_check = $11, last_join = $12, dev_addr = $13
		WHERE dev_eui = $1`

	res, err := s.getDB().ExecContext(ctx, query,
		device.DevEUI, device.AppKey, device.CanJoin, device.Region,
		device.App, device.AppID, device.AppArgs,
		device.ADRFlagSet, jsonText{device.ADRSet}, jsonText{device.RXWinSet},
		int(device.FCntCheck), device.LastJoin, device.DevAddr,
	)
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

// DeleteDevice deletes a device by DevEUI
func (s *PostgresStore) DeleteDevice(ctx context.Context, devEUI lorawan.EUI64) error {
	res, err := s.getDB().ExecContext(ctx, `DELETE FROM devices WHERE dev_eui = $1`, devEUI)
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

// ListDevices lists devices
func (s *PostgresStore) ListDevices(ctx context.Context, limit, offset int) ([]*models.Device, error) {
	query := `
		SELECT dev_eui, app_key, can_join, region, app, app_id, app_args,
		       adr_flag_set, adr_set, rxwin_set, fcnt_check, last_join,
		       dev_addr, created_at
		FROM devices
		ORDER BY dev_eui
		LIMIT $1 OFFSET $2`

	rows, err := s.getDB().QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		var (
			device    models.Device
			fcntCheck int
			adrSet    []byte
			rxwinSet  []byte
		)
		if err := rows.Scan(
			&device.DevEUI, &device.AppKey, &device.CanJoin, &device.Region,
			&device.App, &device.AppID, &device.AppArgs,
			&device.ADRFlagSet, &adrSet, &rxwinSet,
			&fcntCheck, &device.LastJoin, &device.DevAddr, &device.CreatedAt,
		); err != nil {
			return nil, err
		}

		device.FCntCheck = models.FCntCheck(fcntCheck)
		if err := jsonScan(adrSet, &device.ADRSet); err != nil {
			return nil, err
		}
		if err := jsonScan(rxwinSet, &device.RXWinSet); err != nil {
			return nil, err
		}
		devices = append(devices, &device)
	}

	return devices, rows.Err()
}
