package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lorawan-server/lorawan-server-go/internal/models"
	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

// CreateGateway creates a new gateway
func (s *PostgresStore) CreateGateway(ctx context.Context, gw *models.Gateway) error {
	gw.CreatedAt = time.Now()

	query := `
		INSERT INTO gateways (
			mac, net_id, description, latitude, longitude, altitude,
			last_rx, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.getDB().ExecContext(ctx, query,
		gw.MAC, gw.NetID, gw.Description,
		gw.Latitude, gw.Longitude, gw.Altitude,
		gw.LastRX, gw.CreatedAt,
	)

	if isDuplicateKey(err) {
		return ErrDuplicateKey
	}
	return err
}

// GetGateway gets a gateway by MAC
func (s *PostgresStore) GetGateway(ctx context.Context, mac lorawan.EUI64) (*models.Gateway, error) {
	query := `
		SELECT mac, net_id, description, latitude, longitude, altitude,
		       last_rx, created_at
		FROM gateways
		WHERE mac = $1`

	var gw models.Gateway
	err := s.getDB().QueryRowContext(ctx, query, mac).Scan(
		&gw.MAC, &gw.NetID, &gw.Description,
		&gw.Latitude, &gw.Longitude, &gw.Altitude,
		&gw.LastRX, &gw.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &gw, nil
}

// PutGateway updates a gateway
func (s *PostgresStore) PutGateway(ctx context.Context, gw *models.Gateway) error {
	query := `
		UPDATE gateways
		SET net_id = $2, description = $3, latitude = $4, longitude = $5,
		    altitude = $6, last_rx = $7
		WHERE mac = $1`

	res, err := s.getDB().ExecContext(ctx, query,
		gw.MAC, gw.NetID, gw.Description,
		gw.Latitude, gw.Longitude, gw.Altitude, gw.LastRX,
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

// DeleteGateway deletes a gateway by MAC
func (s *PostgresStore) DeleteGateway(ctx context.Context, mac lorawan.EUI64) error {
	res, err := s.getDB().ExecContext(ctx, `DELETE FROM gateways WHERE mac = $1`, mac)
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

// ListGateways lists gateways
func (s *PostgresStore) ListGateways(ctx context.Context, limit, offset int) ([]*models.Gateway, error) {
	query := `
		SELECT mac, net_id, description, latitude, longitude, altitude,
		       last_rx, created_at
		FROM gateways
		ORDER BY mac
		LIMIT $1 OFFSET $2`

	rows, err := s.getDB().QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gateways []*models.Gateway
	for rows.Next() {
		var gw models.Gateway
		if err := rows.Scan(
			&gw.MAC, &gw.NetID, &gw.Description,
			&gw.Latitude, &gw.Longitude, &gw.Altitude,
			&gw.LastRX, &gw.CreatedAt,
		); err != nil {
			return nil, err
		}
		gateways = append(gateways, &gw)
	}

	return gateways, rows.Err()
}
