package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lorawan-server/lorawan-server-go/internal/models"
	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

// GetMulticastGroup gets a multicast group by DevAddr
func (s *PostgresStore) GetMulticastGroup(ctx context.Context, devAddr lorawan.DevAddr) (*models.MulticastGroup, error) {
	query := `
		SELECT dev_addr, nwks_key, apps_key, fcntdown, region, rxwin,
		       last_mac, created_at
		FROM multicast_groups
		WHERE dev_addr = $1`

	var (
		group    models.MulticastGroup
		fcntDown int64
		rxwin    []byte
	)
	err := s.getDB().QueryRowContext(ctx, query, devAddr).Scan(
		&group.DevAddr, &group.NwkSKey, &group.AppSKey, &fcntDown,
		&group.Region, &rxwin, &group.LastMAC, &group.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	group.FCntDown = uint32(fcntDown)
	if err := jsonScan(rxwin, &group.RXWin); err != nil {
		return nil, err
	}
	return &group, nil
}

// PutMulticastGroup inserts or replaces a multicast group
func (s *PostgresStore) PutMulticastGroup(ctx context.Context, group *models.MulticastGroup) error {
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO multicast_groups (
			dev_addr, nwks_key, apps_key, fcntdown, region, rxwin,
			last_mac, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (dev_addr) DO UPDATE SET
			nwks_key = EXCLUDED.nwks_key, apps_key = EXCLUDED.apps_key,
			fcntdown = EXCLUDED.fcntdown, region = EXCLUDED.region,
			rxwin = EXCLUDED.rxwin, last_mac = EXCLUDED.last_mac`

	_, err := s.getDB().ExecContext(ctx, query,
		group.DevAddr, group.NwkSKey, group.AppSKey, int64(group.FCntDown),
		group.Region, jsonText{group.RXWin}, group.LastMAC, group.CreatedAt,
	)
	return err
}

// DeleteMulticastGroup deletes a multicast group by DevAddr
func (s *PostgresStore) DeleteMulticastGroup(ctx context.Context, devAddr lorawan.DevAddr) error {
	res, err := s.getDB().ExecContext(ctx,
		`DELETE FROM multicast_groups WHERE dev_addr = $1`, devAddr)
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

// ListMulticastGroups lists multicast groups
func (s *PostgresStore) ListMulticastGroups(ctx context.Context, limit, offset int) ([]*models.MulticastGroup, error) {
	query := `
		SELECT dev_addr, nwks_key, apps_key, fcntdown, region, rxwin,
		       last_mac, created_at
		FROM multicast_groups
		ORDER BY dev_addr
		LIMIT $1 OFFSET $2`

	rows, err := s.getDB().QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*models.MulticastGroup
	for rows.Next() {
		var (
			group    models.MulticastGroup
			fcntDown int64
			rxwin    []byte
		)
		if err := rows.Scan(
			&group.DevAddr, &group.NwkSKey, &group.AppSKey, &fcntDown,
			&group.Region, &rxwin, &group.LastMAC, &group.CreatedAt,
		); err != nil {
			return nil, err
		}

		group.FCntDown = uint32(fcntDown)
		if err := jsonScan(rxwin, &group.RXWin); err != nil {
			return nil, err
		}
		groups = append(groups, &group)
	}

	return groups, rows.Err()
}

// ListIgnored lists the ignored-link patterns
func (s *PostgresStore) ListIgnored(ctx context.Context) ([]models.IgnoredLink, error) {
	rows, err := s.getDB().QueryContext(ctx,
		`SELECT dev_addr, mask FROM ignored_links`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []models.IgnoredLink
	for rows.Next() {
		var link models.IgnoredLink
		if err := rows.Scan(&link.DevAddr, &link.Mask); err != nil {
			return nil, err
		}
		links = append(links, link)
	}

	return links, rows.Err()
}

// PutIgnored inserts or replaces an ignored-link pattern
func (s *PostgresStore) PutIgnored(ctx context.Context, link *models.IgnoredLink) error {
	query := `
		INSERT INTO ignored_links (dev_addr, mask)
		VALUES ($1, $2)
		ON CONFLICT (dev_addr) DO UPDATE SET mask = EXCLUDED.mask`

	_, err := s.getDB().ExecContext(ctx, query, link.DevAddr, link.Mask)
	return err
}

// DeleteIgnored deletes an ignored-link pattern
func (s *PostgresStore) DeleteIgnored(ctx context.Context, devAddr lorawan.DevAddr) error {
	res, err := s.getDB().ExecContext(ctx,
		`DELETE FROM ignored_links WHERE dev_addr = $1`, devAddr)
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
