package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/lorawan-server-go/internal/models"
	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

// GetPending gets the pending downlink for a DevAddr
func (s *PostgresStore) GetPending(ctx context.Context, devAddr lorawan.DevAddr) (*models.PendingFrame, error) {
	query := `
		SELECT dev_addr, phy_payload, confirmed, sent_at
		FROM pending_frames
		WHERE dev_addr = $1`

	var p models.PendingFrame
	err := s.getDB().QueryRowContext(ctx, query, devAddr).Scan(
		&p.DevAddr, &p.PHYPayload, &p.Confirmed, &p.SentAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PutPending inserts or replaces the pending downlink for a DevAddr
func (s *PostgresStore) PutPending(ctx context.Context, p *models.PendingFrame) error {
	query := `
		INSERT INTO pending_frames (dev_addr, phy_payload, confirmed, sent_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dev_addr) DO UPDATE SET
			phy_payload = EXCLUDED.phy_payload,
			confirmed = EXCLUDED.confirmed,
			sent_at = EXCLUDED.sent_at`

	_, err := s.getDB().ExecContext(ctx, query,
		p.DevAddr, p.PHYPayload, p.Confirmed, p.SentAt,
	)
	return err
}

// DeletePending deletes the pending downlink for a DevAddr
func (s *PostgresStore) DeletePending(ctx context.Context, devAddr lorawan.DevAddr) error {
	_, err := s.getDB().ExecContext(ctx,
		`DELETE FROM pending_frames WHERE dev_addr = $1`, devAddr)
	return err
}

// PutTxFrame enqueues an application downlink
func (s *PostgresStore) PutTxFrame(ctx context.Context, frame *models.TxFrame) error {
	if frame.ID == uuid.Nil {
		frame.ID = uuid.New()
	}
	frame.CreatedAt = time.Now()

	query := `
		INSERT INTO tx_frames (id, dev_addr, port, data, confirmed, pending, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.getDB().ExecContext(ctx, query,
		frame.ID, frame.DevAddr, int(frame.Port), frame.Data,
		frame.Confirmed, frame.Pending, frame.CreatedAt,
	)
	return err
}

// NextTxFrame returns the oldest queued downlink for a DevAddr
func (s *PostgresStore) NextTxFrame(ctx context.Context, devAddr lorawan.DevAddr) (*models.TxFrame, error) {
	query := `
		SELECT id, dev_addr, port, data, confirmed, pending, created_at
		FROM tx_frames
		WHERE dev_addr = $1
		ORDER BY created_at
		LIMIT 1`

	var (
		frame models.TxFrame
		port  int
	)
	err := s.getDB().QueryRowContext(ctx, query, devAddr).Scan(
		&frame.ID, &frame.DevAddr, &port, &frame.Data,
		&frame.Confirmed, &frame.Pending, &frame.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	frame.Port = uint8(port)
	return &frame, nil
}

// DeleteTxFrame deletes a queued downlink by id
func (s *PostgresStore) DeleteTxFrame(ctx context.Context, id uuid.UUID) error {
	_, err := s.getDB().ExecContext(ctx, `DELETE FROM tx_frames WHERE id = $1`, id)
	return err
}

// PurgeTxFrames drops all queued downlinks for a DevAddr
func (s *PostgresStore) PurgeTxFrames(ctx context.Context, devAddr lorawan.DevAddr) error {
	_, err := s.getDB().ExecContext(ctx,
		`DELETE FROM tx_frames WHERE dev_addr = $1`, devAddr)
	return err
}

// PutRxFrame appends an entry to the RX frame log
func (s *PostgresStore) PutRxFrame(ctx context.Context, frame *models.RxFrame) error {
	query := `
		INSERT INTO rx_frames (
			mac, rxq, app, app_id, dev_addr, fcnt, port, data,
			received_at, devstat
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING frame_id`

	var port interface{}
	if frame.Port != nil {
		port = int(*frame.Port)
	}

	return s.getDB().QueryRowContext(ctx, query,
		frame.MAC, jsonText{frame.RxQ}, frame.App, frame.AppID,
		frame.DevAddr, int64(frame.FCnt), port, frame.Data,
		frame.ReceivedAt, jsonText{frame.DevStat},
	).Scan(&frame.FrameID)
}

// ListRxFrames lists RX log entries for a DevAddr, newest first
func (s *PostgresStore) ListRxFrames(ctx context.Context, devAddr lorawan.DevAddr, limit, offset int) ([]*models.RxFrame, error) {
	query := `
		SELECT frame_id, mac, rxq, app, app_id, dev_addr, fcnt, port,
		       data, received_at, devstat
		FROM rx_frames
		WHERE dev_addr = $1
		ORDER BY frame_id DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.getDB().QueryContext(ctx, query, devAddr, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []*models.RxFrame
	for rows.Next() {
		var (
			frame   models.RxFrame
			fcnt    int64
			port    sql.NullInt64
			rxq     []byte
			devStat []byte
		)
		if err := rows.Scan(
			&frame.FrameID, &frame.MAC, &rxq, &frame.App, &frame.AppID,
			&frame.DevAddr, &fcnt, &port, &frame.Data,
			&frame.ReceivedAt, &devStat,
		); err != nil {
			return nil, err
		}

		frame.FCnt = uint32(fcnt)
		if port.Valid {
			p := uint8(port.Int64)
			frame.Port = &p
		}
		if err := jsonScan(rxq, &frame.RxQ); err != nil {
			return nil, err
		}
		if err := jsonScan(devStat, &frame.DevStat); err != nil {
			return nil, err
		}
		frames = append(frames, &frame)
	}

	return frames, rows.Err()
}
