package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/lorawan-server/lorawan-server-go/internal/models"
	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
)

// Store defines the storage interface. All frame-counter mutations go
// through InTransaction; status and log writes may use dirty writes.
type Store interface {
	// InTransaction runs fn against a transactional view of the
	// store under serializable isolation.
	InTransaction(ctx context.Context, fn func(Store) error) error

	// Gateway methods
	CreateGateway(ctx context.Context, gw *models.Gateway) error
	GetGateway(ctx context.Context, mac lorawan.EUI64) (*models.Gateway, error)
	PutGateway(ctx context.Context, gw *models.Gateway) error
	DeleteGateway(ctx context.Context, mac lorawan.EUI64) error
	ListGateways(ctx context.Context, limit, offset int) ([]*models.Gateway, error)

	// Device methods
	CreateDevice(ctx context.Context, device *models.Device) error
	GetDevice(ctx context.Context, devEUI lorawan.EUI64) (*models.Device, error)
	PutDevice(ctx context.Context, device *models.Device) error
	DeleteDevice(ctx context.Context, devEUI lorawan.EUI64) error
	ListDevices(ctx context.Context, limit, offset int) ([]*models.Device, error)

	// Link methods
	GetLink(ctx context.Context, devAddr lorawan.DevAddr) (*models.Link, error)
	PutLink(ctx context.Context, link *models.Link) error
	DeleteLink(ctx context.Context, devAddr lorawan.DevAddr) error

	// Pending downlink methods
	GetPending(ctx context.Context, devAddr lorawan.DevAddr) (*models.PendingFrame, error)
	PutPending(ctx context.Context, p *models.PendingFrame) error
	DeletePending(ctx context.Context, devAddr lorawan.DevAddr) error

	// Application downlink queue
	PutTxFrame(ctx context.Context, frame *models.TxFrame) error
	NextTxFrame(ctx context.Context, devAddr lorawan.DevAddr) (*models.TxFrame, error)
	DeleteTxFrame(ctx context.Context, id uuid.UUID) error
	PurgeTxFrames(ctx context.Context, devAddr lorawan.DevAddr) error

	// RX frame log
	PutRxFrame(ctx context.Context, frame *models.RxFrame) error
	ListRxFrames(ctx context.Context, devAddr lorawan.DevAddr, limit, offset int) ([]*models.RxFrame, error)

	// Ignored links
	ListIgnored(ctx context.Context) ([]models.IgnoredLink, error)
	PutIgnored(ctx context.Context, link *models.IgnoredLink) error
	DeleteIgnored(ctx context.Context, devAddr lorawan.DevAddr) error

	// Multicast groups
	GetMulticastGroup(ctx context.Context, devAddr lorawan.DevAddr) (*models.MulticastGroup, error)
	PutMulticastGroup(ctx context.Context, group *models.MulticastGroup) error
	DeleteMulticastGroup(ctx context.Context, devAddr lorawan.DevAddr) error
	ListMulticastGroups(ctx context.Context, limit, offset int) ([]*models.MulticastGroup, error)

	// User methods
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// Close the store
	Close() error
}
