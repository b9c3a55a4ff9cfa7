package network

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/lorawan-server/lorawan-server-go/internal/models"
	"github.com/lorawan-server/lorawan-server-go/internal/storage"
	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

// memStore is an in-memory storage.Store double for engine tests. Get
// methods return copies, so state only changes through Put, like the
// real store.
type memData struct {
	gateways map[lorawan.EUI64]*models.Gateway
	devices  map[lorawan.EUI64]*models.Device
	links    map[lorawan.DevAddr]*models.Link
	pending  map[lorawan.DevAddr]*models.PendingFrame
	groups   map[lorawan.DevAddr]*models.MulticastGroup
	users    map[string]*models.User
	txFrames []*models.TxFrame
	rxFrames []*models.RxFrame
	ignored  []models.IgnoredLink
}

type memStore struct {
	mu   sync.Mutex
	data *memData
	inTx bool
}

func newMemStore() *memStore {
	return &memStore{
		data: &memData{
			gateways: make(map[lorawan.EUI64]*models.Gateway),
			devices:  make(map[lorawan.EUI64]*models.Device),
			links:    make(map[lorawan.DevAddr]*models.Link),
			pending:  make(map[lorawan.DevAddr]*models.PendingFrame),
			groups:   make(map[lorawan.DevAddr]*models.MulticastGroup),
			users:    make(map[string]*models.User),
		},
	}
}

func (s *memStore) InTransaction(ctx context.Context, fn func(storage.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memStore{data: s.data, inTx: true})
}

func (s *memStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func copyLink(l *models.Link) *models.Link {
	cp := *l
	if l.ADRFlagSet != nil {
		v := *l.ADRFlagSet
		cp.ADRFlagSet = &v
	}
	if l.ADRUse != nil {
		v := *l.ADRUse
		cp.ADRUse = &v
	}
	if l.ADRSet != nil {
		v := *l.ADRSet
		cp.ADRSet = &v
	}
	if l.LastRxQ != nil {
		v := *l.LastRxQ
		cp.LastRxQ = &v
	}
	if l.DevStat != nil {
		v := *l.DevStat
		cp.DevStat = &v
	}
	cp.LastQs = append([]models.QS(nil), l.LastQs...)
	return &cp
}

func copyDevice(d *models.Device) *models.Device {
	cp := *d
	if d.DevAddr != nil {
		v := *d.DevAddr
		cp.DevAddr = &v
	}
	if d.ADRSet != nil {
		v := *d.ADRSet
		cp.ADRSet = &v
	}
	if d.RXWinSet != nil {
		v := *d.RXWinSet
		cp.RXWinSet = &v
	}
	return &cp
}

func (s *memStore) CreateGateway(ctx context.Context, gw *models.Gateway) error {
	defer s.lock()()
	if _, ok := s.data.gateways[gw.MAC]; ok {
		return storage.ErrDuplicateKey
	}
	cp := *gw
	s.data.gateways[gw.MAC] = &cp
	return nil
}

func (s *memStore) GetGateway(ctx context.Context, mac lorawan.EUI64) (*models.Gateway, error) {
	defer s.lock()()
	gw, ok := s.data.gateways[mac]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *gw
	return &cp, nil
}

func (s *memStore) PutGateway(ctx context.Context, gw *models.Gateway) error {
	defer s.lock()()
	if _, ok := s.data.gateways[gw.MAC]; !ok {
		return storage.ErrNotFound
	}
	cp := *gw
	s.data.gateways[gw.MAC] = &cp
	return nil
}

func (s *memStore) DeleteGateway(ctx context.Context, mac lorawan.EUI64) error {
	defer s.lock()()
	delete(s.data.gateways, mac)
	return nil
}

func (s *memStore) ListGateways(ctx context.Context, limit, offset int) ([]*models.Gateway, error) {
	return nil, nil
}

func (s *memStore) CreateDevice(ctx context.Context, device *models.Device) error {
	defer s.lock()()
	if _, ok := s.data.devices[device.DevEUI]; ok {
		return storage.ErrDuplicateKey
	}
	s.data.devices[device.DevEUI] = copyDevice(device)
	return nil
}

func (s *memStore) GetDevice(ctx context.Context, devEUI lorawan.EUI64) (*models.Device, error) {
	defer s.lock()()
	device, ok := s.data.devices[devEUI]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyDevice(device), nil
}

func (s *memStore) PutDevice(ctx context.Context, device *models.Device) error {
	defer s.lock()()
	if _, ok := s.data.devices[device.DevEUI]; !ok {
		return storage.ErrNotFound
	}
	s.data.devices[device.DevEUI] = copyDevice(device)
	return nil
}

func (s *memStore) DeleteDevice(ctx context.Context, devEUI lorawan.EUI64) error {
	defer s.lock()()
	delete(s.data.devices, devEUI)
	return nil
}

func (s *memStore) ListDevices(ctx context.Context, limit, offset int) ([]*models.Device, error) {
	return nil, nil
}

func (s *memStore) GetLink(ctx context.Context, devAddr lorawan.DevAddr) (*models.Link, error) {
	defer s.lock()()
	link, ok := s.data.links[devAddr]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyLink(link), nil
}

func (s *memStore) PutLink(ctx context.Context, link *models.Link) error {
	defer s.lock()()
	s.data.links[link.DevAddr] = copyLink(link)
	return nil
}

func (s *memStore) DeleteLink(ctx context.Context, devAddr lorawan.DevAddr) error {
	defer s.lock()()
	delete(s.data.links, devAddr)
	return nil
}

func (s *memStore) GetPending(ctx context.Context, devAddr lorawan.DevAddr) (*models.PendingFrame, error) {
	defer s.lock()()
	p, ok := s.data.pending[devAddr]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) PutPending(ctx context.Context, p *models.PendingFrame) error {
	defer s.lock()()
	cp := *p
	s.data.pending[p.DevAddr] = &cp
	return nil
}

func (s *memStore) DeletePending(ctx context.Context, devAddr lorawan.DevAddr) error {
	defer s.lock()()
	delete(s.data.pending, devAddr)
	return nil
}

func (s *memStore) PutTxFrame(ctx context.Context, frame *models.TxFrame) error {
	defer s.lock()()
	if frame.ID == uuid.Nil {
		frame.ID = uuid.New()
	}
	cp := *frame
	s.data.txFrames = append(s.data.txFrames, &cp)
	return nil
}

func (s *memStore) NextTxFrame(ctx context.Context, devAddr lorawan.DevAddr) (*models.TxFrame, error) {
	defer s.lock()()
	for _, frame := range s.data.txFrames {
		if frame.DevAddr == devAddr {
			cp := *frame
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *memStore) DeleteTxFrame(ctx context.Context, id uuid.UUID) error {
	defer s.lock()()
	for i, frame := range s.data.txFrames {
		if frame.ID == id {
			s.data.txFrames = append(s.data.txFrames[:i], s.data.txFrames[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memStore) PurgeTxFrames(ctx context.Context, devAddr lorawan.DevAddr) error {
	defer s.lock()()
	var kept []*models.TxFrame
	for _, frame := range s.data.txFrames {
		if frame.DevAddr != devAddr {
			kept = append(kept, frame)
		}
	}
	s.data.txFrames = kept
	return nil
}

func (s *memStore) PutRxFrame(ctx context.Context, frame *models.RxFrame) error {
	defer s.lock()()
	cp := *frame
	cp.FrameID = int64(len(s.data.rxFrames) + 1)
	frame.FrameID = cp.FrameID
	s.data.rxFrames = append(s.data.rxFrames, &cp)
	return nil
}

func (s *memStore) ListRxFrames(ctx context.Context, devAddr lorawan.DevAddr, limit, offset int) ([]*models.RxFrame, error) {
	defer s.lock()()
	var frames []*models.RxFrame
	for _, frame := range s.data.rxFrames {
		if frame.DevAddr == devAddr {
			cp := *frame
			frames = append(frames, &cp)
		}
	}
	return frames, nil
}

func (s *memStore) ListIgnored(ctx context.Context) ([]models.IgnoredLink, error) {
	defer s.lock()()
	return append([]models.IgnoredLink(nil), s.data.ignored...), nil
}

func (s *memStore) PutIgnored(ctx context.Context, link *models.IgnoredLink) error {
	defer s.lock()()
	s.data.ignored = append(s.data.ignored, *link)
	return nil
}

func (s *memStore) DeleteIgnored(ctx context.Context, devAddr lorawan.DevAddr) error {
	return nil
}

func (s *memStore) GetMulticastGroup(ctx context.Context, devAddr lorawan.DevAddr) (*models.MulticastGroup, error) {
	defer s.lock()()
	group, ok := s.data.groups[devAddr]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *group
	return &cp, nil
}

func (s *memStore) PutMulticastGroup(ctx context.Context, group *models.MulticastGroup) error {
	defer s.lock()()
	cp := *group
	s.data.groups[group.DevAddr] = &cp
	return nil
}

func (s *memStore) DeleteMulticastGroup(ctx context.Context, devAddr lorawan.DevAddr) error {
	defer s.lock()()
	delete(s.data.groups, devAddr)
	return nil
}

func (s *memStore) ListMulticastGroups(ctx context.Context, limit, offset int) ([]*models.MulticastGroup, error) {
	return nil, nil
}

func (s *memStore) CreateUser(ctx context.Context, user *models.User) error {
	defer s.lock()()
	s.data.users[user.Email] = user
	return nil
}

func (s *memStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	defer s.lock()()
	user, ok := s.data.users[email]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (s *memStore) Close() error { return nil }
