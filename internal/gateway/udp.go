package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-server-go/internal/models"
	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

// Semtech UDP protocol constants
const (
	protocolVersion = 2

	pushData = 0x00
	pushAck  = 0x01
	pullData = 0x02
	pullResp = 0x03
	pullAck  = 0x04
	txAck    = 0x05
)

// pushPayload is the JSON body of a PUSH_DATA packet.
type pushPayload struct {
	RXPK []rxpk       `json:"rxpk"`
	Stat *models.Stat `json:"stat"`
}

// rxpk is one received radio packet as reported by the forwarder.
type rxpk struct {
	Time string  `json:"time"`
	Tmst uint32  `json:"tmst"`
	Chan int     `json:"chan"`
	RFCh int     `json:"rfch"`
	Freq float64 `json:"freq"`
	Stat int     `json:"stat"`
	Modu string  `json:"modu"`
	Datr string  `json:"datr"`
	Codr string  `json:"codr"`
	LSNR float64 `json:"lsnr"`
	RSSI int     `json:"rssi"`
	Size int     `json:"size"`
	Data string  `json:"data"`
}

// txpk is one transmit order for the forwarder.
type txpk struct {
	Imme bool    `json:"imme"`
	Tmst uint32  `json:"tmst,omitempty"`
	Freq float64 `json:"freq"`
	RFCh int     `json:"rfch"`
	Powe int     `json:"powe,omitempty"`
	Modu string  `json:"modu"`
	Datr string  `json:"datr"`
	Codr string  `json:"codr"`
	IPol bool    `json:"ipol"`
	Size int     `json:"size"`
	Data string  `json:"data"`
}

// gatewayState tracks the downlink route of one gateway.
type gatewayState struct {
	pullAddr *net.UDPAddr
	lastPull time.Time
	version  uint8
}

// Bridge speaks the Semtech UDP packet-forwarder protocol and bridges
// it onto the NATS gateway subjects.
type Bridge struct {
	conn     *net.UDPConn
	nc       *nats.Conn
	mu       sync.RWMutex
	gateways map[lorawan.EUI64]*gatewayState
}

// NewBridge creates a bridge listening on bindAddr
func NewBridge(bindAddr string, nc *nats.Conn) (*Bridge, error) {
	addr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	return &Bridge{
		conn:     conn,
		nc:       nc,
		gateways: make(map[lorawan.EUI64]*gatewayState),
	}, nil
}

// Start runs the bridge until the context is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	log.Info().Str("addr", b.conn.LocalAddr().String()).Msg("gateway bridge started")

	sub, err := b.nc.Subscribe("gateway.*.tx", b.handleDownlink)
	if err != nil {
		return fmt.Errorf("subscribe gateway tx: %w", err)
	}
	defer sub.Unsubscribe()

	go func() {
		<-ctx.Done()
		b.conn.Close()
	}()

	buf := make([]byte, 65507)
	for {
		n, addr, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("UDP read error")
			continue
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])
		go b.handlePacket(packet, addr)
	}
}

// handlePacket dispatches one received UDP datagram.
func (b *Bridge) handlePacket(data []byte, addr *net.UDPAddr) {
	if len(data) < 4 || data[0] != protocolVersion {
		return
	}

	token := data[1:3]
	switch data[3] {
	case pushData:
		b.handlePushData(data, token, addr)
	case pullData:
		b.handlePullData(data, token, addr)
	case txAck:
		if len(data) >= 12 {
			log.Debug().
				Str("mac", fmt.Sprintf("%x", data[4:12])).
				Msg("TX acknowledged")
		}
	}
}

// handlePushData acknowledges an uplink batch and publishes its
// contents.
func (b *Bridge) handlePushData(data, token []byte, addr *net.UDPAddr) {
	if len(data) < 13 {
		return
	}

	var mac lorawan.EUI64
	copy(mac[:], data[4:12])

	// PUSH_ACK carries the token back.
	b.send(addr, []byte{protocolVersion, token[0], token[1], pushAck})

	var payload pushPayload
	if err := json.Unmarshal(data[12:], &payload); err != nil {
		log.Warn().Err(err).Str("mac", mac.String()).Msg("bad PUSH_DATA payload")
		return
	}

	srvTmst := time.Now().UnixMilli()
	for _, pk := range payload.RXPK {
		phy, err := base64.StdEncoding.DecodeString(pk.Data)
		if err != nil {
			log.Warn().Err(err).Str("mac", mac.String()).Msg("bad rxpk data")
			continue
		}

		rxq := lorawan.RxQ{
			Freq:       pk.Freq,
			DataRate:   pk.Datr,
			CodingRate: pk.Codr,
			RSSI:       pk.RSSI,
			LoRaSNR:    pk.LSNR,
			Channel:    pk.Chan,
			RFChain:    pk.RFCh,
			Tmst:       pk.Tmst,
			SrvTmst:    srvTmst,
		}
		if t, err := time.Parse(time.RFC3339Nano, pk.Time); err == nil {
			rxq.Time = t
		}

		b.publish(fmt.Sprintf("gateway.%s.rx", mac), models.UplinkMessage{
			MAC:        mac,
			RxQ:        rxq,
			PHYPayload: phy,
		})
	}

	if payload.Stat != nil {
		b.publish(fmt.Sprintf("gateway.%s.stats", mac), models.StatusMessage{
			MAC:  mac,
			Stat: *payload.Stat,
		})
	}
}

// handlePullData records the gateway's downlink address.
func (b *Bridge) handlePullData(data, token []byte, addr *net.UDPAddr) {
	if len(data) < 12 {
		return
	}

	var mac lorawan.EUI64
	copy(mac[:], data[4:12])

	b.mu.Lock()
	b.gateways[mac] = &gatewayState{
		pullAddr: addr,
		lastPull: time.Now(),
		version:  data[0],
	}
	b.mu.Unlock()

	b.send(addr, []byte{protocolVersion, token[0], token[1], pullAck})
}

// handleDownlink turns a transmit order into a PULL_RESP.
func (b *Bridge) handleDownlink(msg *nats.Msg) {
	var dm models.DownlinkMessage
	if err := json.Unmarshal(msg.Data, &dm); err != nil {
		log.Warn().Err(err).Msg("bad downlink message")
		return
	}

	b.mu.RLock()
	state := b.gateways[dm.MAC]
	b.mu.RUnlock()

	if state == nil {
		log.Warn().Str("mac", dm.MAC.String()).Msg("no PULL_DATA route for gateway")
		return
	}

	body, err := json.Marshal(map[string]txpk{"txpk": {
		Imme: dm.TxQ.Immediately,
		Tmst: dm.TxQ.Tmst,
		Freq: dm.TxQ.Freq,
		RFCh: dm.TxQ.RFChain,
		Powe: dm.TxQ.Power,
		Modu: "LORA",
		Datr: dm.TxQ.DataRate,
		Codr: dm.TxQ.CodingRate,
		IPol: true,
		Size: len(dm.PHYPayload),
		Data: base64.StdEncoding.EncodeToString(dm.PHYPayload),
	}})
	if err != nil {
		log.Error().Err(err).Msg("marshal PULL_RESP")
		return
	}

	packet := append([]byte{protocolVersion, 0, 0, pullResp}, body...)
	b.send(state.pullAddr, packet)
}

func (b *Bridge) publish(subject string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("marshal message")
		return
	}
	if err := b.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("publish failed")
	}
}

func (b *Bridge) send(addr *net.UDPAddr, data []byte) {
	if _, err := b.conn.WriteToUDP(data, addr); err != nil {
		log.Warn().Err(err).Str("addr", addr.String()).Msg("UDP write error")
	}
}
