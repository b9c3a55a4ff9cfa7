package lorawan

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrBadFrame is returned when a PHY payload or one of its parts
	// does not parse as a well-formed LoRaWAN frame.
	ErrBadFrame = errors.New("bad frame")

	errInvalidBlockLength = errors.New("payload length not a multiple of 16")
)

// MHDR represents the MAC header
type MHDR struct {
	MType MType
	Major Major
}

// Byte returns the encoded MHDR octet.
func (h MHDR) Byte() byte {
	return byte(h.MType)<<5 | byte(h.Major)
}

// PHYPayload represents a physical payload: MHDR | MACPayload | MIC.
// For join-accept frames the MIC is carried inside the encrypted
// MACPayload and the MIC field is unused on the wire.
type PHYPayload struct {
	MHDR       MHDR
	MACPayload []byte
	MIC        [4]byte
}

// UnmarshalBinary parses a raw PHY payload.
func (p *PHYPayload) UnmarshalBinary(data []byte) error {
	if len(data) < 12 {
		return fmt.Errorf("%w: PHYPayload too short: %d bytes", ErrBadFrame, len(data))
	}

	p.MHDR.MType = MType(data[0] >> 5)
	p.MHDR.Major = Major(data[0] & 0x03)
	p.MACPayload = data[1 : len(data)-4]
	copy(p.MIC[:], data[len(data)-4:])

	return nil
}

// MarshalBinary serializes the PHY payload.
func (p *PHYPayload) MarshalBinary() ([]byte, error) {
	data := make([]byte, 0, 1+len(p.MACPayload)+4)
	data = append(data, p.MHDR.Byte())
	data = append(data, p.MACPayload...)

	// Join-accept carries the MIC inside the encrypted MACPayload.
	if p.MHDR.MType != JoinAccept {
		data = append(data, p.MIC[:]...)
	}

	return data, nil
}

// Msg returns MHDR through the end of the MACPayload, the portion the
// data-frame MIC is computed over.
func (p *PHYPayload) Msg() []byte {
	msg := make([]byte, 0, 1+len(p.MACPayload))
	msg = append(msg, p.MHDR.Byte())
	msg = append(msg, p.MACPayload...)
	return msg
}

// JoinRequestPayload represents a join-request MACPayload.
type JoinRequestPayload struct {
	AppEUI   EUI64
	DevEUI   EUI64
	DevNonce [2]byte
}

// Unmarshal parses a join-request MACPayload. The EUIs transit the wire
// little-endian and are reversed into logical order.
func (j *JoinRequestPayload) Unmarshal(data []byte) error {
	if len(data) != 18 {
		return fmt.Errorf("%w: join-request payload must be 18 bytes, got %d", ErrBadFrame, len(data))
	}

	copy(j.AppEUI[:], Reverse(data[0:8]))
	copy(j.DevEUI[:], Reverse(data[8:16]))
	copy(j.DevNonce[:], data[16:18])

	return nil
}

// Marshal serializes the join-request MACPayload in wire order.
func (j *JoinRequestPayload) Marshal() []byte {
	data := make([]byte, 0, 18)
	data = append(data, Reverse(j.AppEUI[:])...)
	data = append(data, Reverse(j.DevEUI[:])...)
	data = append(data, j.DevNonce[:]...)
	return data
}

// JoinAcceptPayload represents a join-accept MACPayload before
// encryption.
type JoinAcceptPayload struct {
	AppNonce   [3]byte
	NetID      NetID
	DevAddr    DevAddr
	DLSettings byte
	RXDelay    byte
}

// Marshal serializes the join-accept MACPayload in wire order.
func (j *JoinAcceptPayload) Marshal() []byte {
	data := make([]byte, 0, 12)
	data = append(data, j.AppNonce[:]...)
	data = append(data, j.NetID[:]...)
	data = append(data, Reverse(j.DevAddr[:])...)
	data = append(data, j.DLSettings, j.RXDelay)
	return data
}

// Unmarshal parses a decrypted join-accept MACPayload (without MIC).
func (j *JoinAcceptPayload) Unmarshal(data []byte) error {
	if len(data) < 12 {
		return fmt.Errorf("%w: join-accept payload too short: %d bytes", ErrBadFrame, len(data))
	}

	copy(j.AppNonce[:], data[0:3])
	copy(j.NetID[:], data[3:6])
	copy(j.DevAddr[:], Reverse(data[6:10]))
	j.DLSettings = data[10]
	j.RXDelay = data[11]

	return nil
}

// FCtrl represents the frame control octet. FOptsLen is derived from
// the FOpts field on serialize.
type FCtrl struct {
	ADR       bool
	ADRACKReq bool
	ACK       bool
	FPending  bool
}

// Byte encodes the FCtrl octet with the given FOpts length.
func (f FCtrl) Byte(fOptsLen int) byte {
	var b byte
	if f.ADR {
		b |= 0x80
	}
	if f.ADRACKReq {
		b |= 0x40
	}
	if f.ACK {
		b |= 0x20
	}
	if f.FPending {
		b |= 0x10
	}
	return b | byte(fOptsLen)&0x0F
}

// FHDR represents the frame header
type FHDR struct {
	DevAddr DevAddr
	FCtrl   FCtrl
	FCnt    uint16
	FOpts   []byte
}

// MACPayload represents a data-frame MACPayload:
// FHDR | [FPort | FRMPayload].
type MACPayload struct {
	FHDR       FHDR
	FPort      *uint8
	FRMPayload []byte
}

// Unmarshal parses a data-frame MACPayload.
func (m *MACPayload) Unmarshal(data []byte) error {
	if len(data) < 7 {
		return fmt.Errorf("%w: MACPayload too short: %d bytes", ErrBadFrame, len(data))
	}

	copy(m.FHDR.DevAddr[:], Reverse(data[0:4]))

	fctrl := data[4]
	m.FHDR.FCtrl.ADR = fctrl&0x80 != 0
	m.FHDR.FCtrl.ADRACKReq = fctrl&0x40 != 0
	m.FHDR.FCtrl.ACK = fctrl&0x20 != 0
	m.FHDR.FCtrl.FPending = fctrl&0x10 != 0
	fOptsLen := int(fctrl & 0x0F)

	m.FHDR.FCnt = binary.LittleEndian.Uint16(data[5:7])

	if len(data) < 7+fOptsLen {
		return fmt.Errorf("%w: FOpts exceed MACPayload", ErrBadFrame)
	}
	m.FHDR.FOpts = data[7 : 7+fOptsLen]

	rest := data[7+fOptsLen:]
	if len(rest) == 0 {
		m.FPort = nil
		m.FRMPayload = nil
		return nil
	}

	port := rest[0]
	m.FPort = &port
	m.FRMPayload = rest[1:]

	return nil
}

// Marshal serializes the data-frame MACPayload in wire order.
func (m *MACPayload) Marshal() ([]byte, error) {
	if len(m.FHDR.FOpts) > 15 {
		return nil, fmt.Errorf("%w: FOpts longer than 15 bytes", ErrBadFrame)
	}

	data := make([]byte, 0, 7+len(m.FHDR.FOpts)+1+len(m.FRMPayload))
	data = append(data, Reverse(m.FHDR.DevAddr[:])...)
	data = append(data, m.FHDR.FCtrl.Byte(len(m.FHDR.FOpts)))

	var fcnt [2]byte
	binary.LittleEndian.PutUint16(fcnt[:], m.FHDR.FCnt)
	data = append(data, fcnt[:]...)

	data = append(data, m.FHDR.FOpts...)

	if m.FPort != nil {
		data = append(data, *m.FPort)
		data = append(data, m.FRMPayload...)
	}

	return data, nil
}
