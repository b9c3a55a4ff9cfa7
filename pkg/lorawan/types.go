package lorawan

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// EUI64 represents an 8-byte Extended Unique Identifier in logical
// (big-endian) byte order. The wire carries it little-endian; the codec
// reverses at the parse and serialize boundaries.
type EUI64 [8]byte

// String returns hex string representation
func (e EUI64) String() string {
	return hex.EncodeToString(e[:])
}

// MarshalJSON implements json.Marshaler
func (e EUI64) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (e *EUI64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}

	if len(b) != 8 {
		return fmt.Errorf("invalid EUI64 length")
	}

	copy(e[:], b)
	return nil
}

// Value implements driver.Valuer
func (e EUI64) Value() (driver.Value, error) {
	return e[:], nil
}

// Scan implements sql.Scanner
func (e *EUI64) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into EUI64", value)
	}
	if len(b) != 8 {
		return fmt.Errorf("invalid EUI64 length")
	}
	copy(e[:], b)
	return nil
}

// ParseEUI64 parses a hex string into an EUI64.
func ParseEUI64(s string) (EUI64, error) {
	var e EUI64
	b, err := hex.DecodeString(s)
	if err != nil {
		return e, err
	}
	if len(b) != 8 {
		return e, fmt.Errorf("invalid EUI64 length")
	}
	copy(e[:], b)
	return e, nil
}

// DevAddr represents a 4-byte device address in logical byte order.
type DevAddr [4]byte

// String returns hex string representation
func (d DevAddr) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalJSON implements json.Marshaler
func (d DevAddr) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (d *DevAddr) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}

	if len(b) != 4 {
		return fmt.Errorf("invalid DevAddr length")
	}

	copy(d[:], b)
	return nil
}

// Value implements driver.Valuer
func (d DevAddr) Value() (driver.Value, error) {
	return d[:], nil
}

// Scan implements sql.Scanner
func (d *DevAddr) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into DevAddr", value)
	}
	if len(b) != 4 {
		return fmt.Errorf("invalid DevAddr length")
	}
	copy(d[:], b)
	return nil
}

// NwkID returns the 7-bit network identifier embedded in the address.
func (d DevAddr) NwkID() byte {
	return d[0] >> 1
}

// ParseDevAddr parses a hex string into a DevAddr.
func ParseDevAddr(s string) (DevAddr, error) {
	var d DevAddr
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, err
	}
	if len(b) != 4 {
		return d, fmt.Errorf("invalid DevAddr length")
	}
	copy(d[:], b)
	return d, nil
}

// AES128Key represents a 128-bit AES key
type AES128Key [16]byte

// String returns hex string representation
func (k AES128Key) String() string {
	return hex.EncodeToString(k[:])
}

// MarshalJSON implements json.Marshaler
func (k AES128Key) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (k *AES128Key) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}

	if len(b) != 16 {
		return fmt.Errorf("invalid AES128Key length")
	}

	copy(k[:], b)
	return nil
}

// Value implements driver.Valuer
func (k AES128Key) Value() (driver.Value, error) {
	return k[:], nil
}

// Scan implements sql.Scanner
func (k *AES128Key) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into AES128Key", value)
	}
	if len(b) != 16 {
		return fmt.Errorf("invalid AES128Key length")
	}
	copy(k[:], b)
	return nil
}

// ParseAES128Key parses a hex string into an AES128Key.
func ParseAES128Key(s string) (AES128Key, error) {
	var k AES128Key
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, err
	}
	if len(b) != 16 {
		return k, fmt.Errorf("invalid AES128Key length")
	}
	copy(k[:], b)
	return k, nil
}

// NetID represents a 3-byte network identifier.
type NetID [3]byte

// String returns hex string representation
func (n NetID) String() string {
	return hex.EncodeToString(n[:])
}

// NwkID returns the low 7 bits of the NetID.
func (n NetID) NwkID() byte {
	return n[2] & 0x7F
}

// Value implements driver.Valuer
func (n NetID) Value() (driver.Value, error) {
	return n[:], nil
}

// Scan implements sql.Scanner
func (n *NetID) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into NetID", value)
	}
	if len(b) != 3 {
		return fmt.Errorf("invalid NetID length")
	}
	copy(n[:], b)
	return nil
}

// ParseNetID parses a hex string into a NetID.
func ParseNetID(s string) (NetID, error) {
	var n NetID
	b, err := hex.DecodeString(s)
	if err != nil {
		return n, err
	}
	if len(b) != 3 {
		return n, fmt.Errorf("invalid NetID length")
	}
	copy(n[:], b)
	return n, nil
}

// MType represents the message type
type MType byte

const (
	JoinRequest MType = iota
	JoinAccept
	UnconfirmedDataUp
	UnconfirmedDataDown
	ConfirmedDataUp
	ConfirmedDataDown
	RFU
	Proprietary
)

// Uplink reports whether the message type travels device to network.
func (m MType) Uplink() bool {
	switch m {
	case JoinRequest, UnconfirmedDataUp, ConfirmedDataUp:
		return true
	}
	return false
}

// Dir returns the cipher and MIC direction byte for a data message
// type: 0 for uplink, 1 for downlink.
func (m MType) Dir() byte {
	return byte(m) & 0x01
}

// Major represents the LoRaWAN major version
type Major byte

const (
	LoRaWAN1_0 Major = 0
)

// Reverse returns a copy of b in reverse byte order.
func Reverse(b []byte) []byte {
	r := make([]byte, len(b))
	for i, v := range b {
		r[len(b)-1-i] = v
	}
	return r
}
