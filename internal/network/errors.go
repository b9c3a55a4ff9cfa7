package network

import (
	"fmt"

	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

// ErrorKind enumerates the engine's error classes. All of them are
// returned to the gateway transport; none are fatal.
type ErrorKind int

const (
	KindUnknownMAC ErrorKind = iota
	KindUnknownDevEUI
	KindUnknownDevAddr
	KindBadMIC
	KindBadFrame
	KindDoubleFOpts
	KindFCntGapTooLarge
	KindNotAllowed
)

// String implements fmt.Stringer
func (k ErrorKind) String() string {
	switch k {
	case KindUnknownMAC:
		return "unknown_mac"
	case KindUnknownDevEUI:
		return "unknown_deveui"
	case KindUnknownDevAddr:
		return "unknown_devaddr"
	case KindBadMIC:
		return "bad_mic"
	case KindBadFrame:
		return "bad_frame"
	case KindDoubleFOpts:
		return "double_fopts"
	case KindFCntGapTooLarge:
		return "fcnt_gap_too_large"
	case KindNotAllowed:
		return "not_allowed"
	}
	return fmt.Sprintf("error(%d)", int(k))
}

// Error is a diagnostic returned to the gateway transport.
type Error struct {
	Kind ErrorKind

	// ID names the offending entity: gateway MAC, DevEUI, or
	// DevAddr, depending on the kind.
	ID string

	// FCnt is set for fcnt_gap_too_large.
	FCnt uint32
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Kind == KindFCntGapTooLarge {
		return fmt.Sprintf("%s: %s fcnt=%d", e.Kind, e.ID, e.FCnt)
	}
	if e.ID != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.ID)
	}
	return e.Kind.String()
}

func errUnknownMAC(mac lorawan.EUI64) error {
	return &Error{Kind: KindUnknownMAC, ID: mac.String()}
}

func errUnknownDevEUI(devEUI lorawan.EUI64) error {
	return &Error{Kind: KindUnknownDevEUI, ID: devEUI.String()}
}

func errUnknownDevAddr(devAddr lorawan.DevAddr) error {
	return &Error{Kind: KindUnknownDevAddr, ID: devAddr.String()}
}

func errBadMIC(id fmt.Stringer) error {
	return &Error{Kind: KindBadMIC, ID: id.String()}
}

func errBadFrame(data []byte) error {
	return &Error{Kind: KindBadFrame, ID: fmt.Sprintf("%x", data)}
}

func errFCntGap(devAddr lorawan.DevAddr, fcnt uint32) error {
	return &Error{Kind: KindFCntGapTooLarge, ID: devAddr.String(), FCnt: fcnt}
}
