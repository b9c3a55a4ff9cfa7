package models

import (
	"time"

	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

// DevStat is the most recent device-status answer of a link.
type DevStat struct {
	Battery uint8 `json:"battery"`
	Margin  int8  `json:"margin"`
}

// QS is one entry of the recent link-quality window.
type QS struct {
	RSSI int     `json:"rssi"`
	SNR  float64 `json:"snr"`
}

// Link represents an active device session, keyed by DevAddr. Session
// keys are immutable for the lifetime of the link; a re-join replaces
// the row atomically.
type Link struct {
	DevAddr lorawan.DevAddr `json:"devAddr" db:"dev_addr"`
	DevEUI  lorawan.EUI64   `json:"devEUI" db:"dev_eui"`
	Region  string          `json:"region" db:"region"`

	// Application binding, copied from the device at join
	App     string `json:"app" db:"app"`
	AppID   string `json:"appID" db:"app_id"`
	AppArgs string `json:"appArgs,omitempty" db:"app_args"`

	// Session keys
	NwkSKey lorawan.AES128Key `json:"-" db:"nwks_key"`
	AppSKey lorawan.AES128Key `json:"-" db:"apps_key"`

	// Frame counters
	FCntUp    uint32    `json:"fcntUp" db:"fcntup"`
	FCntDown  uint32    `json:"fcntDown" db:"fcntdown"`
	FCntCheck FCntCheck `json:"fcntCheck" db:"fcnt_check"`

	// ADR state
	ADRFlagUse bool               `json:"adrFlagUse" db:"adr_flag_use"`
	ADRFlagSet *bool              `json:"adrFlagSet,omitempty" db:"adr_flag_set"`
	ADRUse     *lorawan.ADRConfig `json:"adrUse,omitempty" db:"adr_use"`
	ADRSet     *lorawan.ADRConfig `json:"adrSet,omitempty" db:"adr_set"`

	// RX-window state
	RXWinUse lorawan.RXWin `json:"rxwinUse" db:"rxwin_use"`
	RXWinSet lorawan.RXWin `json:"rxwinSet" db:"rxwin_set"`

	// Last radio context
	LastMAC lorawan.EUI64 `json:"lastMAC" db:"last_mac"`
	LastRxQ *lorawan.RxQ  `json:"lastRxQ,omitempty" db:"last_rxq"`

	// Diagnostics
	DevStat     *DevStat `json:"devstat,omitempty" db:"devstat"`
	DevStatFCnt uint32   `json:"devstatFCnt" db:"devstat_fcnt"`
	LastQs      []QS     `json:"lastQs,omitempty" db:"last_qs"`

	LastRX    *time.Time `json:"lastRX,omitempty" db:"last_rx"`
	LastReset *time.Time `json:"lastReset,omitempty" db:"last_reset"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
}

// ADRFlag returns the FCtrl ADR bit for downlinks: set only when the
// desired flag is explicitly enabled.
func (l *Link) ADRFlag() bool {
	return l.ADRFlagSet != nil && *l.ADRFlagSet
}
