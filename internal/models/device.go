package models

import (
	"fmt"
	"time"

	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

// FCntCheck selects the frame-counter validation mode of a device.
type FCntCheck int

const (
	FCntCheckStrict16 FCntCheck = iota
	FCntCheckStrict32
	FCntCheckResetAllowed
	FCntCheckDisabled
)

// String implements fmt.Stringer
func (f FCntCheck) String() string {
	switch f {
	case FCntCheckStrict16:
		return "strict-16"
	case FCntCheckStrict32:
		return "strict-32"
	case FCntCheckResetAllowed:
		return "reset-allowed"
	case FCntCheckDisabled:
		return "disabled"
	}
	return fmt.Sprintf("fcnt-check(%d)", int(f))
}

// Device represents an OTAA device record.
type Device struct {
	DevEUI  lorawan.EUI64     `json:"devEUI" db:"dev_eui"`
	AppKey  lorawan.AES128Key `json:"-" db:"app_key"`
	CanJoin bool              `json:"canJoin" db:"can_join"`
	Region  string            `json:"region" db:"region"`

	// Application binding
	App     string `json:"app" db:"app"`
	AppID   string `json:"appID" db:"app_id"`
	AppArgs string `json:"appArgs,omitempty" db:"app_args"`

	// Initial link settings, copied to the link at join
	ADRFlagSet *bool              `json:"adrFlagSet,omitempty" db:"adr_flag_set"`
	ADRSet     *lorawan.ADRConfig `json:"adrSet,omitempty" db:"adr_set"`
	RXWinSet   *lorawan.RXWin     `json:"rxwinSet,omitempty" db:"rxwin_set"`
	FCntCheck  FCntCheck          `json:"fcntCheck" db:"fcnt_check"`

	LastJoin *time.Time       `json:"lastJoin,omitempty" db:"last_join"`
	DevAddr  *lorawan.DevAddr `json:"devAddr,omitempty" db:"dev_addr"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
