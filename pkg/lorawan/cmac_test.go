package lorawan

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

// RFC 4493 test vectors.
func TestAESCMAC(t *testing.T) {
	key, err := ParseAES128Key("2b7e151628aed2a6abf7158809cf4f3c")
	require.NoError(t, err)

	msg, err := hex.DecodeString(
		"6bc1bee22e409f96e93d7e117393172a" +
			"ae2d8a571e03ac9c9eb76fac45af8e51" +
			"30c81c46a35ce411e5fbc1191a0a52ef" +
			"f69f2445df4f9b17ad2b417be66c3710")
	require.NoError(t, err)

	tests := []struct {
		name string
		msg  []byte
		tag  string
	}{
		{"empty", nil, "bb1d6929e95937287fa37d129b756746"},
		{"one block", msg[:16], "070a16b46b4d4144f79bdd9dd04a287c"},
		{"40 bytes", msg[:40], "dfa66747de9ae63030ca32611497c827"},
		{"four blocks", msg, "51f0bebf7e3b9d92fc49741779363cfe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, err := AESCMAC(key, tt.msg)
			require.NoError(t, err)
			require.Equal(t, tt.tag, hex.EncodeToString(tag[:]))
		})
	}
}

func TestComputeMICTruncation(t *testing.T) {
	key, err := ParseAES128Key("2b7e151628aed2a6abf7158809cf4f3c")
	require.NoError(t, err)

	mic, err := ComputeMIC(key, nil)
	require.NoError(t, err)
	require.Equal(t, "bb1d6929", hex.EncodeToString(mic[:]))
}
