package lorawan

import "crypto/aes"

// CipherFRMPayload applies the LoRaWAN payload cipher: block i of the
// payload is XORed with AES-ECB(key, Ai). The operation is its own
// inverse, so it both encrypts and decrypts.
func CipherFRMPayload(key AES128Key, dir byte, devAddr DevAddr, fCnt uint32, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	k := (len(payload) + 15) / 16

	s := make([]byte, 16*k)
	for i := 0; i < k; i++ {
		ai := Ai(dir, devAddr, fCnt, i+1)
		block.Encrypt(s[i*16:(i+1)*16], ai[:])
	}

	out := make([]byte, len(payload))
	for i := range payload {
		out[i] = payload[i] ^ s[i]
	}

	return out, nil
}

// pad16 zero-right-pads b to a multiple of 16 bytes.
func pad16(b []byte) []byte {
	if len(b)%16 == 0 {
		return b
	}
	padded := make([]byte, len(b)+16-len(b)%16)
	copy(padded, b)
	return padded
}
