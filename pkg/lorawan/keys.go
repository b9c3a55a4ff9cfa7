package lorawan

import "crypto/aes"

// DeriveSessionKeys derives the session keys according to LoRaWAN 1.0.x:
//
//	NwkSKey = aes128_encrypt(AppKey, 0x01 | AppNonce | NetID | DevNonce | pad16)
//	AppSKey = aes128_encrypt(AppKey, 0x02 | AppNonce | NetID | DevNonce | pad16)
func DeriveSessionKeys(appKey AES128Key, appNonce [3]byte, netID NetID, devNonce [2]byte) (nwkSKey, appSKey AES128Key, err error) {
	block, err := aes.NewCipher(appKey[:])
	if err != nil {
		return nwkSKey, appSKey, err
	}

	msg := make([]byte, 16)
	copy(msg[1:4], appNonce[:])
	copy(msg[4:7], netID[:])
	copy(msg[7:9], devNonce[:])

	msg[0] = 0x01
	block.Encrypt(nwkSKey[:], msg)

	msg[0] = 0x02
	block.Encrypt(appSKey[:], msg)

	return nwkSKey, appSKey, nil
}

// EncryptJoinAccept encrypts a join-accept MACPayload|MIC. The network
// server ECB-decrypts the plaintext so that the device recovers it by
// ECB-encrypting; this is per spec, not a mistake.
func EncryptJoinAccept(key AES128Key, payload []byte) ([]byte, error) {
	payload = pad16(payload)

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(payload))
	for i := 0; i < len(payload); i += 16 {
		block.Decrypt(out[i:i+16], payload[i:i+16])
	}

	return out, nil
}

// DecryptJoinAccept is the device-side inverse of EncryptJoinAccept.
func DecryptJoinAccept(key AES128Key, payload []byte) ([]byte, error) {
	if len(payload)%16 != 0 {
		return nil, errInvalidBlockLength
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(payload))
	for i := 0; i < len(payload); i += 16 {
		block.Encrypt(out[i:i+16], payload[i:i+16])
	}

	return out, nil
}
