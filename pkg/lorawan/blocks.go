package lorawan

import "encoding/binary"

// macBlock builds the 16-byte block shared by the B0 authentication
// block and the Ai cipher blocks:
//
//	prefix | 0x00^4 | dir | reverse(DevAddr) | FCnt(LE32) | 0x00 | last
func macBlock(prefix, dir byte, devAddr DevAddr, fCnt uint32, last byte) [16]byte {
	var b [16]byte
	b[0] = prefix
	b[5] = dir
	copy(b[6:10], Reverse(devAddr[:]))
	binary.LittleEndian.PutUint32(b[10:14], fCnt)
	b[15] = last
	return b
}

// B0 builds the first block of the CMAC input for data-frame MICs. The
// full MIC input is B0 | MHDR | MACPayload.
func B0(dir byte, devAddr DevAddr, fCnt uint32, msgLen int) [16]byte {
	return macBlock(0x49, dir, devAddr, fCnt, byte(msgLen))
}

// Ai builds the i-th cipher block for the payload cipher, i >= 1.
func Ai(dir byte, devAddr DevAddr, fCnt uint32, i int) [16]byte {
	return macBlock(0x01, dir, devAddr, fCnt, byte(i))
}

// ComputeDataMIC computes the MIC for a data frame. msg is the raw
// MHDR through the end of the MACPayload.
func ComputeDataMIC(key AES128Key, dir byte, devAddr DevAddr, fCnt uint32, msg []byte) ([4]byte, error) {
	b0 := B0(dir, devAddr, fCnt, len(msg))

	data := make([]byte, 0, 16+len(msg))
	data = append(data, b0[:]...)
	data = append(data, msg...)

	return ComputeMIC(key, data)
}
