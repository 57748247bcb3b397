package roboclaw

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/snksoft/crc"
)

// frames are encoded as [ADDRESS] [COMMAND] [0..n data bytes] [CRC-16]
// with the CRC computed over every preceding byte.  Responses to get
// commands append a CRC computed over the request and the returned data
// together, so corruption on either leg is caught.

var crcTable = crc.NewTable(crc.XMODEM)

// crcBytes computes the two-byte big-endian CRC over buf.
func crcBytes(buf []byte) []byte {
	crcUint := crcTable.InitCrc()
	crcUint = crcTable.UpdateCrc(crcUint, buf)
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, crcTable.CRC16(crcUint))
	return out
}

// checkCRC compares a received CRC against one computed over the covered
// bytes.
func checkCRC(covered, received []byte) error {
	if !bytes.Equal(received, crcBytes(covered)) {
		return errors.New("crc mismatch, data lost in transmission and controller state unknown")
	}
	return nil
}
