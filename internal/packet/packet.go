// Package packet implements the BK72xx bootloader's framed wire protocol:
// encoding commands into the preamble/length/code envelope the chip
// expects, and decoding the matching response envelope back out of a byte
// stream. It knows nothing about retries, resyncing, or timeouts — that is
// internal/session's job, layered on top.
package packet

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire preambles and markers. Short commands/responses fit their length in
// a single byte; long ones switch to a 2-byte length prefixed by an extra
// marker byte sequence.
var (
	CmndPreamble = []byte{0x01, 0xE0, 0xFC}
	CmndLong     = []byte{0xFF, 0xF4}
	RespPreamble = []byte{0x04, 0x0E}
	RespData     = []byte{0x01, 0xE0, 0xFC}
	RespLong     = []byte{0xF4}
)

var (
	// ErrNoResponse means the response preamble never arrived before the
	// underlying reader gave up (read timeout, or the stream closed).
	ErrNoResponse = errors.New("packet: no response received")
	// ErrInvalidPayload means a HAS_RESP_SAME echo check failed: the chip
	// answered, but its echoed fields didn't match what was sent.
	ErrInvalidPayload = errors.New("packet: invalid response payload")
	// ErrPartialResponse means a response of the expected code arrived but
	// was too short to decode into its fixed fields.
	ErrPartialResponse = errors.New("packet: partial response received")
)

// Cmnd is a single outbound command packet.
type Cmnd interface {
	Code() byte
	Long() bool
	// Marshal returns the command's field payload (not the wire envelope).
	Marshal() []byte
	// RespSame reports the byte range within the response frame's payload
	// that must echo the first (end-start) bytes of this command's own
	// Marshal() output, or ok=false if there is no such check.
	RespSame() (start, end int, ok bool)
	// NewResp returns a fresh response value to Unmarshal the chip's reply
	// into, or nil if this command has no distinct response type (only an
	// echo check and/or a bare acknowledgement).
	NewResp() Resp
}

// Resp is a response packet, decoded from the bytes following a matched
// response code.
type Resp interface {
	Code() byte
	Unmarshal(data []byte) error
}

// Encode serializes cmnd into its full wire frame, ready to write to the
// serial port.
func Encode(cmnd Cmnd) []byte {
	data := cmnd.Marshal()
	size := len(data) + 1 // + code byte

	var out bytes.Buffer
	out.Write(CmndPreamble)
	if size >= 0xFF || cmnd.Long() {
		out.Write(CmndLong)
		binary.Write(&out, binary.LittleEndian, uint16(size))
	} else {
		out.WriteByte(byte(size))
	}
	out.WriteByte(cmnd.Code())
	out.Write(data)
	return out.Bytes()
}

// readUntil reads bytes one at a time until the trailing bytes read equal
// delim, returning everything read including the delimiter. It mirrors
// pyserial's Serial.read_until for multi-byte delimiters.
func readUntil(r *bufio.Reader, delim []byte) ([]byte, error) {
	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return buf, err
		}
		buf = append(buf, b)
		if bytes.HasSuffix(buf, delim) {
			return buf, nil
		}
	}
}

// DecodeResponse reads one response frame matching cmnd from r. On success
// it returns the decoded Resp (nil if cmnd has no distinct response type,
// in which case a successful echo/ack check is all that's reported).
func DecodeResponse(r *bufio.Reader, cmnd Cmnd) (Resp, error) {
	resp := cmnd.NewResp()
	var responseCode byte
	if resp != nil {
		responseCode = resp.Code()
	} else {
		responseCode = cmnd.Code()
	}

	for {
		tail, err := readUntil(r, RespPreamble)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoResponse, err)
		}
		if !bytes.HasSuffix(tail, RespPreamble) {
			return nil, ErrNoResponse
		}

		sizeByte, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoResponse, err)
		}
		size := int(sizeByte)
		if cmnd.Long() != (size == 0xFF) {
			continue
		}

		if _, err := readUntil(r, RespData); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoResponse, err)
		}

		var code byte
		if cmnd.Long() {
			if _, err := readUntil(r, RespLong); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrNoResponse, err)
			}
			hdr := make([]byte, 3)
			if _, err := readFull(r, hdr); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrNoResponse, err)
			}
			size = int(binary.LittleEndian.Uint16(hdr[0:2]))
			code = hdr[2]
			size -= 1 // code
		} else {
			b, err := r.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrNoResponse, err)
			}
			code = b
			size -= 4 // code + RespData
		}

		if code == responseCode {
			body := make([]byte, size)
			if _, err := readFull(r, body); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrNoResponse, err)
			}

			if start, end, ok := cmnd.RespSame(); ok {
				want := cmnd.Marshal()
				checkLen := end - start
				if checkLen < 0 || start+checkLen > len(body) || checkLen > len(want) {
					return nil, ErrInvalidPayload
				}
				if !bytes.Equal(body[start:start+checkLen], want[:checkLen]) {
					return nil, ErrInvalidPayload
				}
			}

			if resp == nil {
				return nil, nil
			}
			if err := resp.Unmarshal(body); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrPartialResponse, err)
			}
			return resp, nil
		}
		// Response code mismatch: keep scanning for a valid packet.
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
