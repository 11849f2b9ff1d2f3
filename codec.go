package mcpcan

import (
	"strconv"
	"strings"
)

// Outgoing frame layout:
//
//	'1' + speed(2) + id(4) + 8 * data(3) + 'A'
//
// every data byte is rendered as three zero padded decimal digits and all
// eight bytes are always present.
const (
	WireFrameSize = 1 + 2 + IDLength + MaxDLC*3 + 1

	wireStart = '1'
	wireEnd   = 'A'

	// RecvPrefix starts every frame line reported by the module.
	RecvPrefix = "R;"
)

// Encode builds the wire representation of a frame. data may be shorter than
// eight bytes and is zero padded.
func Encode(canID, speedCode string, data []int) ([]byte, error) {
	if !validID(canID) {
		return nil, &EncodingError{Field: "id", Reason: strconv.Quote(canID) + " is not " + strconv.Itoa(IDLength) + " id characters"}
	}
	if len(speedCode) != 2 || !isDigit(speedCode[0]) || !isDigit(speedCode[1]) {
		return nil, &EncodingError{Field: "speed", Reason: strconv.Quote(speedCode) + " is not a two digit code"}
	}
	if len(data) > MaxDLC {
		return nil, &EncodingError{Field: "data", Reason: strconv.Itoa(len(data)) + " bytes, max is 8"}
	}
	for i, v := range data {
		if v < 0 || v > 255 {
			return nil, &EncodingError{Field: "data", Reason: "D" + strconv.Itoa(i) + " = " + strconv.Itoa(v) + " is outside 0-255"}
		}
	}

	buf := make([]byte, 0, WireFrameSize)
	buf = append(buf, wireStart)
	buf = append(buf, speedCode...)
	buf = append(buf, canID...)
	for i := 0; i < MaxDLC; i++ {
		var v int
		if i < len(data) {
			v = data[i]
		}
		buf = appendByte3(buf, byte(v))
	}
	buf = append(buf, wireEnd)
	return buf, nil
}

// EncodeFrame encodes all eight data bytes of f.
func EncodeFrame(f Frame, speedCode string) ([]byte, error) {
	data := make([]int, MaxDLC)
	for i, b := range f.Data {
		data[i] = int(b)
	}
	return Encode(f.ID, speedCode, data)
}

func appendByte3(buf []byte, b byte) []byte {
	return append(buf, '0'+b/100, '0'+(b/10)%10, '0'+b%10)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// Decode parses one line received from the module. Lines that do not start
// with RecvPrefix are not frames and yield nil without an error.
func Decode(line string) (*Frame, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, RecvPrefix) {
		return nil, nil
	}
	parts := strings.Split(line, ";")
	if len(parts) < 3 {
		return nil, &DecodeError{Line: line, Reason: "missing id or dlc"}
	}

	id := strings.TrimSpace(parts[1])
	if id == "" || !validID(PadID(id)) {
		return nil, &DecodeError{Line: line, Reason: "bad id " + strconv.Quote(id)}
	}

	dlc, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return nil, &DecodeError{Line: line, Reason: "bad dlc: " + err.Error()}
	}
	if dlc < 0 || dlc > MaxDLC {
		return nil, &DecodeError{Line: line, Reason: "dlc " + strconv.Itoa(dlc) + " out of range"}
	}
	if len(parts)-3 < dlc {
		return nil, &DecodeError{Line: line, Reason: "dlc " + strconv.Itoa(dlc) + " but " + strconv.Itoa(len(parts)-3) + " data fields"}
	}

	f := &Frame{
		ID:        PadID(id),
		DLC:       dlc,
		Direction: RX,
	}
	for i := 0; i < dlc; i++ {
		v, err := strconv.Atoi(strings.TrimSpace(parts[3+i]))
		if err != nil {
			return nil, &DecodeError{Line: line, Reason: "bad D" + strconv.Itoa(i) + ": " + err.Error()}
		}
		if v < 0 || v > 255 {
			return nil, &DecodeError{Line: line, Reason: "D" + strconv.Itoa(i) + " = " + strconv.Itoa(v) + " out of range"}
		}
		f.Data[i] = byte(v)
	}
	return f, nil
}

// FormatLine renders f the way the module reports a received frame, without
// the line terminator.
func FormatLine(f Frame) string {
	var sb strings.Builder
	sb.WriteString(RecvPrefix)
	sb.WriteString(f.ID)
	sb.WriteByte(';')
	sb.WriteString(strconv.Itoa(f.DLC))
	for _, b := range f.Payload() {
		sb.WriteByte(';')
		sb.WriteString(strconv.Itoa(int(b)))
	}
	return sb.String()
}

// WireFrame is an outgoing frame parsed back from its wire form.
type WireFrame struct {
	SpeedCode string
	ID        string
	Data      [MaxDLC]byte
}

// ParseWire is the inverse of Encode.
func ParseWire(b []byte) (WireFrame, error) {
	var wf WireFrame
	if len(b) != WireFrameSize {
		return wf, &DecodeError{Line: string(b), Reason: "length " + strconv.Itoa(len(b)) + ", want " + strconv.Itoa(WireFrameSize)}
	}
	if b[0] != wireStart || b[len(b)-1] != wireEnd {
		return wf, &DecodeError{Line: string(b), Reason: "missing start or end marker"}
	}
	wf.SpeedCode = string(b[1:3])
	wf.ID = string(b[3 : 3+IDLength])
	if !validID(wf.ID) {
		return wf, &DecodeError{Line: string(b), Reason: "bad id " + strconv.Quote(wf.ID)}
	}
	body := b[3+IDLength : len(b)-1]
	for i := 0; i < MaxDLC; i++ {
		v, err := strconv.Atoi(string(body[i*3 : i*3+3]))
		if err != nil || v < 0 || v > 255 {
			return wf, &DecodeError{Line: string(b), Reason: "bad D" + strconv.Itoa(i)}
		}
		wf.Data[i] = byte(v)
	}
	return wf, nil
}
