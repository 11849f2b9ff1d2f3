package mcpcan

import (
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
)

// IDLength is the fixed width of the identifier field on the wire.
const IDLength = 4

// MaxDLC is the largest number of data bytes a classic CAN frame carries.
const MaxDLC = 8

type Direction int

const (
	RX Direction = iota
	TX
)

func (d Direction) String() string {
	switch d {
	case TX:
		return "TX"
	case RX:
		return "RX"
	default:
		return "??"
	}
}

// Frame is one CAN message seen on, or sent to, the transceiver module.
// Data beyond DLC is always zero.
type Frame struct {
	ID        string
	DLC       int
	Data      [MaxDLC]byte
	Direction Direction
	Time      time.Time
}

// Payload returns the meaningful data bytes.
func (f Frame) Payload() []byte {
	return f.Data[:f.DLC]
}

// PadID left pads an identifier with zeros up to IDLength characters.
// Longer identifiers are returned unchanged.
func PadID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) >= IDLength {
		return id
	}
	return strings.Repeat("0", IDLength-len(id)) + id
}

// FormatID renders a numeric sweep cursor as a wire identifier.
func FormatID(id int) string {
	return PadID(strconv.Itoa(id))
}

func validIDChar(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func validID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if !validIDChar(id[i]) {
			return false
		}
	}
	return true
}

var (
	txColor  = color.New(color.FgGreen).SprintfFunc()
	rxColor  = color.New(color.FgBlue).SprintfFunc()
	idColor  = color.New(color.FgHiYellow).SprintfFunc()
	ascColor = color.New(color.FgHiBlack).SprintfFunc()
)

func (f Frame) columns() (string, string, string) {
	var data strings.Builder
	for i, b := range f.Data {
		data.WriteString(pad3(b))
		if i != len(f.Data)-1 {
			data.WriteByte(' ')
		}
	}
	return f.ID, strconv.Itoa(f.DLC), data.String()
}

func pad3(b byte) string {
	s := strconv.Itoa(int(b))
	return strings.Repeat(" ", 3-len(s)) + s
}

func (f Frame) String() string {
	id, dlc, data := f.columns()
	return id + " || " + dlc + " || " + data + " || " + f.Direction.String()
}

// ColorString renders the frame like String, with transmitted frames in green
// and received frames in blue.
func (f Frame) ColorString() string {
	id, dlc, data := f.columns()
	dir := f.Direction.String()
	if f.Direction == TX {
		dir = txColor(dir)
	} else {
		dir = rxColor(dir)
	}
	return idColor(id) + " || " + dlc + " || " + data + " || " + dir + " || " + ascColor(onlyPrintable(f.Payload()))
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 126 {
			out.WriteByte('.')
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}
