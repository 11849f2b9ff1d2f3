package mcpcan

// DefaultSpeed is the bit-rate selected when nothing else is configured.
const DefaultSpeed = "100 kbps"

// DefaultSpeedCode is what SpeedCode returns for a label it does not know.
// The module firmware has always been driven this way, so a typo in the speed
// silently selects 100 kbps instead of failing.
const DefaultSpeedCode = "11"

var speedTable = []struct {
	label string
	code  string
}{
	{"5 kbps", "01"},
	{"10 kbps", "02"},
	{"20 kbps", "03"},
	{"31.25 kbps", "04"},
	{"33 kbps", "05"},
	{"40 kbps", "06"},
	{"50 kbps", "07"},
	{"80 kbps", "08"},
	{"83.3 kbps", "09"},
	{"95 kbps", "10"},
	{"100 kbps", "11"},
	{"125 kbps", "12"},
	{"200 kbps", "13"},
	{"250 kbps", "14"},
	{"500 kbps", "15"},
	{"1000 kbps", "16"},
}

var speedCodes = func() map[string]string {
	m := make(map[string]string, len(speedTable))
	for _, s := range speedTable {
		m[s.label] = s.code
	}
	return m
}()

// LookupSpeed returns the two digit code for a bit-rate label.
func LookupSpeed(label string) (string, bool) {
	code, ok := speedCodes[label]
	return code, ok
}

// SpeedCode returns the two digit code for label, or DefaultSpeedCode on a miss.
func SpeedCode(label string) string {
	if code, ok := LookupSpeed(label); ok {
		return code
	}
	return DefaultSpeedCode
}

// Speeds lists the supported labels, slowest first.
func Speeds() []string {
	out := make([]string, len(speedTable))
	for i, s := range speedTable {
		out[i] = s.label
	}
	return out
}
