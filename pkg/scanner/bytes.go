package scanner

// valueStart returns the index of the first non-space byte after the colon
// that follows key, or -1 when key or its value is missing.
func valueStart(payload []byte, key []byte) int {
	idx := IndexOf(payload, key)
	if idx < 0 {
		return -1
	}
	i := idx + len(key)
	for i < len(payload) && payload[i] != ':' {
		i++
	}
	if i >= len(payload) {
		return -1
	}
	i++
	for i < len(payload) && IsSpace(payload[i]) {
		i++
	}
	if i >= len(payload) {
		return -1
	}
	return i
}

// ScanUintField reads an unquoted unsigned integer value.
func ScanUintField(payload []byte, key []byte) (uint64, bool) {
	i := valueStart(payload, key)
	if i < 0 || payload[i] < '0' || payload[i] > '9' {
		return 0, false
	}
	var v uint64
	for i < len(payload) && payload[i] >= '0' && payload[i] <= '9' {
		v = v*10 + uint64(payload[i]-'0')
		i++
	}
	return v, true
}

// ScanStringField returns the raw bytes of a quoted value without unescaping.
func ScanStringField(payload []byte, key []byte) ([]byte, bool) {
	i := valueStart(payload, key)
	if i < 0 || payload[i] != '"' {
		return nil, false
	}
	i++
	start := i
	for i < len(payload) && payload[i] != '"' {
		i++
	}
	if i >= len(payload) {
		return nil, false
	}
	return payload[start:i], true
}

// ScanBoolField reads an unquoted true or false value.
func ScanBoolField(payload []byte, key []byte) (value bool, ok bool) {
	i := valueStart(payload, key)
	if i < 0 {
		return false, false
	}
	rest := payload[i:]
	switch {
	case hasPrefix(rest, "true"):
		return true, true
	case hasPrefix(rest, "false"):
		return false, true
	default:
		return false, false
	}
}

// ScanDecimalField reads a decimal number that may be quoted, as exchanges
// send prices and quantities as strings.
func ScanDecimalField(payload []byte, key []byte) (float64, bool) {
	i := valueStart(payload, key)
	if i < 0 {
		return 0, false
	}
	quoted := payload[i] == '"'
	if quoted {
		i++
	}

	var (
		mantissa uint64
		digits   int
		scale    int
		dot      bool
		start    = i
	)
	for ; i < len(payload); i++ {
		b := payload[i]
		switch {
		case b >= '0' && b <= '9':
			// beyond 19 significant digits the tail is dropped
			if digits < 19 {
				mantissa = mantissa*10 + uint64(b-'0')
				if mantissa != 0 {
					digits++
				}
				if dot {
					scale++
				}
			} else if !dot {
				scale--
			}
		case b == '.' && !dot:
			dot = true
		default:
			goto done
		}
	}
done:
	if i == start || (i == start+1 && dot) {
		return 0, false
	}
	if quoted && (i >= len(payload) || payload[i] != '"') {
		return 0, false
	}

	v := float64(mantissa)
	switch {
	case scale > 0 && scale < len(pow10):
		v /= pow10[scale]
	case scale < 0 && -scale < len(pow10):
		v *= pow10[-scale]
	case scale != 0:
		return 0, false
	}
	return v, true
}

// exact powers of ten representable in float64
var pow10 = [...]float64{1e0, 1e1, 1e2, 1e3, 1e4, 1e5, 1e6, 1e7, 1e8, 1e9, 1e10,
	1e11, 1e12, 1e13, 1e14, 1e15, 1e16, 1e17, 1e18, 1e19, 1e20, 1e21, 1e22}

func hasPrefix(b []byte, s string) bool {
	if len(b) < len(s) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if b[i] != s[i] {
			return false
		}
	}
	return true
}

// IndexOf returns the first index of key in payload, or -1.
func IndexOf(payload []byte, key []byte) int {
	if len(key) == 0 || len(payload) < len(key) {
		return -1
	}
outer:
	for i := 0; i <= len(payload)-len(key); i++ {
		for j := 0; j < len(key); j++ {
			if payload[i+j] != key[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}

func IsSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
