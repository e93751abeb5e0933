package enum

import "strings"

// Source identifies where trades entering the pipeline come from.
type Source uint8

const (
	_source_beg Source = iota
	SourceBinance
	SourceSim
	SourceReplay
	_source_end
)

func (s Source) IsAvailable() bool {
	return s > _source_beg && s < _source_end
}

func (s Source) String() string {
	switch s {
	case SourceBinance:
		return "binance"
	case SourceSim:
		return "sim"
	case SourceReplay:
		return "replay"
	default:
		return "unknown"
	}
}

// ParseSource maps a config or flag value to a Source.
func ParseSource(value string) (Source, bool) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "binance":
		return SourceBinance, true
	case "sim", "simulate", "simulated":
		return SourceSim, true
	case "replay":
		return SourceReplay, true
	default:
		return 0, false
	}
}

// SourceNames lists the name of every available source in declaration order.
func SourceNames() []string {
	names := make([]string, 0, int(_source_end-_source_beg)-1)
	for s := _source_beg + 1; s < _source_end; s++ {
		names = append(names, s.String())
	}
	return names
}
