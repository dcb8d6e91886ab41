package collector

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"serial-telemetry/internal/model"
)

// DefaultAbsentMarker marks a channel the device could not read.
const DefaultAbsentMarker = "_"

// Parse decodes one line into a sample with the given number of channels. The
// line must hold a serial-number token followed by the channel tokens; any
// extra leading tokens are discarded. Tokens containing marker, and nan or inf
// readings from a failed sensor, are absent readings.
func Parse(line string, channels int, marker string) (model.Sample, error) {
	if channels < 0 {
		return model.Sample{}, fmt.Errorf("%w: negative channel count %d", ErrIncomplete, channels)
	}
	if marker == "" {
		marker = DefaultAbsentMarker
	}
	want := channels + 1
	fields := strings.Fields(line)
	if len(fields) < want {
		return model.Sample{}, fmt.Errorf("%w: got %d tokens, want %d", ErrIncomplete, len(fields), want)
	}
	fields = fields[len(fields)-want:]

	readings := make([]*float64, want)
	for i, tok := range fields {
		if strings.Contains(tok, marker) {
			continue
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return model.Sample{}, fmt.Errorf("%w: token %d %q", ErrMalformed, i, tok)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		readings[i] = &v
	}
	return model.Sample{
		Serial:   readings[0],
		Channels: readings[1:],
		Raw:      line,
	}, nil
}
