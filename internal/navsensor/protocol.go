package navsensor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrChecksum is returned for a reply whose checksum does not match.
	ErrChecksum = errors.New("navsensor: checksum mismatch")
	// ErrSensor wraps a $VNERR reply.
	ErrSensor = errors.New("navsensor: sensor error")
	// ErrMalformed is returned for a line that is not a $VN sentence.
	ErrMalformed = errors.New("navsensor: malformed sentence")
)

// checksum is the XOR of every byte between '$' and '*'.
func checksum(payload string) byte {
	var c byte
	for i := 0; i < len(payload); i++ {
		c ^= payload[i]
	}
	return c
}

// frame builds a complete request sentence for payload ("VNRRG,58").
func frame(payload string) []byte {
	return []byte(fmt.Sprintf("$%s*%02X\r\n", payload, checksum(payload)))
}

// sentence is a parsed reply.
type sentence struct {
	header string // "VNRRG", "VNWRG", "VNERR", "VNINS", ...
	fields []string
}

// parseSentence validates and splits one received line. A literal "XX"
// checksum is accepted, as the sensor does for requests.
func parseSentence(line string) (sentence, error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "$") {
		return sentence{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	star := strings.LastIndexByte(line, '*')
	if star < 0 || star+3 != len(line) {
		return sentence{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	payload, sum := line[1:star], line[star+1:]
	if !strings.EqualFold(sum, "XX") {
		want, err := strconv.ParseUint(sum, 16, 8)
		if err != nil {
			return sentence{}, fmt.Errorf("%w: %q", ErrMalformed, line)
		}
		if got := checksum(payload); byte(want) != got {
			return sentence{}, fmt.Errorf("%w: got %02X, sentence says %s", ErrChecksum, got, sum)
		}
	}

	parts := strings.Split(payload, ",")
	s := sentence{header: parts[0], fields: parts[1:]}
	if s.header == "VNERR" {
		code := ""
		if len(s.fields) > 0 {
			code = s.fields[0]
		}
		return s, fmt.Errorf("%w: code %s", ErrSensor, code)
	}
	return s, nil
}

// register reports the register id of a VNRRG/VNWRG reply.
func (s sentence) register() (int, bool) {
	if (s.header != "VNRRG" && s.header != "VNWRG") || len(s.fields) == 0 {
		return 0, false
	}
	id, err := strconv.Atoi(s.fields[0])
	if err != nil {
		return 0, false
	}
	return id, true
}
