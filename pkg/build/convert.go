package build

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Alignment is the memory alignment policy for entries and for values
// within entries.
type Alignment int

const (
	// AlignmentUnset means no policy was configured; the engine default
	// applies and nothing is forwarded during construction.
	AlignmentUnset Alignment = iota
	// AlignmentNone disables alignment.
	AlignmentNone
	// Alignment4Bytes aligns to 4-byte boundaries.
	Alignment4Bytes
	// Alignment8Bytes aligns to 8-byte boundaries.
	Alignment8Bytes
)

// String returns the canonical token for the alignment.
func (a Alignment) String() string {
	switch a {
	case AlignmentNone:
		return "none"
	case Alignment4Bytes:
		return "4-bytes"
	case Alignment8Bytes:
		return "8-bytes"
	}
	return "unset"
}

// Bytes returns the alignment boundary in bytes. Unset and disabled both
// report 1 (no padding).
func (a Alignment) Bytes() int {
	switch a {
	case Alignment4Bytes:
		return 4
	case Alignment8Bytes:
		return 8
	}
	return 1
}

// ParseAlignment converts the textual form of an alignment policy.
// Matching is case-insensitive and tolerates surrounding whitespace.
func ParseAlignment(text string) (Alignment, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "none", "no-alignment":
		return AlignmentNone, nil
	case "4", "4-bytes", "of-4-bytes":
		return Alignment4Bytes, nil
	case "8", "8-bytes", "of-8-bytes":
		return Alignment8Bytes, nil
	}
	return AlignmentUnset, fmt.Errorf("%w: unknown alignment %q", ErrInvalidArgument, text)
}

// HostPort is a network endpoint entries are pushed to. Scheme selects the
// push protocol; empty means the engine default.
type HostPort struct {
	Scheme string
	Host   string
	Port   int
}

// String renders the endpoint back to its textual form.
func (hp HostPort) String() string {
	s := net.JoinHostPort(hp.Host, strconv.Itoa(hp.Port))
	if hp.Scheme != "" {
		s = hp.Scheme + "://" + s
	}
	return s
}

// Addr returns the host:port part without the scheme.
func (hp HostPort) Addr() string {
	return net.JoinHostPort(hp.Host, strconv.Itoa(hp.Port))
}

// ParseHostPort converts the textual form of a push endpoint. Accepted
// forms are "host:port", a bare host (port 0), a bracketed IPv6 literal,
// and any of those prefixed with "scheme://".
func ParseHostPort(text string) (HostPort, error) {
	if strings.TrimSpace(text) == "" {
		return HostPort{}, fmt.Errorf("%w: empty address", ErrInvalidArgument)
	}
	var hp HostPort
	if i := strings.Index(text, "://"); i >= 0 {
		hp.Scheme = strings.ToLower(text[:i])
		text = text[i+3:]
	}

	lastColon := strings.LastIndexByte(text, ':')
	if lastColon < 0 {
		hp.Host = text
		return hp, nil
	}
	// A ']' after the last colon means an unbracketed-port IPv6 literal:
	// the whole text is the host.
	if strings.IndexByte(text[lastColon+1:], ']') >= 0 {
		hp.Host = text
		return hp, nil
	}
	port, err := strconv.Atoi(text[lastColon+1:])
	if err != nil {
		return HostPort{}, fmt.Errorf("%w: bad port number in %q", ErrInvalidArgument, text)
	}
	hp.Host = strings.Trim(text[:lastColon], "[]")
	hp.Port = port
	return hp, nil
}
