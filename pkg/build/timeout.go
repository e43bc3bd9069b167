package build

import (
	"regexp"
	"strconv"
	"time"
)

// timeoutRegex matches a lock timeout expression: decimal digits followed
// immediately by a unit abbreviation. No whitespace, sign or fraction.
var timeoutRegex = regexp.MustCompile(`^(\d+)(\S{1,2})$`)

// TimeoutParser holds the result of parsing a lock timeout expression.
//
// Valid expressions are composed of an integer amount and a standard time
// unit abbreviation:
//
//	100ns - 100 nanoseconds
//	300µs - 300 microseconds
//	500ms - 500 milliseconds
//	  10s -  10 seconds
//	   2m -   2 minutes
//	   1h -   1 hour
//
// Parsing is deliberately permissive: an expression that does not match the
// grammar leaves the parser in an invalid state instead of producing an
// error. An invalid parser simply withholds its value from the build
// process, so the engine's own default timeout applies. Callers must guard
// Amount and Unit with Valid.
type TimeoutParser struct {
	expr   string
	amount int64
	unit   time.Duration
}

// ParseTimeout parses a lock timeout expression. It never fails; check
// Valid on the result.
func ParseTimeout(expr string) *TimeoutParser {
	p := &TimeoutParser{expr: expr, amount: -1}
	m := timeoutRegex.FindStringSubmatch(expr)
	if m == nil {
		return p
	}
	amount, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return p
	}
	p.amount = amount
	p.unit = unitFor(m[2])
	return p
}

// Valid reports whether the parser holds a usable timeout: a recognized
// unit and a strictly positive amount.
func (p *TimeoutParser) Valid() bool {
	return p.unit != 0 && p.amount > 0
}

// Amount returns the number of time units. Meaningful only when Valid
// returns true.
func (p *TimeoutParser) Amount() int64 { return p.amount }

// Unit returns the resolved time unit. Meaningful only when Valid returns
// true.
func (p *TimeoutParser) Unit() time.Duration { return p.unit }

// Duration returns the timeout as a single duration, or zero when the
// parser is invalid.
func (p *TimeoutParser) Duration() time.Duration {
	if !p.Valid() {
		return 0
	}
	return time.Duration(p.amount) * p.unit
}

// Expr returns the original expression.
func (p *TimeoutParser) Expr() string { return p.expr }

func unitFor(abbr string) time.Duration {
	switch abbr {
	case "ns":
		return time.Nanosecond
	case "µs":
		return time.Microsecond
	case "ms":
		return time.Millisecond
	case "s":
		return time.Second
	case "m":
		return time.Minute
	case "h":
		return time.Hour
	}
	return 0
}
