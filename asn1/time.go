package asn1

import (
	"bytes"
	"fmt"
	"time"
)

// Time is a UTCTime or GeneralizedTime value. Raw holds the content octets,
// which always match the grammar of Type; fractional seconds of a
// GeneralizedTime are kept as written.
type Time struct {
	Type uint32
	Raw  []byte
}

// NewTime returns the DER representation of t in UTC, truncated to whole
// seconds. Years 1950 through 2049 use UTCTime and all others
// GeneralizedTime, as RFC 5280 Section 4.1.2.5 requires.
func NewTime(t time.Time) (Time, error) {
	t = t.UTC()
	if y := t.Year(); y >= 1950 && y < 2050 {
		return Time{Type: TagUTCTime, Raw: []byte(t.Format("060102150405Z"))}, nil
	}
	return NewGeneralizedTime(t)
}

// NewGeneralizedTime returns t in UTC as a GeneralizedTime without a
// fractional part.
func NewGeneralizedTime(t time.Time) (Time, error) {
	t = t.UTC()
	if y := t.Year(); y < 0 || y > 9999 {
		return Time{}, fmt.Errorf("%w: year %d out of range", ErrInvalidTime, y)
	}
	return Time{Type: TagGeneralizedTime, Raw: []byte(t.Format("20060102150405Z"))}, nil
}

func (t Time) Tag() Tag { return Universal(t.Type) }

func (t Time) content() ([]byte, error) {
	if _, err := parseTime(t.Type, t.Raw, true); err != nil {
		return nil, &EncodeError{Kind: ErrInvalidTime, Detail: err.Error()}
	}
	return t.Raw, nil
}

// Time converts t to a time.Time in UTC.
func (t Time) Time() (time.Time, error) {
	tt, err := parseTime(t.Type, t.Raw, true)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidTime, err)
	}
	return tt, nil
}

// String returns the raw content, e.g. "250101000000Z".
func (t Time) String() string { return string(t.Raw) }

func timeContent(n uint32, b []byte, off int, lenient bool) (Time, error) {
	if _, err := parseTime(n, b, lenient); err != nil {
		return Time{}, decodeErr(ErrInvalidTime, off, err.Error())
	}
	return Time{Type: n, Raw: bytes.Clone(b)}, nil
}

// parseTime checks b against the grammar of time type n and converts it.
// Numeric UTC offsets are accepted for UTCTime only if lenient is set.
func parseTime(n uint32, b []byte, lenient bool) (time.Time, error) {
	p := timeParser{b: b}
	var year int
	switch n {
	case TagUTCTime:
		year = p.digits(2)
		if year < 50 {
			year += 2000
		} else {
			year += 1900
		}
	case TagGeneralizedTime:
		year = p.digits(4)
	default:
		return time.Time{}, fmt.Errorf("%s is not a time type", Universal(n))
	}
	month := p.digits(2)
	day := p.digits(2)
	hour := p.digits(2)
	minute := p.digits(2)
	var sec, nsec int
	switch {
	case n == TagGeneralizedTime:
		sec = p.digits(2)
		if p.peek('.') {
			p.i++
			nsec = p.fraction()
		}
	case p.i < len(b) && isDigit(b[p.i]):
		sec = p.digits(2)
	}
	if p.err != nil {
		return time.Time{}, p.err
	}

	loc := time.UTC
	switch {
	case p.peek('Z'):
		p.i++
	case n == TagUTCTime && lenient && (p.peek('+') || p.peek('-')):
		sign := 1
		if b[p.i] == '-' {
			sign = -1
		}
		p.i++
		oh, om := p.digits(2), p.digits(2)
		if p.err != nil {
			return time.Time{}, p.err
		}
		if oh > 23 || om > 59 {
			return time.Time{}, fmt.Errorf("offset %02d%02d out of range", oh, om)
		}
		loc = time.FixedZone("", sign*(oh*3600+om*60))
	default:
		return time.Time{}, fmt.Errorf("missing Z designator")
	}
	if p.i != len(b) {
		return time.Time{}, fmt.Errorf("trailing data after time")
	}

	if month < 1 || month > 12 || day < 1 || day > daysIn(time.Month(month), year) ||
		hour > 23 || minute > 59 || sec > 59 {
		return time.Time{}, fmt.Errorf("field out of range in %q", b)
	}
	return time.Date(year, time.Month(month), day, hour, minute, sec, nsec, loc).UTC(), nil
}

type timeParser struct {
	b   []byte
	i   int
	err error
}

func (p *timeParser) digits(n int) int {
	if p.err != nil {
		return 0
	}
	if p.i+n > len(p.b) {
		p.err = fmt.Errorf("truncated time")
		return 0
	}
	v := 0
	for _, c := range p.b[p.i : p.i+n] {
		if !isDigit(c) {
			p.err = fmt.Errorf("non-digit %q in time", c)
			return 0
		}
		v = v*10 + int(c-'0')
	}
	p.i += n
	return v
}

// fraction reads at least one digit of fractional seconds and returns the
// nanoseconds they denote. Digits past nanosecond precision are checked but
// ignored.
func (p *timeParser) fraction() int {
	start := p.i
	ns, scale := 0, 100_000_000
	for p.i < len(p.b) && isDigit(p.b[p.i]) {
		ns += int(p.b[p.i]-'0') * scale
		scale /= 10
		p.i++
	}
	if p.i == start {
		p.err = fmt.Errorf("empty fractional seconds")
	}
	return ns
}

func (p *timeParser) peek(c byte) bool {
	return p.i < len(p.b) && p.b[p.i] == c
}

func isDigit(c byte) bool { return '0' <= c && c <= '9' }

func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
