package strategy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Unit is the settlement unit of a market's contracts.
type Unit string

const (
	Celsius    Unit = "C"
	Fahrenheit Unit = "F"
)

// Contract is one outcome of a daily-high market.
type Contract struct {
	Label   string `yaml:"label"`
	TokenID string `yaml:"token_id"`
}

// Quote is the best ask of one contract's YES token.
type Quote struct {
	Ask float64
	OK  bool
}

var (
	half = decimal.NewFromFloat(0.5)
	nine = decimal.NewFromFloat(1.8)

	rangeLabel = regexp.MustCompile(`(?i)(-?\d+)\s*-\s*(-?\d+)\s*°?\s*([CF])\b`)
	belowLabel = regexp.MustCompile(`(?i)(-?\d+)\s*°?\s*([CF])\s+or\s+(?:below|lower|less)`)
	aboveLabel = regexp.MustCompile(`(?i)(-?\d+)\s*°?\s*([CF])\s+or\s+(?:higher|above|more)`)
	exactLabel = regexp.MustCompile(`(?i)(?:^|[^\d-])(-?\d+)\s*°\s*([CF])\b`)
)

// InUnit converts a Celsius value to u.
func InUnit(c float64, u Unit) decimal.Decimal {
	d := decimal.NewFromFloat(c)
	if u == Fahrenheit {
		return d.Mul(nine).Add(decimal.NewFromInt(32))
	}
	return d
}

// RoundHalfUp rounds to the nearest integer, halves toward +Inf.
func RoundHalfUp(d decimal.Decimal) int64 {
	return d.Add(half).Floor().IntPart()
}

// Bucket is the integer settlement value of a Celsius reading.
func Bucket(c float64, u Unit) int64 {
	return RoundHalfUp(InUnit(c, u))
}

type labelKind int

const (
	kindExact labelKind = iota
	kindRange
	kindBelow
	kindAbove
)

type parsedLabel struct {
	kind   labelKind
	lo, hi int64
	unit   Unit
}

func (p parsedLabel) contains(v int64) bool {
	switch p.kind {
	case kindExact:
		return v == p.lo
	case kindRange:
		return v >= p.lo && v <= p.hi
	case kindBelow:
		return v <= p.lo
	default:
		return v >= p.lo
	}
}

// ParseLabel extracts the interval a contract label settles on.
func ParseLabel(label string) (parsedLabel, error) {
	if m := rangeLabel.FindStringSubmatch(label); m != nil {
		lo, _ := strconv.ParseInt(m[1], 10, 64)
		hi, _ := strconv.ParseInt(m[2], 10, 64)
		if lo > hi {
			lo, hi = hi, lo
		}
		return parsedLabel{kind: kindRange, lo: lo, hi: hi, unit: unitOf(m[3])}, nil
	}
	if m := belowLabel.FindStringSubmatch(label); m != nil {
		v, _ := strconv.ParseInt(m[1], 10, 64)
		return parsedLabel{kind: kindBelow, lo: v, unit: unitOf(m[2])}, nil
	}
	if m := aboveLabel.FindStringSubmatch(label); m != nil {
		v, _ := strconv.ParseInt(m[1], 10, 64)
		return parsedLabel{kind: kindAbove, lo: v, unit: unitOf(m[2])}, nil
	}
	if m := exactLabel.FindStringSubmatch(label); m != nil {
		v, _ := strconv.ParseInt(m[1], 10, 64)
		return parsedLabel{kind: kindExact, lo: v, unit: unitOf(m[2])}, nil
	}
	return parsedLabel{}, fmt.Errorf("unrecognized contract label %q", label)
}

func unitOf(s string) Unit {
	if strings.EqualFold(s, "F") {
		return Fahrenheit
	}
	return Celsius
}

// Match maps a predicted Celsius value to a contract. Exact labels win over
// ranges, ranges over open-ended thresholds.
func Match(predictedC float64, unit Unit, contracts []Contract) (Contract, int64, bool) {
	v := Bucket(predictedC, unit)
	var best Contract
	bestKind := labelKind(-1)
	for _, c := range contracts {
		p, err := ParseLabel(c.Label)
		if err != nil || p.unit != unit || !p.contains(v) {
			continue
		}
		if bestKind < 0 || p.kind < bestKind {
			best, bestKind = c, p.kind
		}
	}
	return best, v, bestKind >= 0
}
