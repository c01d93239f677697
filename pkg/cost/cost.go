// Package cost provides fixed-point USD arithmetic and usage accounting for
// model calls. Amounts are stored as integer micro-dollars so that per-call
// charges at 6 fractional digits stay exact across accumulation.
package cost

import (
	"fmt"
	"strconv"
	"strings"
)

// Cost is a USD amount in micro-dollars (1e-6 USD).
type Cost int64

// Micros per whole dollar.
const dollar = 1_000_000

// Zero is the zero cost.
const Zero Cost = 0

// FromMicros builds a Cost from raw micro-dollars.
func FromMicros(v int64) Cost {
	return Cost(v)
}

// ParseUSD parses a decimal USD string ("0.015", "1", "2.5") into a Cost.
// At most 6 fractional digits are accepted; extra digits are an error rather
// than silently rounded.
func ParseUSD(s string) (Cost, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty cost value")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 6 {
		return 0, fmt.Errorf("cost %q has more than 6 fractional digits", s)
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cost %q: %w", s, err)
	}
	micros := w * dollar
	if frac != "" {
		f, err := strconv.ParseInt(frac+strings.Repeat("0", 6-len(frac)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid cost %q: %w", s, err)
		}
		micros += f
	}
	if neg {
		micros = -micros
	}
	return Cost(micros), nil
}

// MustParseUSD is ParseUSD for static literals; panics on malformed input.
func MustParseUSD(s string) Cost {
	c, err := ParseUSD(s)
	if err != nil {
		panic(err)
	}
	return c
}

// USD returns the amount as a float64. Use only for display and comparisons
// against coarse thresholds; accumulation must stay in Cost.
func (c Cost) USD() float64 {
	return float64(c) / dollar
}

// Micros returns the raw micro-dollar value.
func (c Cost) Micros() int64 {
	return int64(c)
}

// String renders the amount with exactly 6 fractional digits, e.g. "0.036000".
func (c Cost) String() string {
	v := int64(c)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%06d", sign, v/dollar, v%dollar)
}

// MarshalJSON emits the amount as a JSON number with 6 fractional digits.
func (c Cost) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalJSON accepts either a JSON number or a quoted decimal string.
func (c *Cost) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseUSD(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ForTokens charges tokens against a per-1000-token price, rounding half-even.
func ForTokens(tokens int64, pricePerK Cost) Cost {
	return Cost(divRoundHalfEven(tokens*int64(pricePerK), 1000))
}

// ForCall computes the full charge of one model call:
// (in/1000)*priceIn + (out/1000)*priceOut, each term rounded half-even.
func ForCall(tokensIn, tokensOut int64, priceInPerK, priceOutPerK Cost) Cost {
	return ForTokens(tokensIn, priceInPerK) + ForTokens(tokensOut, priceOutPerK)
}

// divRoundHalfEven divides n by d (d > 0) rounding ties to the nearest even
// quotient (banker's rounding).
func divRoundHalfEven(n, d int64) int64 {
	neg := n < 0
	if neg {
		n = -n
	}
	q, r := n/d, n%d
	switch {
	case 2*r > d:
		q++
	case 2*r == d && q%2 == 1:
		q++
	}
	if neg {
		return -q
	}
	return q
}
