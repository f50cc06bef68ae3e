package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Points is a fixed-point amount in hundredths of a point.
type Points int64

const pointsScale = 100

// maxWholePoints keeps w*pointsScale + 99 within int64.
const maxWholePoints = (math.MaxInt64 - (pointsScale - 1)) / pointsScale

// WholePoints converts a whole number of points.
func WholePoints(n int64) Points {
	return Points(n * pointsScale)
}

// PointsFromFloat rounds f to the nearest hundredth.
func PointsFromFloat(f float64) Points {
	return Points(math.Round(f * pointsScale))
}

// ParsePoints parses a decimal such as "5", "-2.5" or "7.42".
func ParsePoints(raw string) (Points, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, ValidationError{Field: "amount", Reason: "amount is required"}
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" && !hasFrac {
		return 0, ValidationError{Field: "amount", Reason: "invalid amount " + raw}
	}
	if hasFrac && (len(frac) == 0 || len(frac) > 2) {
		return 0, ValidationError{Field: "amount", Reason: "at most two decimals allowed in " + raw}
	}
	if whole == "" {
		whole = "0"
	}
	if !allDigits(whole) || (hasFrac && !allDigits(frac)) {
		return 0, ValidationError{Field: "amount", Reason: "invalid amount " + raw}
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w > maxWholePoints {
		return 0, ValidationError{Field: "amount", Reason: "amount out of range " + raw}
	}
	var f int64
	if hasFrac {
		if len(frac) == 1 {
			frac += "0"
		}
		f, _ = strconv.ParseInt(frac, 10, 64)
	}
	p := Points(w*pointsScale + f)
	if neg {
		p = -p
	}
	return p, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (p Points) String() string {
	sign := ""
	v := int64(p)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/pointsScale, v%pointsScale)
}

// MarshalJSON renders the amount as a JSON number with two decimals.
func (p Points) MarshalJSON() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Points) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParsePoints(s)
	if err != nil {
		// Generators sometimes emit more precision than we keep.
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || math.Abs(f) >= maxWholePoints {
			return err
		}
		parsed = PointsFromFloat(f)
	}
	*p = parsed
	return nil
}

// Ptr returns a pointer to a copy of p.
func (p Points) Ptr() *Points {
	return &p
}
