package bundler

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/goccy/go-json"
)

// Quantity accepts either a JSON number (e.g. 21000) or a JSON string
// ("0x5208" or "21000"). Bundler implementations disagree on which one
// they return for gas values.
type Quantity big.Int

func (q *Quantity) UnmarshalJSON(input []byte) error {
	if string(input) == "null" {
		(*big.Int)(q).SetInt64(0)
		return nil
	}

	var s string
	if err := json.Unmarshal(input, &s); err == nil {
		return q.setString(strings.TrimSpace(s))
	}

	var num json.Number
	if err := json.Unmarshal(input, &num); err == nil {
		return q.setString(num.String())
	}

	return fmt.Errorf("invalid quantity json: %s", string(input))
}

func (q *Quantity) setString(s string) error {
	if s == "" {
		(*big.Int)(q).SetInt64(0)
		return nil
	}

	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		s = s[2:]
	}

	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return fmt.Errorf("invalid quantity string %q", s)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("negative quantity %q", s)
	}

	(*big.Int)(q).Set(v)
	return nil
}

func (q *Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + q.Big().Text(16))
}

// Big returns a copy of the value, or nil for a nil receiver.
func (q *Quantity) Big() *big.Int {
	if q == nil {
		return nil
	}
	return new(big.Int).Set((*big.Int)(q))
}
