package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// OptionType distinguishes calls from puts.
type OptionType string

const (
	// OptionCall is a call option.
	OptionCall OptionType = "Call"
	// OptionPut is a put option.
	OptionPut OptionType = "Put"
)

// OptionContract is the decoded form of an OCC option symbol.
type OptionContract struct {
	Underlying string
	Expiration string // YYMMDD as encoded in the symbol
	Type       OptionType
	Strike     float64
}

// Key returns the structural identity of the contract. Two transactions on
// the same key trade the same instrument.
func (c OptionContract) Key() ContractKey {
	return ContractKey{
		Underlying: c.Underlying,
		Expiration: c.Expiration,
		Type:       c.Type,
		Strike:     c.Strike,
	}
}

// ExpirationDate decodes the YYMMDD expiration field.
func (c OptionContract) ExpirationDate() (time.Time, error) {
	return time.Parse("060102", c.Expiration)
}

// ContractKey identifies an option contract by (underlying, expiration,
// type, strike). Used as a map key throughout the engine.
type ContractKey struct {
	Underlying string
	Expiration string
	Type       OptionType
	Strike     float64
}

func (k ContractKey) String() string {
	return fmt.Sprintf("%s %s %s %.2f", k.Underlying, k.Expiration, k.Type, k.Strike)
}

// ParseOCCSymbol decodes an OCC-format option symbol such as
// "AAPL  250117C00200000": underlying padded to six characters, YYMMDD
// expiration, C or P, then the strike times 1000 in eight digits.
func ParseOCCSymbol(symbol string) (OptionContract, error) {
	fields := strings.Fields(symbol)
	if len(fields) < 2 {
		return OptionContract{}, fmt.Errorf("option symbol %q: missing contract code", symbol)
	}
	underlying := fields[0]
	code := fields[len(fields)-1]
	if len(code) < 8 {
		return OptionContract{}, fmt.Errorf("option symbol %q: contract code too short", symbol)
	}

	expiration := code[:6]
	if _, err := time.Parse("060102", expiration); err != nil {
		return OptionContract{}, fmt.Errorf("option symbol %q: bad expiration %q", symbol, expiration)
	}

	var optType OptionType
	switch code[6] {
	case 'C':
		optType = OptionCall
	case 'P':
		optType = OptionPut
	default:
		return OptionContract{}, fmt.Errorf("option symbol %q: bad type %q", symbol, code[6])
	}

	strikeRaw := code[7:]
	strikeInt, err := strconv.ParseInt(strikeRaw, 10, 64)
	if err != nil {
		return OptionContract{}, fmt.Errorf("option symbol %q: bad strike %q", symbol, strikeRaw)
	}

	return OptionContract{
		Underlying: underlying,
		Expiration: expiration,
		Type:       optType,
		Strike:     float64(strikeInt) / 1000,
	}, nil
}

// FormatOCCSymbol builds the OCC symbol for a contract. Round-trips with
// ParseOCCSymbol; used by tests and the feed fixtures.
func FormatOCCSymbol(c OptionContract) string {
	typeChar := "C"
	if c.Type == OptionPut {
		typeChar = "P"
	}
	return fmt.Sprintf("%-6s%s%s%08d", c.Underlying, c.Expiration, typeChar, int64(c.Strike*1000+0.5))
}
