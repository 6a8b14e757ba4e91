// Package instrument defines the canonical identity of an option contract:
// underlying symbol, strike, expiry and right. Keys are value types and
// compare structurally; strikes use exact decimal equality because the
// upstream broker indexes contracts by a normalized strike string.
package instrument

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Right string

const (
	Call Right = "CALL"
	Put  Right = "PUT"
)

const expiryLayout = "2006-01-02"

var (
	errBadSymbol = errors.New("malformed option symbol")
	errBadExpiry = errors.New("expiry must be YYYY-MM-DD")
	errBadRight  = errors.New("right must be CALL or PUT")
)

// Key identifies one option contract. The zero value is not a valid key;
// construct through New or ParseOCC.
type Key struct {
	Underlying string
	Strike     decimal.Decimal
	Expiry     string // YYYY-MM-DD
	Right      Right
}

func New(underlying string, strike decimal.Decimal, expiry string, right Right) (Key, error) {
	underlying = strings.ToUpper(strings.TrimSpace(underlying))
	if underlying == "" {
		return Key{}, errBadSymbol
	}
	if _, err := time.Parse(expiryLayout, expiry); err != nil {
		return Key{}, errBadExpiry
	}
	if right != Call && right != Put {
		return Key{}, errBadRight
	}
	return Key{
		Underlying: underlying,
		Strike:     strike,
		Expiry:     expiry,
		Right:      right,
	}, nil
}

// Equal reports structural equality. Strike uses decimal equality, so
// 150 and 150.0 are the same contract.
func (k Key) Equal(other Key) bool {
	return k.Underlying == other.Underlying &&
		k.Expiry == other.Expiry &&
		k.Right == other.Right &&
		k.Strike.Equal(other.Strike)
}

// ID returns the canonical map-key form: UNDERLYING|EXPIRY|STRIKE|RIGHT with
// the strike normalized so trailing zeros cannot split one contract into two.
func (k Key) ID() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.Underlying, k.Expiry, normalizeStrike(k.Strike), k.Right)
}

func (k Key) String() string {
	return k.ID()
}

func normalizeStrike(d decimal.Decimal) string {
	s := d.String()
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

// OCC returns the 21-character OCC option symbol, e.g.
// "AAPL  250620C00150000": underlying space-padded to 6, expiry as YYMMDD,
// C/P, strike x1000 zero-padded to 8 digits.
func (k Key) OCC() string {
	exp, _ := time.Parse(expiryLayout, k.Expiry)
	right := "C"
	if k.Right == Put {
		right = "P"
	}
	milli := k.Strike.Mul(decimal.NewFromInt(1000)).IntPart()
	return fmt.Sprintf("%-6s%s%s%08d", k.Underlying, exp.Format("060102"), right, milli)
}

// ParseOCC parses a standard OCC option symbol back into a Key.
func ParseOCC(symbol string) (Key, error) {
	if len(symbol) < 15 {
		return Key{}, errBadSymbol
	}
	underlying := strings.TrimSpace(symbol[0:6])
	if underlying == "" {
		return Key{}, errBadSymbol
	}
	exp, err := time.Parse("060102", symbol[6:12])
	if err != nil {
		return Key{}, errBadSymbol
	}
	var right Right
	switch symbol[12] {
	case 'C':
		right = Call
	case 'P':
		right = Put
	default:
		return Key{}, errBadSymbol
	}
	milli, err := decimal.NewFromString(symbol[13:])
	if err != nil {
		return Key{}, errBadSymbol
	}
	strike := milli.Div(decimal.NewFromInt(1000))
	return Key{
		Underlying: underlying,
		Strike:     strike,
		Expiry:     exp.Format(expiryLayout),
		Right:      right,
	}, nil
}

// NearestStrike rounds an underlying price to the listed strike grid:
// 0.5 below $10, 1 below $50, 2.5 below $100, 5 above.
func NearestStrike(price decimal.Decimal) decimal.Decimal {
	ten := decimal.NewFromInt(10)
	fifty := decimal.NewFromInt(50)
	hundred := decimal.NewFromInt(100)

	switch {
	case price.LessThan(ten):
		half := decimal.NewFromFloat(0.5)
		return price.Div(half).Round(0).Mul(half)
	case price.LessThan(fifty):
		return price.Round(0)
	case price.LessThan(hundred):
		step := decimal.NewFromFloat(2.5)
		return price.Div(step).Round(0).Mul(step)
	default:
		five := decimal.NewFromInt(5)
		return price.Div(five).Round(0).Mul(five)
	}
}

// NextFriday returns the next upcoming Friday after the given day, formatted
// as an expiry date. A Friday input yields the following week's Friday.
func NextFriday(from time.Time) string {
	days := (int(time.Friday) - int(from.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return from.AddDate(0, 0, days).Format(expiryLayout)
}
