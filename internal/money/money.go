// Package money holds monetary amounts as exact decimals. Amounts are plain
// JSON numbers on the wire and DynamoDB numbers in storage.
package money

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// Places is the number of decimal places a settled amount carries.
const Places = 2

// Amount is an exact decimal amount. The zero value is 0.
type Amount struct {
	d decimal.Decimal
}

// Zero is the zero amount.
var Zero = Amount{}

// FromDecimal wraps d.
func FromDecimal(d decimal.Decimal) Amount { return Amount{d: d} }

// FromFloat converts f using its shortest decimal representation, so 0.1 is
// exactly 0.1.
func FromFloat(f float64) Amount { return Amount{d: decimal.NewFromFloat(f)} }

// FromCents returns cents / 100.
func FromCents(cents int64) Amount { return Amount{d: decimal.New(cents, -Places)} }

// Parse reads a decimal string such as "19.99".
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Amount{d: d}, nil
}

// MustParse is Parse for constants; it panics on malformed input.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Decimal returns the underlying decimal.
func (a Amount) Decimal() decimal.Decimal { return a.d }

func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d)} }
func (a Amount) Neg() Amount         { return Amount{d: a.d.Neg()} }

// Mul multiplies by a quantity. The result is exact.
func (a Amount) Mul(quantity int) Amount {
	return Amount{d: a.d.Mul(decimal.NewFromInt(int64(quantity)))}
}

// Div divides by a quantity, keeping sub-cent digits.
func (a Amount) Div(quantity int) Amount {
	return Amount{d: a.d.Div(decimal.NewFromInt(int64(quantity)))}
}

// Scale returns a × num / den rounded to cents. Multiplying first keeps
// a line's total exact when its quantity changes by a multiple.
func (a Amount) Scale(num, den int) Amount {
	return Amount{d: a.d.Mul(decimal.NewFromInt(int64(num))).Div(decimal.NewFromInt(int64(den)))}.Round()
}

// Round rounds half away from zero to cents.
func (a Amount) Round() Amount { return Amount{d: a.d.Round(Places)} }

func (a Amount) IsZero() bool        { return a.d.IsZero() }
func (a Amount) IsNegative() bool    { return a.d.IsNegative() }
func (a Amount) Cmp(b Amount) int    { return a.d.Cmp(b.d) }
func (a Amount) Equal(b Amount) bool { return a.d.Equal(b.d) }

// Float64 is for logs and metrics only.
func (a Amount) Float64() float64 {
	f, _ := a.d.Float64()
	return f
}

// String formats with at least two decimal places.
func (a Amount) String() string {
	if a.d.Exponent() < -Places {
		return a.d.String()
	}
	return a.d.StringFixed(Places)
}

// Sum adds amounts exactly.
func Sum(amounts ...Amount) Amount {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a.d)
	}
	return Amount{d: total}
}

// MarshalJSON writes the amount as a bare JSON number.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = Zero
		return nil
	}
	return a.d.UnmarshalJSON(data)
}

// MarshalDynamoDBAttributeValue stores the amount as a DynamoDB number.
func (a Amount) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: a.d.String()}, nil
}

// UnmarshalDynamoDBAttributeValue reads a number, a numeric string or NULL.
func (a *Amount) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		raw = v.Value
	case *types.AttributeValueMemberS:
		raw = v.Value
	case *types.AttributeValueMemberNULL:
		*a = Zero
		return nil
	default:
		return fmt.Errorf("amount: unsupported attribute value %T", av)
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
