package domain

import "github.com/shopspring/decimal"

type Unit string

const (
	UnitGram       Unit = "g"
	UnitKilogram   Unit = "kg"
	UnitMilliliter Unit = "ml"
	UnitLiter      Unit = "l"
)

var thousand = decimal.NewFromInt(1000)

func (u Unit) Valid() bool {
	switch u {
	case UnitGram, UnitKilogram, UnitMilliliter, UnitLiter:
		return true
	}
	return false
}

// base returns the smallest unit of the family and the factor to reach it.
func (u Unit) base() (Unit, decimal.Decimal) {
	switch u {
	case UnitKilogram:
		return UnitGram, thousand
	case UnitLiter:
		return UnitMilliliter, thousand
	}
	return u, decimal.NewFromInt(1)
}

// Convert expresses qty given in u as a quantity in target.
// Mass and volume never convert into each other.
func (u Unit) Convert(qty decimal.Decimal, target Unit) (decimal.Decimal, error) {
	if !u.Valid() || !target.Valid() {
		return decimal.Zero, Validationf("unknown unit %q -> %q", u, target)
	}
	fb, ff := u.base()
	tb, tf := target.base()
	if fb != tb {
		return decimal.Zero, Validationf("cannot convert %s to %s", u, target)
	}
	return qty.Mul(ff).Div(tf), nil
}
