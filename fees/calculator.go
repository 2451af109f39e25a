package fees

import (
	"fmt"

	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// STRATEGIES - What a custom amount means
// =============================================================================

// Strategy decides whether scholarships still apply once an override has
// replaced the base with a custom amount. Both rules exist in practice, so
// the integrating system must pick one explicitly.
type Strategy interface {
	Name() string
	// CustomIsTerminal reports whether a custom amount is final.
	CustomIsTerminal() bool
}

// TerminalCustomAmount: a custom amount is the final amount.
type TerminalCustomAmount struct{}

func (TerminalCustomAmount) Name() string           { return StrategyTerminal }
func (TerminalCustomAmount) CustomIsTerminal() bool { return true }

// DiscountableCustomAmount: scholarships apply on top of a custom amount.
type DiscountableCustomAmount struct{}

func (DiscountableCustomAmount) Name() string           { return StrategyDiscountable }
func (DiscountableCustomAmount) CustomIsTerminal() bool { return false }

const (
	StrategyTerminal     = "terminal"
	StrategyDiscountable = "discountable"
)

// StrategyByName maps a configuration value to a Strategy.
func StrategyByName(name string) (Strategy, error) {
	switch name {
	case StrategyTerminal:
		return TerminalCustomAmount{}, nil
	case StrategyDiscountable:
		return DiscountableCustomAmount{}, nil
	}
	return nil, fmt.Errorf("%w: %q", generic.ErrInvalidStrategy, name)
}

// =============================================================================
// CALCULATOR
// =============================================================================

// ItemResult breaks down one fee item's computation.
type ItemResult struct {
	Base                generic.Money
	OverrideDiscount    generic.Money
	ScholarshipDiscount generic.Money
	Discount            generic.Money
	Final               generic.Money
	Waived              bool
	CustomApplied       bool
}

type Calculator struct {
	Strategy Strategy
}

func NewCalculator(strategy Strategy) *Calculator {
	return &Calculator{Strategy: strategy}
}

// ComputeItem applies overrides then scholarships to base.
func (c *Calculator) ComputeItem(base generic.Money, categoryID CategoryID, feeType FeeType, overrides OverrideSet, scholarships []Scholarship) ItemResult {
	base = base.ClampZero()
	res := ItemResult{Base: base.Round()}

	co, hasOverride := overrides.For(categoryID)

	if overrides.GlobalFullWaiver || (hasOverride && co.FullWaiver) {
		res.OverrideDiscount = res.Base
		res.Discount = res.Base
		res.Final = generic.ZeroMoney()
		res.Waived = true
		return res
	}

	var amount generic.Money
	switch {
	case hasOverride && co.CustomAmount != nil:
		amount = co.CustomAmount.ClampZero()
		res.CustomApplied = true
		res.OverrideDiscount = base.Sub(amount).ClampZero()
		if c.Strategy.CustomIsTerminal() {
			return c.finish(res, amount, generic.ZeroMoney())
		}
	case hasOverride:
		amount = base.Sub(co.Discount).ClampZero()
		res.OverrideDiscount = base.Sub(amount)
	default:
		amount = base
		res.OverrideDiscount = generic.ZeroMoney()
	}

	return c.finish(res, amount, ScholarshipDiscount(amount, categoryID, feeType, scholarships))
}

func (c *Calculator) finish(res ItemResult, amount, scholarship generic.Money) ItemResult {
	res.Final = amount.Sub(scholarship).ClampZero().Round()
	res.OverrideDiscount = res.OverrideDiscount.Round()
	res.ScholarshipDiscount = scholarship.Round()
	res.Discount = res.OverrideDiscount.Add(res.ScholarshipDiscount)
	res.Waived = res.Final.IsZero()
	return res
}

// ScholarshipDiscount sums the scholarships covering the item, capped at
// amount. A full-waiver scholarship takes the whole amount.
func ScholarshipDiscount(amount generic.Money, categoryID CategoryID, feeType FeeType, scholarships []Scholarship) generic.Money {
	total := generic.ZeroMoney()
	for _, s := range scholarships {
		if !s.Covers(feeType, categoryID) {
			continue
		}
		switch s.Type {
		case ScholarshipFullWaiver:
			return amount
		case ScholarshipPercentage:
			if s.Percentage != nil {
				total = total.Add(amount.Percent(*s.Percentage))
			}
		case ScholarshipFixed:
			if s.Amount != nil {
				total = total.Add(*s.Amount)
			}
		}
	}
	return total.Min(amount).ClampZero()
}
