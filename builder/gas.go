package builder

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/blndgs/aawallet/userop"
)

// GasMode selects how caller gas preferences are applied on top of the
// pipeline values.
type GasMode string

const (
	GasModeAutomatic GasMode = "automatic"
	GasModeManual    GasMode = "manual"
)

// PriorityLevel scales estimated gas limits in automatic mode.
type PriorityLevel string

const (
	PrioritySlow       PriorityLevel = "slow"
	PriorityStandard   PriorityLevel = "standard"
	PriorityFast       PriorityLevel = "fast"
	PriorityAggressive PriorityLevel = "aggressive"
)

var priorityMultipliers = map[PriorityLevel]decimal.Decimal{
	PrioritySlow:       decimal.NewFromInt(1),
	PriorityStandard:   decimal.RequireFromString("1.1"),
	PriorityFast:       decimal.RequireFromString("1.25"),
	PriorityAggressive: decimal.RequireFromString("1.5"),
}

// Multiplier returns the gas limit multiplier of the level. Unknown levels
// fall back to standard.
func (p PriorityLevel) Multiplier() decimal.Decimal {
	if m, ok := priorityMultipliers[p]; ok {
		return m
	}
	return priorityMultipliers[PriorityStandard]
}

// Valid reports whether p is a known priority level.
func (p PriorityLevel) Valid() bool {
	_, ok := priorityMultipliers[p]
	return ok
}

// Bound is an inclusive [Min, Max] range. A nil side is unbounded.
type Bound struct {
	Min *big.Int
	Max *big.Int
}

// Contains reports whether v lies inside the bound.
func (b Bound) Contains(v *big.Int) bool {
	if v == nil {
		return false
	}
	if b.Min != nil && v.Cmp(b.Min) < 0 {
		return false
	}
	if b.Max != nil && v.Cmp(b.Max) > 0 {
		return false
	}
	return true
}

// GasValues holds one optional value per overridable field.
type GasValues struct {
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// GasBounds holds the accepted range of every overridable field.
type GasBounds struct {
	CallGasLimit         Bound
	VerificationGasLimit Bound
	PreVerificationGas   Bound
	MaxFeePerGas         Bound
	MaxPriorityFeePerGas Bound
}

// DefaultGasBounds are the limits applied when none are configured.
func DefaultGasBounds() GasBounds {
	gwei := big.NewInt(1_000_000_000)
	return GasBounds{
		CallGasLimit:         Bound{Min: big.NewInt(21_000), Max: big.NewInt(10_000_000)},
		VerificationGasLimit: Bound{Min: big.NewInt(10_000), Max: big.NewInt(5_000_000)},
		PreVerificationGas:   Bound{Min: big.NewInt(21_000), Max: big.NewInt(1_000_000)},
		MaxFeePerGas:         Bound{Min: big.NewInt(1), Max: new(big.Int).Mul(gwei, big.NewInt(10_000))},
		MaxPriorityFeePerGas: Bound{Min: big.NewInt(0), Max: new(big.Int).Mul(gwei, big.NewInt(1_000))},
	}
}

// GasConfig is the caller's gas override preference.
type GasConfig struct {
	Mode          GasMode
	PriorityLevel PriorityLevel
	CustomLimits  GasValues
	Bounds        GasBounds
}

// DefaultGasConfig applies the standard priority multiplier.
func DefaultGasConfig() GasConfig {
	return GasConfig{
		Mode:          GasModeAutomatic,
		PriorityLevel: PriorityStandard,
		Bounds:        DefaultGasBounds(),
	}
}

type gasField struct {
	name   string
	target **big.Int
	custom *big.Int
	bound  Bound
	limit  bool
}

func (c *GasConfig) fields(op *userop.UserOperation) []gasField {
	return []gasField{
		{"callGasLimit", &op.CallGasLimit, c.CustomLimits.CallGasLimit, c.Bounds.CallGasLimit, true},
		{"verificationGasLimit", &op.VerificationGasLimit, c.CustomLimits.VerificationGasLimit, c.Bounds.VerificationGasLimit, true},
		{"preVerificationGas", &op.PreVerificationGas, c.CustomLimits.PreVerificationGas, c.Bounds.PreVerificationGas, true},
		{"maxFeePerGas", &op.MaxFeePerGas, c.CustomLimits.MaxFeePerGas, c.Bounds.MaxFeePerGas, false},
		{"maxPriorityFeePerGas", &op.MaxPriorityFeePerGas, c.CustomLimits.MaxPriorityFeePerGas, c.Bounds.MaxPriorityFeePerGas, false},
	}
}

// OverrideRejection describes a custom value that was refused because it
// fell outside its configured bound.
type OverrideRejection struct {
	Field string
	Value *big.Int
	Bound Bound
}

func (r OverrideRejection) String() string {
	return fmt.Sprintf("%s=%v outside [%v, %v]", r.Field, r.Value, r.Bound.Min, r.Bound.Max)
}

// Apply runs the override pass over op. Automatic mode scales the three gas
// limits by the priority multiplier. Manual mode substitutes each custom
// value that lies within its bound; out of bound values are rejected and the
// pipeline value is kept. So is a custom fee pair whose priority fee would
// exceed the max fee.
func (c *GasConfig) Apply(op *userop.UserOperation) []OverrideRejection {
	switch c.Mode {
	case GasModeManual:
		return c.applyManual(op)
	default:
		c.applyAutomatic(op)
		return nil
	}
}

func (c *GasConfig) applyAutomatic(op *userop.UserOperation) {
	multiplier := c.PriorityLevel.Multiplier()
	if multiplier.Equal(decimal.NewFromInt(1)) {
		return
	}

	for _, field := range c.fields(op) {
		if !field.limit || *field.target == nil {
			continue
		}
		*field.target = decimal.NewFromBigInt(*field.target, 0).Mul(multiplier).Ceil().BigInt()
	}
}

func (c *GasConfig) applyManual(op *userop.UserOperation) []OverrideRejection {
	var rejected []OverrideRejection
	pipelineFee, pipelineTip := op.MaxFeePerGas, op.MaxPriorityFeePerGas

	for _, field := range c.fields(op) {
		if field.custom == nil {
			continue
		}

		if !field.bound.Contains(field.custom) {
			rejection := OverrideRejection{Field: field.name, Value: field.custom, Bound: field.bound}
			logger.WithFields(logrus.Fields{
				"field": field.name,
				"value": field.custom.String(),
				"kept":  fmt.Sprint(*field.target),
			}).Warn("gas override rejected: outside bounds")
			rejected = append(rejected, rejection)
			continue
		}

		*field.target = new(big.Int).Set(field.custom)
	}

	// The tip may never exceed the fee cap. A custom tip is dropped first,
	// then a custom fee cap.
	if feeInverted(op) && op.MaxPriorityFeePerGas != pipelineTip {
		rejected = append(rejected, rejectFee("maxPriorityFeePerGas", &op.MaxPriorityFeePerGas, pipelineTip, Bound{Max: op.MaxFeePerGas}))
	}
	if feeInverted(op) && op.MaxFeePerGas != pipelineFee {
		rejected = append(rejected, rejectFee("maxFeePerGas", &op.MaxFeePerGas, pipelineFee, Bound{Min: op.MaxPriorityFeePerGas}))
	}

	return rejected
}

func feeInverted(op *userop.UserOperation) bool {
	return op.MaxFeePerGas != nil && op.MaxPriorityFeePerGas != nil &&
		op.MaxPriorityFeePerGas.Cmp(op.MaxFeePerGas) > 0
}

func rejectFee(name string, target **big.Int, kept *big.Int, bound Bound) OverrideRejection {
	rejection := OverrideRejection{Field: name, Value: *target, Bound: bound}
	logger.WithFields(logrus.Fields{
		"field": name,
		"value": (*target).String(),
		"kept":  fmt.Sprint(kept),
	}).Warn("gas override rejected: priority fee above max fee")
	*target = kept
	return rejection
}
