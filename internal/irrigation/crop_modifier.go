package irrigation

import (
	"math"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	domainerrors "github.com/farmsense/hub/internal/domain/errors"
)

// cropModifierExpr is the single expression every crop tag's factor is
// applied through (§4.7a): "duration * factor", compiled once at startup
// rather than a hand-rolled switch, the same way the teacher's
// ConditionEvaluator compiles a user expression once and evaluates it per
// invocation.
const cropModifierExpr = "duration * factor"

// defaultCropFactors is the fixed table of §4.7a: potato is the baseline,
// alfalfa's deeper thirstier root zone gets a 15% duration bump, and any
// unrecognised tag defaults to 1.0.
var defaultCropFactors = map[string]float64{
	"potato":  1.0,
	"alfalfa": 1.15,
}

const defaultCropFactor = 1.0

// CropModifierTable evaluates the compiled modifier expression per crop tag.
type CropModifierTable struct {
	program *vm.Program
	factors map[string]float64
}

// NewCropModifierTable compiles the modifier expression once and binds it
// to factors. A tag absent from factors uses defaultCropFactor.
func NewCropModifierTable(factors map[string]float64) (*CropModifierTable, error) {
	program, err := expr.Compile(cropModifierExpr, expr.Env(map[string]any{
		"duration": 0,
		"factor":   0.0,
	}))
	if err != nil {
		return nil, domainerrors.New(domainerrors.InvalidInput, "failed to compile crop modifier expression", err)
	}
	return &CropModifierTable{program: program, factors: factors}, nil
}

// MustDefaultCropModifierTable builds the table from defaultCropFactors.
// The expression is static and known-good, so compilation failure here
// would be a programmer error, not a runtime condition to recover from.
func MustDefaultCropModifierTable() *CropModifierTable {
	t, err := NewCropModifierTable(defaultCropFactors)
	if err != nil {
		panic(err)
	}
	return t
}

// Apply evaluates the modifier expression for cropTag against duration,
// rounding down to the nearest whole minute.
func (t *CropModifierTable) Apply(cropTag string, duration int) int {
	factor, ok := t.factors[cropTag]
	if !ok {
		factor = defaultCropFactor
	}
	out, err := expr.Run(t.program, map[string]any{"duration": duration, "factor": factor})
	if err != nil {
		return duration
	}
	switch v := out.(type) {
	case float64:
		// The epsilon keeps a product such as 100*1.15, which float64
		// represents as 114.99999999999999, from flooring a minute short.
		return int(math.Floor(v + 1e-9))
	case int:
		return v
	default:
		return duration
	}
}
