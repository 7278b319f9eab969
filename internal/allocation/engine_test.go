package allocation

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xstock-portfolio/internal/assets"
	"xstock-portfolio/internal/domain"
)

func TestDefaultTable_SumsTo100(t *testing.T) {
	for level := domain.MinRiskLevel; level <= domain.MaxRiskLevel; level++ {
		sum := 0.0
		for _, w := range DefaultTable[level] {
			sum += w.Percentage
		}
		assert.Equal(t, 100.0, sum, "level %d", level)
	}
}

func TestEngine_Validate(t *testing.T) {
	reg, err := assets.Default()
	require.NoError(t, err)
	assert.NoError(t, New(Options{}).Validate(reg))
}

func TestEngine_Validate_BadTable(t *testing.T) {
	table := Table{}
	for l, w := range DefaultTable {
		table[l] = w
	}
	table[3] = []Weight{{"SPYx", 50}, {"QQQx", 49}}

	err := New(Options{Table: table}).Validate(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "risk level 3")
}

func TestCompute_Level5(t *testing.T) {
	allocs, err := New(Options{}).Compute(5, decimal.NewFromInt(1000))
	require.NoError(t, err)
	require.Len(t, allocs, 5)

	sum := decimal.Zero
	for _, a := range allocs {
		sum = sum.Add(a.Notional)
	}
	assert.True(t, sum.Equal(decimal.NewFromInt(1000)), "sum = %s", sum)
	assert.Equal(t, "QQQx", allocs[0].Symbol)
	assert.True(t, allocs[0].Notional.Equal(decimal.NewFromInt(300)))
}

func TestCompute_RemainderGoesToLargest(t *testing.T) {
	// 0.000001 * 15% floors to zero; the whole minimal unit lands on QQQx (30%).
	allocs, err := New(Options{}).Compute(5, decimal.RequireFromString("0.000001"))
	require.NoError(t, err)

	for _, a := range allocs {
		if a.Symbol == "QQQx" {
			assert.Equal(t, "0.000001", a.Notional.String())
		} else {
			assert.True(t, a.Notional.IsZero(), a.Symbol)
		}
	}
}

func TestCompute_TieBrokenBySymbol(t *testing.T) {
	e := New(Options{Table: Table{1: {{"MSFTx", 50}, {"AAPLx", 50}}}})
	allocs, err := e.Compute(1, decimal.RequireFromString("0.000001"))
	require.NoError(t, err)

	assert.True(t, allocs[0].Notional.IsZero())
	assert.Equal(t, "0.000001", allocs[1].Notional.String())
}

func TestCompute_Deterministic(t *testing.T) {
	e := New(Options{})
	a, err := e.Compute(7, decimal.RequireFromString("1234.567891"))
	require.NoError(t, err)
	b, err := e.Compute(7, decimal.RequireFromString("1234.567891"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCompute_Errors(t *testing.T) {
	e := New(Options{})

	for _, level := range []int{0, -1, 11} {
		_, err := e.Compute(level, decimal.NewFromInt(100))
		assert.True(t, errors.Is(err, domain.ErrInvalidRiskLevel), "level %d", level)
	}

	_, err := e.Compute(3, decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, ErrInvalidCapital)
}

func TestCompute_ZeroCapital(t *testing.T) {
	allocs, err := New(Options{}).Compute(2, decimal.Zero)
	require.NoError(t, err)
	for _, a := range allocs {
		assert.True(t, a.Notional.IsZero())
	}
}

func TestCompute_Properties(t *testing.T) {
	e := New(Options{})
	properties := gopter.NewProperties(nil)

	properties.Property("notionals sum to floored capital", prop.ForAll(
		func(level int, micros int64) bool {
			capital := decimal.New(micros, -6)
			allocs, err := e.Compute(level, capital)
			if err != nil {
				return false
			}
			sum := decimal.Zero
			for _, a := range allocs {
				if a.Notional.IsNegative() {
					return false
				}
				sum = sum.Add(a.Notional)
			}
			return sum.Equal(capital)
		},
		gen.IntRange(domain.MinRiskLevel, domain.MaxRiskLevel),
		gen.Int64Range(0, 10_000_000_000_000),
	))

	properties.Property("percentages sum to 100", prop.ForAll(
		func(level int) bool {
			allocs, err := e.Compute(level, decimal.NewFromInt(1))
			if err != nil {
				return false
			}
			sum := 0.0
			for _, a := range allocs {
				sum += a.Percentage
			}
			return sum == 100
		},
		gen.IntRange(domain.MinRiskLevel, domain.MaxRiskLevel),
	))

	properties.TestingRun(t)
}
