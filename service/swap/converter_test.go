package swap

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvert(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		ratio  int64
		want   int64
	}{
		{name: "whole units", amount: 100_000_000_000, ratio: 10, want: 10_000_000_000_000},
		{name: "half unit", amount: 5_000_000_000, ratio: 10, want: 500_000_000_000},
		{name: "zero", amount: 0, ratio: 10, want: 0},
		{name: "one atomic unit", amount: 1, ratio: 10, want: 100},
		// 2/3 = 0.666666666666|6 truncates, never rounds up
		{name: "truncates", amount: 2_000_000_000, ratio: 3, want: 666_666_666_666},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			p.Ratio = decimal.NewFromInt(tt.ratio)

			got, err := Convert(tt.amount, p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvert_FractionalRatio(t *testing.T) {
	p := testParams()
	p.Ratio = decimal.RequireFromString("0.5")

	got, err := Convert(3_000_000_000, p)
	require.NoError(t, err)
	assert.Equal(t, int64(6_000_000_000_000), got)
}

func TestConvert_Deterministic(t *testing.T) {
	p := testParams()
	p.Ratio = decimal.NewFromInt(7)

	first, err := Convert(123_456_789_012, p)
	require.NoError(t, err)
	for range 5 {
		again, err := Convert(123_456_789_012, p)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestConvert_Errors(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		mutate func(p *Params)
	}{
		{name: "zero source factor", amount: 1, mutate: func(p *Params) { p.SourceAtomicUnitFactor = 0 }},
		{name: "zero target factor", amount: 1, mutate: func(p *Params) { p.TargetAtomicUnitFactor = 0 }},
		{name: "zero ratio", amount: 1, mutate: func(p *Params) { p.Ratio = decimal.Zero }},
		{name: "negative amount", amount: -1, mutate: func(p *Params) {}},
		{name: "overflow", amount: math.MaxInt64, mutate: func(p *Params) { p.Ratio = decimal.RequireFromString("0.000001") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			tt.mutate(&p)

			_, err := Convert(tt.amount, p)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConversion)
		})
	}
}

func TestConvertString(t *testing.T) {
	got, err := ConvertString("100000000000", testParams())
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000_000_000), got)

	for _, bad := range []string{"abc", "", "1.5", "-5"} {
		_, err := ConvertString(bad, testParams())
		assert.ErrorIs(t, err, ErrConversion, "input %q", bad)
	}
}

func TestTargetUnits(t *testing.T) {
	assert.Equal(t, "10.000000000000", TargetUnits(10_000_000_000_000, testParams()))
	assert.Equal(t, "0.500000000000", TargetUnits(500_000_000_000, testParams()))
}
