package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		minor int64
		ok    bool
	}{
		{name: "whole", in: "1050", minor: 105000, ok: true},
		{name: "two_decimals", in: "1050.25", minor: 105025, ok: true},
		{name: "one_decimal", in: "4.5", minor: 450, ok: true},
		{name: "zero", in: "0", minor: 0, ok: true},
		{name: "sub_minor", in: "10.005", ok: false},
		{name: "garbage", in: "ten", ok: false},
		{name: "empty", in: "", ok: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			minor, err := ParseAmount(tc.in)
			if !tc.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.minor, minor)
		})
	}
}

func TestMoneyString(t *testing.T) {
	require.Equal(t, "1050.25", NewMoney(105025).String())
	require.Equal(t, "0.01", NewMoney(1).String())
	require.Equal(t, "-4.50", NewMoney(-450).String())
}

func TestStatusPredicates(t *testing.T) {
	require.True(t, IsCompletable(OrderStatusPending))
	require.True(t, IsCompletable(OrderStatusUnassigned))
	require.False(t, IsCompletable(OrderStatusExpired))
	require.False(t, IsCompletable(OrderStatusSuccess))

	require.True(t, IsAllocatable(OrderStatusCreated))
	require.False(t, IsAllocatable(OrderStatusFailed))

	require.True(t, IsCompletionMethod(MethodScreenshot))
	require.False(t, IsCompletionMethod("carrier_pigeon"))
}
