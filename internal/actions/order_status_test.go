package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOrderStatus(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"ORD123", StatusShipped},
		{"RET456", StatusReturned},
		{"XYZ789", StatusInvalid},
		{"ORDRET", StatusShipped},
		{"RETORD", StatusShipped},
		{"xxORDxx", StatusShipped},
		{"ord123", StatusInvalid},
		{"ret456", StatusInvalid},
		{" RET ", StatusReturned},
		{"", StatusInvalid},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, OrderStatus(tc.in), "in=%q", tc.in)
	}
}

func TestOrderStatus_Idempotent(t *testing.T) {
	for _, in := range []string{"ORD1", "RET1", "nope", ""} {
		require.Equal(t, OrderStatus(in), OrderStatus(in))
	}
}

func TestRegisterDefaults_CheckOrderStatus(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterDefaults(r))
	r.Seal()

	out, err := r.Invoke(context.Background(), CheckOrderStatus, Args{"order_id": "RET456"})
	require.NoError(t, err)
	require.Equal(t, StatusReturned, out)

	out, err = r.Invoke(context.Background(), CheckOrderStatus, Args{})
	require.NoError(t, err)
	require.Equal(t, StatusInvalid, out)
}
