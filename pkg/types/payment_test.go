package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPaymentStatus_Terminal(t *testing.T) {
	require.False(t, PaymentStatusPending.Terminal())
	for _, s := range []PaymentStatus{PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusAbandoned, PaymentStatusRefunded} {
		require.True(t, s.Terminal(), s)
		require.True(t, s.Valid(), s)
	}
	require.False(t, PaymentStatus("expired").Valid())
}

func TestPaymentStatus_Closed(t *testing.T) {
	require.True(t, PaymentStatusFailed.Closed())
	require.True(t, PaymentStatusAbandoned.Closed())
	require.False(t, PaymentStatusCompleted.Closed())
	require.False(t, PaymentStatusPending.Closed())
}

func TestRail_Valid(t *testing.T) {
	require.True(t, RailPaystack.Valid())
	require.True(t, RailNowPayments.Valid())
	require.False(t, Rail("stripe").Valid())
}
