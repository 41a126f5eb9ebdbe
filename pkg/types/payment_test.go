package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPaymentStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from    PaymentStatus
		to      PaymentStatus
		allowed bool
	}{
		{PaymentStatusCreated, PaymentStatusProcessing, true},
		{PaymentStatusCreated, PaymentStatusSucceeded, true},
		{PaymentStatusCreated, PaymentStatusFailed, true},
		{PaymentStatusCreated, PaymentStatusCancelled, true},
		{PaymentStatusProcessing, PaymentStatusSucceeded, true},
		{PaymentStatusProcessing, PaymentStatusFailed, true},
		{PaymentStatusProcessing, PaymentStatusCancelled, true},
		{PaymentStatusProcessing, PaymentStatusCreated, false},
		{PaymentStatusSucceeded, PaymentStatusCancelled, false},
		{PaymentStatusSucceeded, PaymentStatusFailed, false},
		{PaymentStatusFailed, PaymentStatusSucceeded, false},
		{PaymentStatusCancelled, PaymentStatusProcessing, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestPaymentStatus_Terminal(t *testing.T) {
	require.False(t, PaymentStatusCreated.Terminal())
	require.False(t, PaymentStatusProcessing.Terminal())
	require.True(t, PaymentStatusSucceeded.Terminal())
	require.True(t, PaymentStatusFailed.Terminal())
	require.True(t, PaymentStatusCancelled.Terminal())
}

func TestParsePaymentStatus(t *testing.T) {
	s, err := ParsePaymentStatus("succeeded")
	require.NoError(t, err)
	require.Equal(t, PaymentStatusSucceeded, s)

	_, err = ParsePaymentStatus("paid")
	require.Error(t, err)
}

func TestSourceType_OrderLike(t *testing.T) {
	require.True(t, SourceTypeTicketOrder.OrderLike())
	require.True(t, SourceTypeStoreOrder.OrderLike())
	require.False(t, SourceTypePadelRegistration.OrderLike())
}
