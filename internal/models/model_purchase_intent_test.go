package models

import (
	"testing"
	"time"

	"github.com/fatflowers/settle/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestPurchaseIntent_AddClientIP(t *testing.T) {
	p := &PurchaseIntent{}
	require.True(t, p.AddClientIP("10.0.0.1"))
	require.False(t, p.AddClientIP("10.0.0.1"))
	require.False(t, p.AddClientIP(""))
	require.True(t, p.AddClientIP("10.0.0.2"))
	require.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, []string(p.ClientIPs))
}

func TestCustomer_SameIdentity(t *testing.T) {
	a := Customer{Name: "Ada", Email: "Ada@Example.com"}
	require.True(t, a.SameIdentity(Customer{Name: "Ada L.", Email: " ada@example.com"}))
	require.False(t, a.SameIdentity(Customer{Email: "bob@example.com"}))
}

func TestPurchaseIntent_NeedsFulfillment(t *testing.T) {
	p := &PurchaseIntent{Status: types.PaymentStatusCompleted}
	require.True(t, p.NeedsFulfillment())
	now := time.Now()
	p.FulfilledAt = &now
	require.False(t, p.NeedsFulfillment())
	require.False(t, (&PurchaseIntent{Status: types.PaymentStatusPending}).NeedsFulfillment())
}
