//go:build !integration

package payment_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"immo-subscriptions/internal/domain/ports/adapter"
	"immo-subscriptions/internal/infra/adapters/payment"
)

func TestSandboxCardGateway_Flow(t *testing.T) {
	ctx := context.Background()
	gw := payment.NewSandboxCardGateway()

	in, err := gw.CreateIntent(ctx, 9900, "XOF", nil)
	require.NoError(t, err)
	pm, err := gw.Tokenize(ctx, adapter.CardInput{Number: "4242424242424242", ExpMonth: 12, ExpYear: 2099, CVC: "123"})
	require.NoError(t, err)
	got, err := gw.Confirm(ctx, in.ID, pm)
	require.NoError(t, err)
	assert.Equal(t, "succeeded", got.Status)

	res, err := gw.Refund(ctx, in.ID, 9900, "")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", res.Status)
	_, err = gw.Refund(ctx, in.ID, 10000, "")
	assert.Error(t, err)
}

func TestSandboxCardGateway_Declines(t *testing.T) {
	ctx := context.Background()
	gw := payment.NewSandboxCardGateway()

	in, _ := gw.CreateIntent(ctx, 9900, "XOF", nil)
	pm, err := gw.Tokenize(ctx, adapter.CardInput{Number: payment.SandboxCardDeclined})
	require.NoError(t, err)
	_, err = gw.Confirm(ctx, in.ID, pm)
	var pe *adapter.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Declined)

	got, err := gw.GetIntent(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, "requires_payment_method", got.Status)
	assert.Equal(t, "generic_decline", got.DeclineCode)

	_, err = gw.Tokenize(ctx, adapter.CardInput{Number: payment.SandboxCardIncorrectCVC})
	assert.ErrorAs(t, err, &pe)
}

func TestSandboxOperator_Settle(t *testing.T) {
	ctx := context.Background()
	op := payment.NewSandboxOperator("flooz")

	txn, err := op.Initiate(ctx, "22899001122", 9900, "XOF", "", "ref")
	require.NoError(t, err)
	assert.Equal(t, adapter.OperatorStatusPending, txn.Status)

	assert.True(t, op.Settle(txn.TxnID, adapter.OperatorStatusSuccessful, ""))
	got, err := op.Status(ctx, txn.TxnID)
	require.NoError(t, err)
	assert.Equal(t, adapter.OperatorStatusSuccessful, got.Status)

	assert.False(t, op.Settle("nope", adapter.OperatorStatusFailed, ""))
	_, err = op.Status(ctx, "nope")
	assert.Error(t, err)
}
