package mongo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOnFinish_OutsideTransactionRunsAtOnce(t *testing.T) {
	ran := false
	OnFinish(context.Background(), func() { ran = true })
	assert.True(t, ran)
}

func TestOnFinish_RunsOnceInReverseOrder(t *testing.T) {
	ctx, finish := TrackFinish(context.Background())

	var order []int
	OnFinish(ctx, func() { order = append(order, 1) })
	OnFinish(ctx, func() { order = append(order, 2) })
	assert.Empty(t, order, "hooks wait for the transaction to end")

	finish()
	assert.Equal(t, []int{2, 1}, order)

	finish()
	assert.Equal(t, []int{2, 1}, order, "hooks run once")
}
