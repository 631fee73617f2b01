package validation

import (
	"testing"

	"rover/pkg/logger"
	"rover/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStruct_RentalInterval(t *testing.T) {
	v := New(logger.Discard())

	for _, months := range RentalIntervals {
		assert.NoError(t, Struct(v, &model.RentalRequest{IntervalMonths: months}), "interval %d", months)
	}

	for _, months := range []int{0, 1, 7, 48, -6} {
		err := Struct(v, &model.RentalRequest{IntervalMonths: months})
		require.Error(t, err, "interval %d", months)

		var verrs ValidationErrors
		require.ErrorAs(t, err, &verrs)
		assert.Equal(t, "interval_months", verrs[0].Field)
	}
}

func TestStruct_PaymentVerification(t *testing.T) {
	v := New(logger.Discard())
	rentalID := "65f1a2b3c4d5e6f708192a3b"

	tests := []struct {
		name    string
		in      model.PaymentVerification
		wantErr bool
		field   string
	}{
		{
			name: "by rental",
			in:   model.PaymentVerification{RentalID: rentalID, Type: model.PaymentInitial, Status: model.PaymentCompleted},
		},
		{
			name: "by payment",
			in:   model.PaymentVerification{PaymentID: rentalID, Type: model.PaymentExtension, Status: model.PaymentFailed},
		},
		{
			name:    "no identifier",
			in:      model.PaymentVerification{Type: model.PaymentInitial, Status: model.PaymentCompleted},
			wantErr: true,
			field:   "rental_id",
		},
		{
			name:    "pending is not a verification result",
			in:      model.PaymentVerification{RentalID: rentalID, Type: model.PaymentInitial, Status: model.PaymentPending},
			wantErr: true,
			field:   "status",
		},
		{
			name:    "malformed rental id",
			in:      model.PaymentVerification{RentalID: "r-1", Type: model.PaymentInitial, Status: model.PaymentCompleted},
			wantErr: true,
			field:   "rental_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(v, &tt.in)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var verrs ValidationErrors
			require.ErrorAs(t, err, &verrs)
			assert.Equal(t, tt.field, verrs[0].Field)
			assert.Contains(t, verrs.Details()["fields"], tt.field)
		})
	}
}
