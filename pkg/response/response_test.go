package response

import (
	"encoding/json"
	"testing"

	"github.com/fatflowers/settle/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestErrorT_Envelope(t *testing.T) {
	b, err := json.Marshal(ErrorT[any](types.ErrorTypeGateway, "gateway timeout", map[string]any{"retryable": true}))
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"error","type":"gateway","message":"gateway timeout","details":{"retryable":true},"data":null}`, string(b))
}

func TestOKT_WithPaymentStatus(t *testing.T) {
	b, err := json.Marshal(OKT(map[string]string{"a": "b"}).WithPaymentStatus(types.PaymentStatusCompleted))
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"success","payment_status":"completed","data":{"a":"b"}}`, string(b))
}
