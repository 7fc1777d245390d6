package notify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChannelNames(t *testing.T) {
	require.Equal(t, "instant-withdraw-wd-001", WithdrawChannel("wd-001"))
	require.Equal(t, "payout-availability-vendor-a", VendorChannel("vendor-a"))
}

func TestEnvelopeShape(t *testing.T) {
	body, err := json.Marshal(envelope{
		Event: EventPayinExpired,
		Data:  PayinExpiredPayload{PayinRef: "dep-1", Amount: 400_00},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"payin-expired","data":{"payin_ref":"dep-1","amount":40000}}`, string(body))
}

func TestNoopPublisher(t *testing.T) {
	require.NoError(t, Noop{}.Publish(context.Background(), "any", EventBatchSettled, nil))
}
