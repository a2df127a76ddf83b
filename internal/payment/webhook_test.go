package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"type":"order.paid"}`)
	sig := Sign("s3cret", body)

	assert.NoError(t, VerifySignature("s3cret", body, sig))
	assert.NoError(t, VerifySignature("s3cret", body, "sha256="+sig))
	assert.ErrorIs(t, VerifySignature("s3cret", body, ""), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("s3cret", body, "  "), ErrBadSignature)
	assert.NoError(t, VerifySignature("", body, ""))
	assert.NoError(t, VerifySignature("", body, "anything"))
	assert.ErrorIs(t, VerifySignature("other", body, sig), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("s3cret", body, "zz"), ErrBadSignature)
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"order.paid","data":{"id":"or_1","code":"ord-1"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventPaid, ev.Kind)
	assert.Equal(t, "ord-1", ev.OrderID)

	ev, err = DecodeEvent([]byte(`{"type":"charge.paid","data":{"code":"ch-code","order":{"code":"ord-2"}}}`))
	require.NoError(t, err)
	assert.Equal(t, EventPaid, ev.Kind)
	assert.Equal(t, "ord-2", ev.OrderID)

	ev, err = DecodeEvent([]byte(`{"type":"charge.payment_failed","data":{"code":"ord-3"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventFailed, ev.Kind)
	assert.Equal(t, "ord-3", ev.OrderID)

	ev, err = DecodeEvent([]byte(`{"type":"customer.created","data":{}}`))
	require.NoError(t, err)
	assert.Equal(t, EventIgnored, ev.Kind)

	_, err = DecodeEvent([]byte(`nope`))
	assert.Error(t, err)
}
