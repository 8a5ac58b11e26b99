package cancel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitting-studio-server/modules/common/logger"
)

func TestEncodeDecode(t *testing.T) {
	payload, err := encode(Message{SessionID: "s1", Origin: "a", SentAt: time.Unix(0, 0).UTC()})
	require.NoError(t, err)

	m, err := decode(payload)
	require.NoError(t, err)
	assert.Equal(t, "s1", m.SessionID)
	assert.Equal(t, "a", m.Origin)

	_, err = encode(Message{})
	assert.Error(t, err)
	_, err = decode(`{"origin":"a"}`)
	assert.Error(t, err)
	_, err = decode(`not json`)
	assert.Error(t, err)
}

func TestDispatchSkipsOwnMessages(t *testing.T) {
	bus := NewBus(nil, logger.Nop())

	var got []string
	onCancel := func(id string) { got = append(got, id) }

	own, err := encode(Message{SessionID: "mine", Origin: bus.instanceID})
	require.NoError(t, err)
	remote, err := encode(Message{SessionID: "theirs", Origin: "other-instance"})
	require.NoError(t, err)

	bus.dispatch(own, onCancel)
	bus.dispatch(remote, onCancel)
	bus.dispatch("garbage", onCancel)

	assert.Equal(t, []string{"theirs"}, got)
}
