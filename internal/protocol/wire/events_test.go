package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCharCodes_RejectsNonArrays(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{``, `null`, `"53"`, `{"0":53}`, `["5"]`} {
		_, ok := ExecutionEvent{Data: json.RawMessage(raw)}.CharCodes()
		require.False(t, ok, raw)
	}

	codes, ok := ExecutionEvent{Data: json.RawMessage(`[]`)}.CharCodes()
	require.True(t, ok)
	require.Empty(t, codes)
}

func TestNewExecutionEvent_EncodesBytesAsNumbers(t *testing.T) {
	t.Parallel()

	ev, err := NewExecutionEvent("ctx", "CountChanged", []byte("42"))
	require.NoError(t, err)
	require.JSONEq(t, `{"events":[{"kind":"CountChanged","data":[52,50]}]}`, string(ev.Data))

	events := ev.Events()
	require.Len(t, events, 1)
	codes, ok := events[0].CharCodes()
	require.True(t, ok)
	require.Equal(t, []uint16{'4', '2'}, codes)
}

func TestEvents_IgnoresMalformedData(t *testing.T) {
	t.Parallel()

	require.Nil(t, NodeEvent{}.Events())
	require.Nil(t, NodeEvent{Data: json.RawMessage(`[1,2]`)}.Events())
	require.Nil(t, NodeEvent{Data: json.RawMessage(`{"events":"nope"}`)}.Events())
}
