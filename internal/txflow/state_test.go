package txflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	s := State{Phase: Unsigned}

	_, err := Submit(s, "0xabc", "")
	assert.Error(t, err, "cannot submit unsigned")

	s, err = Sign(s)
	require.NoError(t, err)
	assert.Equal(t, Signed, s.Phase)

	_, err = Submit(s, "", "")
	assert.Error(t, err, "needs hash or request id")

	s, err = Submit(s, "", "req-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", s.ReqID)

	s, err = AttachHash(s, "0xabc")
	require.NoError(t, err)

	done, err := Confirm(s)
	require.NoError(t, err)
	assert.True(t, done.Terminal())
	assert.Equal(t, "0xabc", done.Hash)

	_, err = Fail(done, "late")
	assert.Error(t, err, "terminal state cannot fail")
	_, err = Sign(done)
	assert.Error(t, err)
}

func TestTerminalPhases(t *testing.T) {
	submitted := State{Phase: Submitted, Hash: "0x1"}
	for name, fn := range map[string]func(State) (State, error){
		"confirm": Confirm,
		"replace": Replace,
		"drop":    Drop,
	} {
		t.Run(name, func(t *testing.T) {
			next, err := fn(submitted)
			require.NoError(t, err)
			assert.True(t, next.Terminal())
			assert.Equal(t, "0x1", next.Hash)

			_, err = fn(State{Phase: Signed})
			assert.Error(t, err)
		})
	}

	failed, err := Fail(State{Phase: Signed}, "relay down")
	require.NoError(t, err)
	assert.Equal(t, Failed, failed.Phase)
	assert.Equal(t, "relay down", failed.Reason)
	assert.Equal(t, "failed", failed.Phase.String())
}
