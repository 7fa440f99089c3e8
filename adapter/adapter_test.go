package adapter_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rdcgo/rdc/adapter"
)

func TestAddEventTransitions(t *testing.T) {
	k, err := adapter.AddEvent(adapter.KindNone, adapter.KindRead)
	require.NoError(t, err)
	require.Equal(t, adapter.KindRead, k)

	k, err = adapter.AddEvent(k, adapter.KindWrite)
	require.NoError(t, err)
	require.Equal(t, adapter.KindReadWrite, k)

	k, err = adapter.AddEvent(adapter.KindNone, adapter.KindWrite)
	require.NoError(t, err)
	require.Equal(t, adapter.KindWrite, k)

	k, err = adapter.AddEvent(k, adapter.KindRead)
	require.NoError(t, err)
	require.Equal(t, adapter.KindReadWrite, k)
}

func TestAddEventRejectsInvalidTransitions(t *testing.T) {
	_, err := adapter.AddEvent(adapter.KindRead, adapter.KindRead)
	require.ErrorIs(t, err, adapter.ErrInvalidTransition)

	_, err = adapter.AddEvent(adapter.KindReadWrite, adapter.KindRead)
	require.ErrorIs(t, err, adapter.ErrInvalidTransition)
}

func TestDeleteEventTransitions(t *testing.T) {
	k, err := adapter.DeleteEvent(adapter.KindReadWrite, adapter.KindRead)
	require.NoError(t, err)
	require.Equal(t, adapter.KindWrite, k)

	k, err = adapter.DeleteEvent(adapter.KindReadWrite, adapter.KindWrite)
	require.NoError(t, err)
	require.Equal(t, adapter.KindRead, k)

	k, err = adapter.DeleteEvent(adapter.KindRead, adapter.KindRead)
	require.NoError(t, err)
	require.Equal(t, adapter.KindNone, k)
}

func TestDeleteEventRejectsInvalidTransitions(t *testing.T) {
	_, err := adapter.DeleteEvent(adapter.KindRead, adapter.KindWrite)
	require.ErrorIs(t, err, adapter.ErrInvalidTransition)

	_, err = adapter.DeleteEvent(adapter.KindNone, adapter.KindRead)
	require.ErrorIs(t, err, adapter.ErrInvalidTransition)
}

func TestSelectBackendDefaultsToTCP(t *testing.T) {
	t.Setenv("RDC_BACKEND", "")
	require.Equal(t, adapter.BackendTCP, adapter.SelectBackend())
}
