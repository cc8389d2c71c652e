package bidi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand_WellFormed(t *testing.T) {
	raw := []byte(`{"id": 7, "method": "session.status", "params": {}, "channel": "foo"}`)
	cmd, err := ParseCommand(raw)
	require.Nil(t, err)
	require.NotNil(t, cmd)
	assert.Equal(t, uint64(7), cmd.ID)
	assert.Equal(t, "session.status", cmd.Method)
	assert.Equal(t, "foo", cmd.Channel)
}

func TestParseCommand_MissingID(t *testing.T) {
	raw := []byte(`{"method": "session.status", "params": {}}`)
	cmd, err := ParseCommand(raw)
	assert.Nil(t, cmd)
	require.NotNil(t, err)
	assert.Equal(t, InvalidArgument, err.Code)
	assert.Nil(t, err.RecoveredID)
}

func TestParseCommand_NegativeID(t *testing.T) {
	raw := []byte(`{"id": -1, "method": "session.status", "params": {}}`)
	cmd, err := ParseCommand(raw)
	assert.Nil(t, cmd)
	require.NotNil(t, err)
	assert.Equal(t, InvalidArgument, err.Code)
}

func TestParseCommand_MissingMethod_RecoversID(t *testing.T) {
	raw := []byte(`{"id": 42, "params": {}}`)
	cmd, err := ParseCommand(raw)
	assert.Nil(t, cmd)
	require.NotNil(t, err)
	require.NotNil(t, err.RecoveredID)
	assert.Equal(t, uint64(42), *err.RecoveredID)
}

func TestParseCommand_MissingParams_RecoversID(t *testing.T) {
	raw := []byte(`{"id": 9, "method": "session.status"}`)
	cmd, err := ParseCommand(raw)
	assert.Nil(t, cmd)
	require.NotNil(t, err)
	require.NotNil(t, err.RecoveredID)
	assert.Equal(t, uint64(9), *err.RecoveredID)
}

func TestParseCommand_MalformedJSON_BestEffortIDRecovery(t *testing.T) {
	raw := []byte(`{"id": 13, "method": "session.status", "params": {` /* truncated */)
	cmd, err := ParseCommand(raw)
	assert.Nil(t, cmd)
	require.NotNil(t, err)
	require.NotNil(t, err.RecoveredID)
	assert.Equal(t, uint64(13), *err.RecoveredID)
}

func TestParseCommand_MalformedJSON_NoRecoverableID(t *testing.T) {
	raw := []byte(`not even json`)
	cmd, err := ParseCommand(raw)
	assert.Nil(t, cmd)
	require.NotNil(t, err)
	assert.Nil(t, err.RecoveredID)
}

func TestError_ToErrorResponse_CarriesRecoveredID(t *testing.T) {
	id := uint64(5)
	e := &Error{Code: InvalidArgument, Message: "bad", RecoveredID: &id}
	resp := e.ToErrorResponse("ch")
	require.NotNil(t, resp.ID)
	assert.Equal(t, id, *resp.ID)
	assert.Equal(t, "ch", resp.Channel)
	assert.Equal(t, string(InvalidArgument), resp.Error)
}
