package wire_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emdash/todoserver/internal/fault"
	"github.com/emdash/todoserver/pkg/wire"
)

func TestDecodeEnvelopeLogin(t *testing.T) {
	env, err := wire.DecodeEnvelope([]byte(`{"type":"login","user":"alice","password":"s3cret"}`))
	require.NoError(t, err)
	require.NotNil(t, env.Login)
	assert.Equal(t, "alice", env.Login.User)
	assert.Equal(t, "s3cret", env.Login.Password)
}

func TestDecodeEnvelopeJoinLeave(t *testing.T) {
	env, err := wire.DecodeEnvelope([]byte(`{"type":"join","name":"control"}`))
	require.NoError(t, err)
	require.NotNil(t, env.Join)
	assert.Equal(t, "control", env.Join.Name)

	env, err = wire.DecodeEnvelope([]byte(`{"type":"leave","name":"control"}`))
	require.NoError(t, err)
	require.NotNil(t, env.Leave)
	assert.Equal(t, "control", env.Leave.Name)
}

func TestDecodeEnvelopeSend(t *testing.T) {
	env, err := wire.DecodeEnvelope([]byte(`{"type":"send","name":"control","content":{"type":"get-lists"}}`))
	require.NoError(t, err)
	require.NotNil(t, env.Send)
	assert.Equal(t, "control", env.Send.Name)
	assert.JSONEq(t, `{"type":"get-lists"}`, string(env.Send.Content))
}

func TestDecodeEnvelopeUnknownTypeIsIgnored(t *testing.T) {
	env, err := wire.DecodeEnvelope([]byte(`{"type":"frobnicate","name":"x"}`))
	require.NoError(t, err)
	assert.True(t, env.Ignored)
}

func TestDecodeEnvelopeMalformedIsHard(t *testing.T) {
	for _, raw := range []string{`not json`, `[1,2,3]`, `{"name":"x"}`, `{"type":7}`} {
		_, err := wire.DecodeEnvelope([]byte(raw))
		f, ok := fault.Of(err)
		require.True(t, ok, "input %q", raw)
		assert.True(t, f.Hard(), "input %q", raw)
	}
}

func TestDecodeEnvelopeMissingFieldIsSoft(t *testing.T) {
	_, err := wire.DecodeEnvelope([]byte(`{"type":"login","user":"alice"}`))
	f, ok := fault.Of(err)
	require.True(t, ok)
	assert.Equal(t, fault.KindValidation, f.Kind)
	assert.False(t, f.Hard())
	assert.Contains(t, f.Message, "password")
}

func TestDecodeListOp(t *testing.T) {
	op, err := wire.DecodeListOp(json.RawMessage(`{"type":"insert","index":0,"attrs":{"text":"milk"}}`))
	require.NoError(t, err)
	assert.Equal(t, wire.TypeInsert, op.Type)
	assert.Equal(t, 0, op.Index)
	assert.Equal(t, map[string]any{"text": "milk"}, op.Attrs)

	op, err = wire.DecodeListOp(json.RawMessage(`{"type":"delete","index":2}`))
	require.NoError(t, err)
	assert.Equal(t, wire.TypeDelete, op.Type)
	assert.Equal(t, 2, op.Index)
}

func TestDecodeListOpMissingAttrs(t *testing.T) {
	_, err := wire.DecodeListOp(json.RawMessage(`{"type":"insert","index":0}`))
	f, ok := fault.Of(err)
	require.True(t, ok)
	assert.Equal(t, fault.KindValidation, f.Kind)
	assert.Contains(t, f.Message, "attrs")
}

func TestDecodeListOpUnknownTypeIsIgnored(t *testing.T) {
	op, err := wire.DecodeListOp(json.RawMessage(`{"type":"shuffle"}`))
	require.NoError(t, err)
	assert.True(t, op.Ignored)
}

func TestDecodeControlOp(t *testing.T) {
	op, err := wire.DecodeControlOp(json.RawMessage(`{"type":"create","name":"Groceries"}`))
	require.NoError(t, err)
	assert.Equal(t, wire.TypeCreate, op.Type)
	assert.Equal(t, "Groceries", op.Name)

	_, err = wire.DecodeControlOp(json.RawMessage(`{"type":"rename","id":"abc"}`))
	f, ok := fault.Of(err)
	require.True(t, ok)
	assert.Equal(t, fault.KindValidation, f.Kind)
}

func TestOutboundShapes(t *testing.T) {
	assert.JSONEq(t,
		`{"type":"channel-message","name":"ch","content":{"type":"destroy"}}`,
		string(wire.ChannelMessage("ch", wire.NewDestroy())))
	assert.JSONEq(t, `{"type":"error","message":"Access Denied."}`, string(wire.Error("Access Denied.")))
	assert.JSONEq(t, `{"type":"login","status":"ok"}`, string(wire.LoginOK()))
	assert.JSONEq(t,
		`{"type":"insert","index":1,"attrs":{"text":"eggs"}}`,
		mustJSON(t, wire.NewInsert(1, map[string]any{"text": "eggs"})))
	assert.JSONEq(t, `{"type":"list-rename","id":"a1","name":"Chores"}`, mustJSON(t, wire.NewListRenamed("a1", "Chores")))
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
