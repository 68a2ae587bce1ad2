package ipc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sentinel.io/infrastructure/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Load(t.TempDir())
	service, err := NewService(cfg)
	require.NoError(t, err)
	t.Cleanup(service.Close)
	return &Server{service: service, methods: service.handlers()}
}

func result(t *testing.T, response Response) map[string]interface{} {
	t.Helper()
	require.Nil(t, response.Error)
	out, ok := response.Result.(map[string]interface{})
	require.True(t, ok)
	return out
}

func TestDispatchParseError(t *testing.T) {
	srv := newTestServer(t)

	response, reply := srv.dispatch([]byte("{not json"))
	require.True(t, reply)
	require.NotNil(t, response.Error)
	assert.Equal(t, CodeParseError, response.Error.Code)
}

func TestDispatchUnknownMethod(t *testing.T) {
	srv := newTestServer(t)

	response, reply := srv.dispatch([]byte(`{"jsonrpc":"2.0","method":"no_such_method","id":1}`))
	require.True(t, reply)
	require.NotNil(t, response.Error)
	assert.Equal(t, CodeMethodNotFound, response.Error.Code)
	assert.Equal(t, json.RawMessage("1"), response.ID)
}

func TestDispatchNotificationGetsNoReply(t *testing.T) {
	srv := newTestServer(t)

	_, reply := srv.dispatch([]byte(`{"jsonrpc":"2.0","method":"status"}`))
	assert.False(t, reply)
}

func TestStatusBeforeWarmup(t *testing.T) {
	srv := newTestServer(t)

	response, reply := srv.dispatch([]byte(`{"jsonrpc":"2.0","method":"status","id":7}`))
	require.True(t, reply)

	out := result(t, response)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, false, out["warmed"])
	assert.Equal(t, false, out["init_in_progress"])
}

func TestAuthFrameWithoutSession(t *testing.T) {
	srv := newTestServer(t)

	response, reply := srv.dispatch([]byte(`{"jsonrpc":"2.0","method":"process_auth_frame","id":2}`))
	require.True(t, reply)

	out := result(t, response)
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["error"], "not started")
}

func TestUpdateConfigValidation(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		params string
		ok     bool
	}{
		{"valid thresholds", `{"golden_threshold":0.20,"standard_threshold":0.40}`, true},
		{"out of range", `{"golden_threshold":1.5}`, false},
		{"inverted ordering", `{"golden_threshold":0.45,"standard_threshold":0.30}`, false},
		{"retries too high", `{"max_retries":99}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := `{"jsonrpc":"2.0","method":"update_config","params":` + tt.params + `,"id":3}`
			response, reply := srv.dispatch([]byte(line))
			require.True(t, reply)
			out := result(t, response)
			assert.Equal(t, tt.ok, out["success"])
		})
	}
}

func TestSecondFactorLifecycle(t *testing.T) {
	srv := newTestServer(t)

	// Verification without provisioning must fail.
	response, _ := srv.dispatch([]byte(`{"jsonrpc":"2.0","method":"verify_second_factor","params":{"user":"alice","token":"123456"},"id":4}`))
	out := result(t, response)
	assert.Equal(t, false, out["success"])

	response, _ = srv.dispatch([]byte(`{"jsonrpc":"2.0","method":"setup_second_factor","params":{"user":"alice"},"id":5}`))
	out = result(t, response)
	require.Equal(t, true, out["success"])
	assert.NotEmpty(t, out["secret"])
	assert.NotEmpty(t, out["url"])

	// A wrong token verifies cleanly as invalid rather than erroring.
	response, _ = srv.dispatch([]byte(`{"jsonrpc":"2.0","method":"verify_second_factor","params":{"user":"alice","token":"000000"},"id":6}`))
	out = result(t, response)
	require.Equal(t, true, out["success"])
	assert.Equal(t, false, out["valid"])
}

func TestEnrolledUsersEmpty(t *testing.T) {
	srv := newTestServer(t)

	response, _ := srv.dispatch([]byte(`{"jsonrpc":"2.0","method":"get_enrolled_users","id":8}`))
	out := result(t, response)
	assert.Equal(t, true, out["success"])
	assert.Empty(t, out["users"])
}

func TestWarmupOutcomeVisibleBeforeWaiterWakes(t *testing.T) {
	srv := newTestServer(t)
	svc := srv.service

	done := make(chan struct{})
	svc.warming.Store(true)
	svc.warmupDone = done

	type outcome struct {
		warmed bool
		errMsg string
	}
	seen := make(chan outcome, 1)
	go func() {
		<-done
		msg, _ := svc.warmupErrMsg.Load().(string)
		seen <- outcome{warmed: svc.warmed.Load(), errMsg: msg}
	}()

	svc.finishWarmup(&models{}, nil, done)

	// The waiter wakes on the channel close; every outcome store must
	// already be visible at that point.
	got := <-seen
	assert.True(t, got.warmed)
	assert.Empty(t, got.errMsg)
	assert.NotNil(t, svc.engine)
	assert.False(t, svc.warming.Load())
}

func TestWarmupFailureVisibleBeforeWaiterWakes(t *testing.T) {
	srv := newTestServer(t)
	svc := srv.service

	done := make(chan struct{})
	svc.warming.Store(true)
	svc.warmupDone = done

	seen := make(chan string, 1)
	go func() {
		<-done
		msg, _ := svc.warmupErrMsg.Load().(string)
		seen <- msg
	}()

	svc.finishWarmup(nil, errors.New("model load failed"), done)

	assert.Equal(t, "model load failed", <-seen)
	assert.False(t, svc.warmed.Load())
	assert.Nil(t, svc.warmupDone)
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	srv := newTestServer(t)
	srv.methods["explode"] = func(_ json.RawMessage) (interface{}, error) {
		panic("mat already closed")
	}

	response, reply := srv.dispatch([]byte(`{"jsonrpc":"2.0","method":"explode","id":11}`))
	require.True(t, reply)
	require.NotNil(t, response.Error)
	assert.Equal(t, CodeInternalError, response.Error.Code)
	assert.Contains(t, response.Error.Message, "mat already closed")

	// The service lock must have been released on the way out.
	response, reply = srv.dispatch([]byte(`{"jsonrpc":"2.0","method":"get_enrolled_users","id":12}`))
	require.True(t, reply)
	require.Nil(t, response.Error)
}
