package getui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lzyats/im-dispatch/pkg/push"
)

func settings(base string) push.PushSettings {
	return push.PushSettings{Enabled: "Y", AppID: "app1", AppKey: "key", MasterSecret: "secret", BaseURL: base}
}

func TestProvider_Push(t *testing.T) {
	t.Run("should send transmission data and report the task id", func(t *testing.T) {
		req := require.New(t)
		var body pushRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/app1/auth":
				var a authRequest
				req.NoError(json.NewDecoder(r.Body).Decode(&a))
				req.Equal("key", a.AppKey)
				req.Len(a.Sign, 64)
				_, _ = w.Write([]byte(`{"code":0,"data":{"token":"tok-1"}}`))
			case "/app1/push/single/alias":
				req.NoError(json.NewDecoder(r.Body).Decode(&body))
				_, _ = w.Write([]byte(`{"code":0,"msg":"success","data":{"task-9":{"u1":"successed_online"}}}`))
			}
		}))
		defer srv.Close()

		p := NewWithClient(settings(srv.URL), srv.Client())
		res, err := p.Push(context.Background(), push.Message{
			Title: "New message", Body: "hi", Aliases: []string{"u1"},
			Data: map[string]string{"msgId": "m1", "sessionId": "s1"},
		})
		req.NoError(err)
		req.True(res.OK)
		req.Equal("task-9", res.TaskID)
		req.Len(body.RequestID, 32)
		req.Equal([]string{"u1"}, body.Audience.Alias)
		req.JSONEq(`{"msgId":"m1","sessionId":"s1"}`, body.PushMessage.Transmission)
		req.Equal(int64(7200000), body.Settings.TTL)
	})

	t.Run("should refresh the token once when it was rejected", func(t *testing.T) {
		req := require.New(t)
		var auths, pushes atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/app1/auth":
				n := auths.Add(1)
				_, _ = w.Write([]byte(`{"code":0,"data":{"token":"tok-` + string(rune('0'+n)) + `"}}`))
			case "/app1/push/single/alias":
				pushes.Add(1)
				if r.Header.Get("token") == "tok-1" {
					_, _ = w.Write([]byte(`{"code":10001,"msg":"token invalid"}`))
					return
				}
				_, _ = w.Write([]byte(`{"code":0,"data":{}}`))
			}
		}))
		defer srv.Close()

		p := NewWithClient(settings(srv.URL), srv.Client())
		_, err := p.Push(context.Background(), push.Message{Title: "t", Body: "b", Aliases: []string{"u1"}})
		req.NoError(err)
		req.Equal(int32(2), auths.Load())
		req.Equal(int32(2), pushes.Load())
	})

	t.Run("should surface vendor error codes", func(t *testing.T) {
		req := require.New(t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/app1/auth" {
				_, _ = w.Write([]byte(`{"code":0,"data":{"token":"tok"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"code":20001,"msg":"alias not bound"}`))
		}))
		defer srv.Close()

		res, err := NewWithClient(settings(srv.URL), srv.Client()).Push(context.Background(), push.Message{Aliases: []string{"u1"}})
		req.ErrorContains(err, "code=20001")
		req.False(res.OK)
		req.Contains(res.Body, "alias not bound")
	})

	t.Run("should reject missing aliases", func(t *testing.T) {
		_, err := New(settings("http://unused")).Push(context.Background(), push.Message{})
		require.ErrorIs(t, err, push.ErrInvalidArgument)
	})
}
