package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTwilioSMSSender_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "token", pass)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "+14155550123", r.PostForm.Get("To"))
		assert.Equal(t, "+15005550006", r.PostForm.Get("From"))
		assert.Equal(t, "hello", r.PostForm.Get("Body"))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	}))
	defer srv.Close()

	sender := NewTwilioSMSSender("AC123", "token", "+15005550006")
	sender.baseURL = srv.URL

	assert.NoError(t, sender.Send(context.Background(), "+14155550123", "hello"))
}

func TestTwilioSMSSender_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"The 'To' number is not a valid phone number."}`))
	}))
	defer srv.Close()

	sender := NewTwilioSMSSender("AC123", "token", "+15005550006")
	sender.baseURL = srv.URL

	err := sender.Send(context.Background(), "+14155550123", "hello")

	assert.ErrorContains(t, err, "status 400")
	assert.ErrorContains(t, err, "not a valid phone number")
}

func TestLogSMSSender_Send(t *testing.T) {
	assert.NoError(t, NewLogSMSSender(discardLogger(), "development").Send(context.Background(), "+14155550123", "code 123456"))
}
