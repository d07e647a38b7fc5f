package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"inclusion-platform/backend/internal/security"
	"inclusion-platform/backend/internal/user/service"
)

func TestFieldErrors(t *testing.T) {
	tests := []struct {
		err   error
		field string
	}{
		{service.ErrNamesRequired, "first_name"},
		{service.ErrInvalidEmail, "email"},
		{fmt.Errorf("create: %w", service.ErrEmailAlreadyRegistered), "email"},
		{service.ErrPasswordMismatch, "password2"},
		{security.ErrPasswordTooShort, "password1"},
		{security.ErrPasswordLikeEmail, "password1"},
	}
	for _, tt := range tests {
		got, ok := FieldErrors(tt.err)
		assert.True(t, ok, tt.err.Error())
		assert.NotEmpty(t, got[tt.field], tt.err.Error())
	}

	_, ok := FieldErrors(fmt.Errorf("db down"))
	assert.False(t, ok)
}

func TestBindForm_TrimsAndRedisplayDropsPasswords(t *testing.T) {
	gin.SetMode(gin.TestMode)
	body := url.Values{
		"first_name": {"  Jeanne "}, "last_name": {"Martin"}, "email": {" jeanne@siae.fr "},
		"password1": {"secret-1"}, "password2": {"secret-1"},
	}
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body.Encode()))
	c.Request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	f := BindForm(c)
	assert.Equal(t, "Jeanne", f.FirstName)
	assert.Equal(t, "jeanne@siae.fr", f.Email)
	assert.Equal(t, "secret-1", f.Password1)

	r := f.Redisplay()
	assert.Empty(t, r.Password1)
	assert.Empty(t, r.Password2)
	assert.Equal(t, "Jeanne", r.FirstName)
}
