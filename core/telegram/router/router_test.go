package router

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v4"
)

type codedErr struct{}

func (codedErr) Error() string { return "coded" }

func TestNormalizeHandlerName(t *testing.T) {
	assert.Equal(t, "unknown", normalizeHandlerName("  "))
	assert.Equal(t, "start", normalizeHandlerName("/Start"))
	assert.Equal(t, "post_flow", normalizeHandlerName("post flow"))
}

func TestDeriveErrorCode(t *testing.T) {
	assert.Equal(t, "", deriveErrorCode(nil))
	assert.Equal(t, "TELEGRAM_403", deriveErrorCode(tele.ErrBlockedByUser))
	assert.Equal(t, "CODEDERR", deriveErrorCode(codedErr{}))
	assert.Equal(t, "ERRORSTRING", deriveErrorCode(errors.New("x")))
}
