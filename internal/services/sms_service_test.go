package services

import (
	"context"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestSMSService_Verify(t *testing.T) {
	redisClient, redisMock := redismock.NewClientMock()
	service := NewSMSService(redisClient)
	ctx := context.Background()

	t.Run("correct code is consumed", func(t *testing.T) {
		redisMock.ExpectGet("sms_code:+8613012345678").SetVal("482913")
		redisMock.ExpectDel("sms_code:+8613012345678").SetVal(1)

		assert.True(t, service.Verify(ctx, "+8613012345678", "482913"))
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("wrong code leaves the stored one in place", func(t *testing.T) {
		redisMock.ExpectGet("sms_code:+8613012345678").SetVal("482913")

		assert.False(t, service.Verify(ctx, "+8613012345678", "111111"))
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("expired or never sent", func(t *testing.T) {
		redisMock.ExpectGet("sms_code:+8613012345678").RedisNil()

		assert.False(t, service.Verify(ctx, "+8613012345678", "482913"))
	})

	t.Run("no redis", func(t *testing.T) {
		noRedis := NewSMSService(nil)
		assert.False(t, noRedis.Verify(ctx, "+8613012345678", "482913"))
	})
}

func TestSMSService_RateLimit(t *testing.T) {
	redisClient, redisMock := redismock.NewClientMock()
	service := NewSMSService(redisClient)
	ctx := context.Background()

	// The sixth request in the window is refused before any code is stored.
	redisMock.ExpectIncr("sms_rate:+8613012345678").SetVal(6)

	err := service.Send(ctx, "+8613012345678")
	assert.ErrorIs(t, err, ErrSMSRateLimited)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestGenerateSMSCode(t *testing.T) {
	code, err := generateSMSCode()
	assert.NoError(t, err)
	assert.Len(t, code, 6)
	for _, c := range code {
		assert.True(t, c >= '0' && c <= '9')
	}
}
