package services

import (
	"context"
	cryptorand "crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrSMSRateLimited is returned when a phone number asks for codes faster
// than the allowed rate.
var ErrSMSRateLimited = errors.New("sms code rate limit exceeded")

const (
	smsCodeTTL      = 5 * time.Minute
	smsRateWindow   = 1 * time.Hour
	smsMaxPerWindow = 5
)

// SMSService issues and verifies 6-digit registration codes. Codes live
// in redis with a short TTL; actual gateway delivery is an external
// collaborator, so this logs the code instead of sending it.
type SMSService struct {
	redis *redis.Client
}

func NewSMSService(redisClient *redis.Client) *SMSService {
	return &SMSService{redis: redisClient}
}

// Send generates a fresh code for the phone number. A repeated Send
// replaces any previous code.
func (s *SMSService) Send(ctx context.Context, phoneNumber string) error {
	if s.redis == nil {
		return errors.New("sms verification requires redis")
	}

	if err := s.checkRateLimit(ctx, phoneNumber); err != nil {
		return err
	}

	code, err := generateSMSCode()
	if err != nil {
		return err
	}

	key := fmt.Sprintf("sms_code:%s", phoneNumber)
	if err := s.redis.Set(ctx, key, code, smsCodeTTL).Err(); err != nil {
		return fmt.Errorf("failed to store code: %w", err)
	}

	// Gateway handoff happens out of process.
	log.Printf("[SMS] Verification code for %s: %s", phoneNumber, code)
	return nil
}

// Verify consumes the code for the phone number. A correct code is
// single-use; a wrong code leaves the stored one in place until expiry.
func (s *SMSService) Verify(ctx context.Context, phoneNumber, code string) bool {
	if s.redis == nil {
		return false
	}

	key := fmt.Sprintf("sms_code:%s", phoneNumber)
	stored, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if stored != code {
		return false
	}

	s.redis.Del(ctx, key)
	return true
}

func (s *SMSService) checkRateLimit(ctx context.Context, phoneNumber string) error {
	key := fmt.Sprintf("sms_rate:%s", phoneNumber)
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if count == 1 {
		s.redis.Expire(ctx, key, smsRateWindow)
	}
	if count > smsMaxPerWindow {
		return ErrSMSRateLimited
	}
	return nil
}

func generateSMSCode() (string, error) {
	n, err := cryptorand.Int(cryptorand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
