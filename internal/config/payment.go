package config

import (
	"os"
	"strconv"
	"time"
)

type PaymentConfig struct {
	ProviderSecret string
	OrderTimeout   time.Duration
	QRImageSize    int
	MaxOrderAmount float64
}

func LoadPaymentConfig() *PaymentConfig {
	return &PaymentConfig{
		ProviderSecret: getEnv("PAYMENT_PROVIDER_SECRET", ""),
		OrderTimeout:   getEnvAsDuration("PAYMENT_ORDER_TIMEOUT", 15*time.Minute),
		QRImageSize:    getEnvAsInt("PAYMENT_QR_IMAGE_SIZE", 256),
		MaxOrderAmount: getEnvAsFloat("PAYMENT_MAX_ORDER_AMOUNT", 100000),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
