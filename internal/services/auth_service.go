package services

import (
	"context"
	cryptorand "crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"
)

type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	sms       *SMSService
	validator *validator.Validate
}

// LoginRequest represents the login request payload
// @Description Login request structure
type LoginRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required" example:"+8613012345678"` // Operator phone number
	Password    string `json:"password" validate:"required,min=6" example:"password123"` // Operator password
}

// RegisterRequest represents the operator registration payload
// @Description Registration request structure
type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email" example:"ops@example.com"` // Contact email
	Password    string `json:"password" validate:"required,min=6" example:"password123"`  // Password
	CompanyName string `json:"companyName" validate:"required,min=2" example:"Neon Dome"` // Franchise company name
	PhoneNumber string `json:"phoneNumber" validate:"required" example:"+8613012345678"`  // Phone number
	SMSCode     string `json:"smsCode" validate:"required,len=6" example:"482913"`        // SMS verification code
}

// AuthResponse represents the authentication response
// @Description Authentication response structure
type AuthResponse struct {
	Token    string       `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."` // JWT token
	Operator OperatorInfo `json:"operator"`                                               // Operator information
}

// OperatorInfo represents operator information in auth responses
// @Description Operator structure
type OperatorInfo struct {
	ID          int64  `json:"id" example:"1"`                       // Operator ID
	Email       string `json:"email" example:"ops@example.com"`      // Contact email
	CompanyName string `json:"companyName" example:"Neon Dome"`      // Company name
	PhoneNumber string `json:"phoneNumber" example:"+8613012345678"` // Phone number
	AccountID   int64  `json:"accountId" example:"1"`                // Balance account ID
}

func NewAuthService(db *sql.DB, redisClient *redis.Client) *AuthService {
	return &AuthService{
		db:        db,
		redis:     redisClient,
		sms:       NewSMSService(redisClient),
		validator: validator.New(),
	}
}

func (s *AuthService) sendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	SendErrorResponse(w, message, statusCode, validationErr)
}

// Register handles operator registration
// @Summary Register a new operator
// @Description Register an operator with a verified phone number; creates the balance account
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration request"
// @Success 200 {object} AuthResponse "Registration successful"
// @Failure 400 {string} string "Invalid request"
// @Failure 401 {string} string "Invalid or expired SMS code"
// @Failure 409 {string} string "Phone number already registered"
// @Failure 500 {string} string "Internal server error"
// @Router /auth/register [post]
func (s *AuthService) Register(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Registration attempt from IP: %s", r.RemoteAddr)

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req RegisterRequest
	if err := dec.Decode(&req); err != nil {
		log.Printf("[AUTH] Registration failed - invalid request: %v", err)
		s.sendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		log.Printf("[AUTH] Multiple JSON objects detected")
		s.sendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		log.Printf("[AUTH] Registration validation failed: %v", err)
		s.sendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if !s.sms.Verify(r.Context(), req.PhoneNumber, req.SMSCode) {
		log.Printf("[AUTH] Invalid SMS code for phone: %s", req.PhoneNumber)
		s.sendErrorResponse(w, "Invalid or expired SMS code", http.StatusUnauthorized, nil)
		return
	}

	hashedPassword, err := hashPassword(req.Password)
	if err != nil {
		log.Printf("[AUTH] Password hashing failed for %s: %v", req.Email, err)
		s.sendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[AUTH] Transaction start failed for %s: %v", req.Email, err)
		s.sendErrorResponse(w, "Failed to create operator", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	var operatorID int64
	err = tx.QueryRow("INSERT INTO operators (email, password, company_name, phone_number, created_at) VALUES ($1, $2, $3, $4, NOW()) RETURNING id",
		strings.ToLower(req.Email), hashedPassword, req.CompanyName, req.PhoneNumber).Scan(&operatorID)
	if err != nil {
		log.Printf("[AUTH] Operator creation failed for %s: %v", req.Email, err)
		s.sendErrorResponse(w, "Phone number or email already registered", http.StatusConflict, nil)
		return
	}

	// Every operator gets exactly one balance account, opened empty.
	var accountID int64
	err = tx.QueryRow("INSERT INTO accounts (operator_id, balance, is_active, is_locked, updated_at) VALUES ($1, 0, true, false, NOW()) RETURNING id",
		operatorID).Scan(&accountID)
	if err != nil {
		log.Printf("[AUTH] Account creation failed for %s: %v", req.Email, err)
		s.sendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}

	if err = tx.Commit(); err != nil {
		log.Printf("[AUTH] Transaction commit failed for %s: %v", req.Email, err)
		s.sendErrorResponse(w, "Failed to create operator", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Operator created successfully - ID: %d, Email: %s", operatorID, req.Email)

	token, err := generateJWT(operatorID)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for operator %d: %v", operatorID, err)
		s.sendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	response := AuthResponse{
		Token: token,
		Operator: OperatorInfo{
			ID:          operatorID,
			Email:       strings.ToLower(req.Email),
			CompanyName: req.CompanyName,
			PhoneNumber: req.PhoneNumber,
			AccountID:   accountID,
		},
	}

	log.Printf("[AUTH] Registration successful for operator %d", operatorID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// Login handles operator authentication
// @Summary Login operator
// @Description Authenticate operator with phone number and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse "Login successful"
// @Failure 400 {string} string "Invalid request"
// @Failure 401 {string} string "Invalid credentials"
// @Failure 500 {string} string "Internal server error"
// @Router /auth/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req LoginRequest
	if err := dec.Decode(&req); err != nil {
		log.Printf("[AUTH] Login failed - invalid request: %v", err)
		s.sendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		log.Printf("[AUTH] Multiple JSON objects detected")
		s.sendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		log.Printf("[AUTH] Login validation failed: %v", err)
		s.sendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var op OperatorInfo
	var hashedPassword string
	err := s.db.QueryRow(`
		SELECT operators.id, email, company_name, phone_number, password, accounts.id
		FROM operators
		JOIN accounts ON accounts.operator_id = operators.id
		WHERE phone_number = $1`,
		req.PhoneNumber).Scan(&op.ID, &op.Email, &op.CompanyName, &op.PhoneNumber, &hashedPassword, &op.AccountID)
	if err != nil {
		log.Printf("[AUTH] Operator not found for phone number: %s", req.PhoneNumber)
		s.sendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if !verifyPassword(req.Password, hashedPassword) {
		log.Printf("[AUTH] Invalid password for operator: %s", req.PhoneNumber)
		s.sendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	token, err := generateJWT(op.ID)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for operator %d: %v", op.ID, err)
		s.sendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Login successful for operator %d", op.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{Token: token, Operator: op})
}

// Logout handles operator logout
// @Summary Logout operator
// @Description Logout operator and blacklist token
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string "Logout successful"
// @Router /auth/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if token != "" && len(token) > 7 {
		token = token[7:] // Remove "Bearer " prefix

		if s.redis != nil {
			ctx := context.Background()
			key := fmt.Sprintf("blacklist:%s", token)
			// Blacklist token until its expiration
			expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
			if err := s.redis.Set(ctx, key, "1", expiry).Err(); err != nil {
				log.Printf("[AUTH] Failed to blacklist token: %v", err)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Logout successful"})
}

// SendSMSCode issues a registration verification code
// @Summary Send SMS verification code
// @Description Generate and deliver a 6-digit verification code to the phone number
// @Tags auth
// @Accept json
// @Produce json
// @Param request body map[string]string true "Phone number"
// @Success 200 {object} map[string]interface{} "Code sent"
// @Failure 400 {string} string "Invalid request"
// @Failure 429 {string} string "Too many requests"
// @Router /auth/sms-code [post]
func (s *AuthService) SendSMSCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhoneNumber string `json:"phoneNumber" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		s.sendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := s.sms.Send(r.Context(), req.PhoneNumber); err != nil {
		if err == ErrSMSRateLimited {
			s.sendErrorResponse(w, "Too many codes requested, try again later", http.StatusTooManyRequests, nil)
			return
		}
		log.Printf("[AUTH] SMS code delivery failed for %s: %v", req.PhoneNumber, err)
		s.sendErrorResponse(w, "Failed to send code", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"message": "Code Sent Successfully",
		"sent":    true,
	})
}

// GetOperatorAccount retrieves the operator profile and balance from the auth token
// @Summary Get operator account details
// @Description Get authenticated operator's profile and current balance
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]interface{} "Operator account details"
// @Failure 401 {string} string "Unauthorized"
// @Failure 500 {string} string "Internal server error"
// @Router /auth/account [get]
func (s *AuthService) GetOperatorAccount(w http.ResponseWriter, r *http.Request) {
	operatorID := r.Context().Value("operatorID")
	if operatorID == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var op OperatorInfo
	var balance string
	err := s.db.QueryRow(`
		SELECT operators.id, email, company_name, phone_number, accounts.id, accounts.balance
		FROM operators
		JOIN accounts ON accounts.operator_id = operators.id
		WHERE operators.id = $1`,
		operatorID).Scan(&op.ID, &op.Email, &op.CompanyName, &op.PhoneNumber, &op.AccountID, &balance)
	if err != nil {
		if err == sql.ErrNoRows {
			http.Error(w, "Operator not found", http.StatusNotFound)
		} else {
			log.Printf("[AUTH] Failed to fetch operator details for ID %v: %v", operatorID, err)
			http.Error(w, "Failed to fetch operator details", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"operator": op,
		"balance":  balance,
	})
}

func generateJWT(operatorID int64) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"operator_id": operatorID,
		"exp":         time.Now().Add(time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour).Unix(),
	})

	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return string(hash) == string(computedHash)
}
