package fakeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type user struct {
	ID        int       `json:"id"`
	Email     string    `json:"email"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	password  string
}

type claims struct {
	Type    string `json:"type"`
	Version int    `json:"ver"`
	jwt.RegisteredClaims
}

type ctxKey struct{}

var validate = validator.New(validator.WithRequiredStructEnabled())

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=72"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

func (s *Server) addUserLocked(email, password string) *user {
	s.nextUserID++
	u := &user{
		ID:        s.nextUserID,
		Email:     email,
		IsActive:  true,
		CreatedAt: s.now().UTC(),
		password:  password,
	}
	s.users[email] = u
	return u
}

// AddUser creates an account.
func (s *Server) AddUser(email, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addUserLocked(email, password)
}

// RevokeAccessTokens invalidates every access token issued so far, so the
// next authenticated call answers 401.
func (s *Server) RevokeAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessVersion++
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshVersion++
}

// IssueTokens mints a pair for email without a login round trip.
func (s *Server) IssueTokens(email string) (access, refresh string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return "", "", fmt.Errorf("unknown user %s", email)
	}
	tr, err := s.mintLocked(u)
	if err != nil {
		return "", "", err
	}
	return tr.AccessToken, tr.RefreshToken, nil
}

func (s *Server) mintLocked(u *user) (tokenResponse, error) {
	now := s.now()
	sign := func(kind string, version int, ttl time.Duration) (string, error) {
		c := claims{
			Type:    kind,
			Version: version,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   strconv.Itoa(u.ID),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
				ID:        uuid.NewString(),
			},
		}
		return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	}

	access, err := sign("access", s.accessVersion, s.accessTTL)
	if err != nil {
		return tokenResponse{}, err
	}
	refresh, err := sign("refresh", s.refreshVersion, s.refreshTTL)
	if err != nil {
		return tokenResponse{}, err
	}
	return tokenResponse{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}

func (s *Server) parse(token, wantType string) (*claims, error) {
	c := &claims{}
	_, err := jwt.ParseWithClaims(token, c, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if c.Type != wantType {
		return nil, errors.New("wrong token type")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.accessVersion
	if wantType == "refresh" {
		current = s.refreshVersion
	}
	if c.Version != current {
		return nil, errors.New("token revoked")
	}
	return c, nil
}

func (s *Server) userByID(id string) *user {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strconv.Itoa(u.ID) == id {
			return u
		}
	}
	return nil
}

// authenticate requires a valid access token, as the backend's
// get_current_user dependency does.
func (s *Server) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		c, err := s.parse(token, "access")
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		u := s.userByID(c.Subject)
		if u == nil || !u.IsActive {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, u)))
	}
}

func currentUser(r *http.Request) *user {
	u, _ := r.Context().Value(ctxKey{}).(*user)
	return u
}

// decodeLogin parses and validates a credentials body, answering 422 in the
// backend's field error format when it is invalid.
func decodeLogin(w http.ResponseWriter, r *http.Request) (loginRequest, bool) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidation(w, []fieldError{{Field: "body", Message: "Invalid JSON body", Type: "json_invalid"}})
		return req, false
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		var fields []fieldError
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields = append(fields, fieldError{
					Field:   "body -> " + strings.ToLower(fe.Field()),
					Message: validationMessage(fe),
					Type:    fe.Tag(),
				})
			}
		}
		writeValidation(w, fields)
		return req, false
	}
	return req, true
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Field required"
	case "email":
		return "value is not a valid email address"
	case "max":
		return "Value error, Password must be 72 characters or fewer"
	}
	return "Invalid value"
}

func (s *Server) handleSetupStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	required := len(s.users) == 0
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]bool{"setup_required": required})
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeLogin(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.users) > 0 {
		writeDetail(w, http.StatusForbidden, "Setup already completed")
		return
	}
	s.respondTokensLocked(w, s.addUserLocked(req.Email, req.Password))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeLogin(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[req.Email]; exists {
		writeDetail(w, http.StatusBadRequest, "Email already registered")
		return
	}
	s.respondTokensLocked(w, s.addUserLocked(req.Email, req.Password))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeLogin(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, exists := s.users[req.Email]
	if !exists || u.password != req.Password {
		writeDetail(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	s.respondTokensLocked(w, u)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		writeValidation(w, []fieldError{{Field: "body -> refresh_token", Message: "Field required", Type: "missing"}})
		return
	}
	c, err := s.parse(body.RefreshToken, "refresh")
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "Invalid or expired refresh token")
		return
	}
	u := s.userByID(c.Subject)
	if u == nil || !u.IsActive {
		writeDetail(w, http.StatusUnauthorized, "User not found or inactive")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.respondTokensLocked(w, u)
}

func (s *Server) respondTokensLocked(w http.ResponseWriter, u *user) {
	tr, err := s.mintLocked(u)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r))
}
