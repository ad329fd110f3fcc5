package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Iron-Ham/odooctl/internal/credentials"
	"github.com/Iron-Ham/odooctl/internal/errors"
	"github.com/Iron-Ham/odooctl/internal/task"
)

// MaxPasswordBytes is the backend's limit (bcrypt only reads 72 bytes).
const MaxPasswordBytes = 72

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		limit, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return len(fl.Field().String()) <= limit
	})
	return v
}

// Credentials is the email/password body of login, setup and register.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,maxbytes=72"`
}

// Validate checks the input before it is sent.
func (c Credentials) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errors.NewValidationError(err.Error())
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	var msg string
	switch fe.Tag() {
	case "required":
		msg = fmt.Sprintf("%s is required", field)
	case "email":
		msg = "email is not a valid address"
	case "maxbytes":
		msg = fmt.Sprintf("Password must be %d characters or fewer", MaxPasswordBytes)
	default:
		msg = fmt.Sprintf("%s is invalid", field)
	}
	return errors.NewValidationError(msg).WithField(field)
}

// TokenResponse is returned by login, setup, register and refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Pair converts the response to a credential pair.
func (t TokenResponse) Pair() credentials.Pair {
	return credentials.Pair{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken}
}

// User is the authenticated account.
type User struct {
	ID        int            `json:"id"`
	Email     string         `json:"email"`
	IsActive  bool           `json:"is_active"`
	CreatedAt task.Timestamp `json:"created_at"`
}

// SetupStatus reports whether the backend still needs its first user.
func (c *Client) SetupStatus(ctx context.Context) (bool, error) {
	var out struct {
		SetupRequired bool `json:"setup_required"`
	}
	err := c.do(ctx, request{method: http.MethodGet, path: "/auth/setup", public: true}, &out)
	return out.SetupRequired, err
}

// Login exchanges email/password for a credential pair and stores it.
func (c *Client) Login(ctx context.Context, creds Credentials) (credentials.Pair, error) {
	return c.authenticate(ctx, "/auth/login", creds)
}

// Setup creates the first account. The backend refuses once any user exists.
func (c *Client) Setup(ctx context.Context, creds Credentials) (credentials.Pair, error) {
	return c.authenticate(ctx, "/auth/setup", creds)
}

// Register creates an additional account and signs in as it.
func (c *Client) Register(ctx context.Context, creds Credentials) (credentials.Pair, error) {
	return c.authenticate(ctx, "/auth/register", creds)
}

func (c *Client) authenticate(ctx context.Context, path string, creds Credentials) (credentials.Pair, error) {
	if err := creds.Validate(); err != nil {
		return credentials.Pair{}, err
	}
	var tokens TokenResponse
	if err := c.do(ctx, request{method: http.MethodPost, path: path, body: creds, public: true}, &tokens); err != nil {
		return credentials.Pair{}, err
	}
	pair := tokens.Pair()
	if err := c.session.Save(pair); err != nil {
		return credentials.Pair{}, err
	}
	c.logger.Info("signed in", "email", creds.Email)
	return pair, nil
}

// Logout forgets the stored credentials. The backend keeps no session state,
// so nothing is sent.
func (c *Client) Logout() error {
	_, err := c.session.Clear()
	return err
}

// Me returns the signed-in user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.Get(ctx, "/users/me", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// TokenExpiry returns when the stored access token expires.
func (c *Client) TokenExpiry() (time.Time, bool) {
	return credentials.ExpiresAt(c.session.AccessToken())
}
