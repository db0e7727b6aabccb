package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"outletcash/backend/internal/domain"
	"outletcash/backend/internal/store"
)

var errInvalidCredentials = errors.New("invalid credentials")

// AccountReader resolves a login code to the attendant account behind it.
type AccountReader interface {
	GetAttendant(ctx context.Context, code string) (*domain.AttendantAccount, error)
}

type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	accounts AccountReader
}

type outletClaims struct {
	jwtlib.RegisteredClaims
	Role   string `json:"role"`
	Outlet string `json:"outlet,omitempty"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, accounts AccountReader) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		accounts: accounts,
	}
}

// Login checks a code and PIN. A code shared by several accounts is refused
// with the ambiguity error rather than guessed.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" || strings.TrimSpace(req.PIN) == "" {
		return domain.LoginResponse{}, errInvalidCredentials
	}

	account, err := a.accounts.GetAttendant(ctx, code)
	var ambiguous *store.AmbiguousCodeError
	switch {
	case errors.As(err, &ambiguous):
		return domain.LoginResponse{}, err
	case err != nil:
		return domain.LoginResponse{}, errInvalidCredentials
	}

	if !verifyPIN(account.PINHash, req.PIN) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !account.Active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}

	actor := domain.Actor{Code: account.Code, Role: account.Role, Outlet: account.Outlet}
	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(actor, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        account.Role,
		Outlet:      account.Outlet,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &outletClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Code: sub, Role: claims.Role, Outlet: claims.Outlet}, nil
}

func (a *AuthManager) sign(actor domain.Actor, expiresAt time.Time) (string, error) {
	claims := outletClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   actor.Code,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "outletcash",
		},
		Role:   actor.Role,
		Outlet: actor.Outlet,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// HashPIN is used when provisioning accounts.
func HashPIN(pin string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func verifyPIN(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPINHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func isPINHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
