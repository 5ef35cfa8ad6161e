package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"rwaadmin/internal/model"
	"rwaadmin/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys set by the auth middleware.
const (
	ContextUserID    = "userID"
	ContextUserRoles = "userRoles"
)

// PermissionSource resolves the permission codes granted to a set of roles.
type PermissionSource interface {
	PermissionsForRoles(ctx context.Context, roleNames []string) ([]string, error)
}

// Claims is the access token payload.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// permCacheEntry stores cached permission codes for a role set with TTL
type permCacheEntry struct {
	codes     []string
	expiresAt time.Time
}

// Auth validates access tokens and enforces roles and permissions.
type Auth struct {
	secret        []byte
	perms         PermissionSource
	secureCookies bool
	accessTTL     time.Duration
	refreshTTL    time.Duration

	permCache    sync.Map // sorted role set -> permCacheEntry
	permCacheTTL time.Duration
}

// AuthConfig configures NewAuth.
type AuthConfig struct {
	Secret        string
	SecureCookies bool
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

func NewAuth(cfg AuthConfig, perms PermissionSource) *Auth {
	return &Auth{
		secret:        []byte(cfg.Secret),
		perms:         perms,
		secureCookies: cfg.SecureCookies,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		permCacheTTL:  5 * time.Minute,
	}
}

// ParseToken validates an HMAC-signed access token.
func (a *Auth) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// TokenFromRequest reads the access token from the cookie or the Authorization header.
func TokenFromRequest(c *gin.Context) (string, error) {
	// Try cookie first, fallback to Authorization header
	if tokenString, err := c.Cookie("access_token"); err == nil && tokenString != "" {
		return tokenString, nil
	}
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", errors.New("Authorization is missing")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("Invalid authorization format. Expected 'Bearer <token>'")
	}
	return parts[1], nil
}

// Authenticate validates the token and stores the user id and roles in the context.
func (a *Auth) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.authenticate(c) {
			return
		}
		c.Next()
	}
}

func (a *Auth) authenticate(c *gin.Context) bool {
	tokenString, err := TokenFromRequest(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, err.Error()))
		return false
	}
	claims, err := a.ParseToken(tokenString)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token: "+err.Error()))
		return false
	}
	c.Set(ContextUserID, claims.Subject)
	c.Set(ContextUserRoles, claims.Roles)
	return true
}

// RequireRole lets the request through if the user holds any of allowedRoles.
func (a *Auth) RequireRole(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.authenticate(c) {
			return
		}
		roles := UserRoles(c)
		for _, allowed := range allowedRoles {
			if slices.Contains(roles, allowed) {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: insufficient permissions"))
	}
}

// RequirePermission checks that the user's roles grant every required permission.
// SUPER_ADMIN always passes.
func (a *Auth) RequirePermission(requiredPerms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.authenticate(c) {
			return
		}
		roles := UserRoles(c)
		if slices.Contains(roles, model.RoleSuperAdmin) {
			c.Next()
			return
		}

		userPerms, err := a.PermissionsFor(c.Request.Context(), roles)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Failed to verify permissions"))
			return
		}

		for _, required := range requiredPerms {
			if !slices.Contains(userPerms, required) {
				c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: missing permission '"+required+"'"))
				return
			}
		}

		c.Next()
	}
}

// PermissionsFor returns cached or freshly loaded permission codes for a role set.
func (a *Auth) PermissionsFor(ctx context.Context, roles []string) ([]string, error) {
	key := roleSetKey(roles)
	if entry, ok := a.permCache.Load(key); ok {
		cached := entry.(permCacheEntry)
		if time.Now().Before(cached.expiresAt) {
			return cached.codes, nil
		}
	}
	if a.perms == nil {
		return nil, errors.New("permission source not configured")
	}

	codes, err := a.perms.PermissionsForRoles(ctx, roles)
	if err != nil {
		return nil, err
	}
	a.permCache.Store(key, permCacheEntry{
		codes:     codes,
		expiresAt: time.Now().Add(a.permCacheTTL),
	})
	return codes, nil
}

// ClearPermissionCache drops every cached role set. Call after role or permission edits.
func (a *Auth) ClearPermissionCache() {
	a.permCache.Range(func(key, _ interface{}) bool {
		a.permCache.Delete(key)
		return true
	})
}

// SetTokenCookies sets access_token and refresh_token as HttpOnly cookies
func (a *Auth) SetTokenCookies(c *gin.Context, accessToken, refreshToken string) {
	a.setSameSite(c)
	c.SetCookie("access_token", accessToken, int(a.accessTTL.Seconds()), "/", "", a.secureCookies, true)
	c.SetCookie("refresh_token", refreshToken, int(a.refreshTTL.Seconds()), "/", "", a.secureCookies, true)
}

// ClearTokenCookies removes access_token and refresh_token cookies
func (a *Auth) ClearTokenCookies(c *gin.Context) {
	a.setSameSite(c)
	c.SetCookie("access_token", "", -1, "/", "", a.secureCookies, true)
	c.SetCookie("refresh_token", "", -1, "/", "", a.secureCookies, true)
}

// Cross-origin deployments need SameSite=None, which browsers only accept with Secure.
func (a *Auth) setSameSite(c *gin.Context) {
	if a.secureCookies {
		c.SetSameSite(http.SameSiteNoneMode)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
}

// UserID returns the authenticated user's id, or "".
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// UserRoles returns the authenticated user's roles.
func UserRoles(c *gin.Context) []string {
	return c.GetStringSlice(ContextUserRoles)
}

func roleSetKey(roles []string) string {
	sorted := slices.Clone(roles)
	slices.Sort(sorted)
	return strings.Join(slices.Compact(sorted), ",")
}
