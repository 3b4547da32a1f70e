package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"consulting-crm/internal/common/errors"
	"consulting-crm/internal/common/logger"
	"consulting-crm/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const actorKey = "actor"

// Claims carries the authenticated user ID in the standard subject claim.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// ActorResolver loads the acting user named by a token.
type ActorResolver interface {
	ResolveActor(ctx context.Context, id string) (models.Actor, error)
}

// RequestRecorder is satisfied by *observability.Observability.
type RequestRecorder interface {
	RecordRequest(ctx context.Context, route string, status int, duration time.Duration)
}

// AuthMiddleware validates the bearer token and stores the actor on the context.
func AuthMiddleware(secret, issuer string, actors ActorResolver, log logger.Logger) gin.HandlerFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "Authorization header is required"})
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "Invalid authorization header format"})
			return
		}

		claims := &Claims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid || claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "Invalid or expired token"})
			return
		}

		actor, err := actors.ResolveActor(c.Request.Context(), claims.Subject)
		if err != nil {
			if !errors.IsNotFound(err) {
				log.Error("actor lookup failed", map[string]interface{}{
					"userId": claims.Subject,
					"error":  err,
				})
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "User not found"})
			return
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

// RequestMetrics records route, status and duration for every request.
func RequestMetrics(recorder RequestRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if recorder == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		recorder.RecordRequest(c.Request.Context(), route, c.Writer.Status(), time.Since(start))
	}
}

// RequestLogger logs one line per request.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}
		if actor, ok := actorFrom(c); ok {
			fields["actorId"] = actor.ID
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("request failed", fields)
			return
		}
		log.Debug("request handled", fields)
	}
}

func actorFrom(c *gin.Context) (models.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return models.Actor{}, false
	}
	actor, ok := v.(models.Actor)
	return actor, ok
}
