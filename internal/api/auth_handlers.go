package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// Decoy accounts of the login trap. Weak on purpose.
var decoyCredentials = map[string]string{
	"alice": "password123",
	"bob":   "qwerty",
	"admin": "admin",
}

var decoyHashes = hashDecoys(decoyCredentials)

func hashDecoys(creds map[string]string) map[string][]byte {
	out := make(map[string][]byte, len(creds))
	for user, pass := range creds {
		hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.MinCost)
		if err != nil {
			zlog.Error().Err(err).Str("username", user).Msg("Failed to hash decoy credential")
			continue
		}
		out[user] = hash
	}
	return out
}

func checkDecoy(username, password string) bool {
	hash, ok := decoyHashes[username]
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// Login is the credential trap: a form login with no lockout and no rate
// limit. The outcome and username are handed to the telemetry middleware.
func (h *APIHandler) Login(c *gin.Context) {
	username, hasUser := c.GetPostForm("username")
	password, hasPass := c.GetPostForm("password")
	if !hasUser || !hasPass {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "username and password are required"})
		return
	}

	ok := checkDecoy(username, password)
	c.Set(ctxAuthSuccess, ok)
	c.Set(ctxLoginUsername, username)

	if ok {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Login successful",
			"user":    gin.H{"username": username},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": false, "message": "Invalid credentials"})
}
