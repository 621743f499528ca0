package webserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type Auth struct {
	secret   []byte
	adminKey string
}

func NewAuth(secret []byte, adminKey string) Auth {
	return Auth{secret: secret, adminKey: adminKey}
}

// Login exchanges the operator key for a short-lived bearer token.
func (a Auth) Login(c *gin.Context) {
	var req struct {
		Key string `json:"key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if a.adminKey == "" || req.Key != a.adminKey {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "operator",
		"exp": time.Now().Add(24 * time.Hour).Unix(),
		"iat": time.Now().Unix(),
	})
	signed, err := tok.SignedString(a.secret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": "sign token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": signed})
}
