package middleware

import (
	"crypto/subtle"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/thirdweb-dev/ledgersync/api"
	config "github.com/thirdweb-dev/ledgersync/configs"
)

var ErrUnauthorized = fmt.Errorf("invalid username or password")

func Authorization(c *gin.Context) {
	username, password, ok := c.Request.BasicAuth()
	if !ok || !validateCredentials(username, password) {
		log.Debug().Str("path", c.Request.URL.Path).Msg(ErrUnauthorized.Error())
		api.UnauthorizedErrorHandler(c, ErrUnauthorized)
		c.Abort()
		return
	}
	c.Next()
}

func validateCredentials(username, password string) bool {
	auth := config.Cfg.API.BasicAuth
	userOk := subtle.ConstantTimeCompare([]byte(username), []byte(auth.Username)) == 1
	passOk := subtle.ConstantTimeCompare([]byte(password), []byte(auth.Password)) == 1
	return userOk && passOk
}
