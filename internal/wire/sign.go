package wire

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// SignControl signs a control command's cmd field with HS256, the same
// jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{...}) pattern
// the teacher codebase uses for its session cookies
// (internal/server/auth.go), repurposed here for authenticating
// dwqm-issued worker control commands instead of HTTP sessions.
func SignControl(cmd string, secret string) (string, error) {
	claims := jwt.MapClaims{
		"cmd": cmd,
		"iat": time.Now().Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}

// VerifyControl checks that cmd.Sig is a valid signature over
// cmd.Control.Cmd under secret.
func VerifyControl(cmd ControlCommand, secret string) error {
	parsed, err := jwt.Parse(cmd.Sig, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return jwt.ErrSignatureInvalid
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return jwt.ErrInvalidKey
	}
	if claims["cmd"] != cmd.Control.Cmd {
		return jwt.ErrTokenSignatureInvalid
	}
	return nil
}
