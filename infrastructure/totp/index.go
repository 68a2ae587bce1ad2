// Package totp implements the secondary credential check behind the
// REQUIRE_2FA decision.
package totp

import (
	"github.com/pquerna/otp/totp"
	"sentinel.io/infrastructure/logger"
)

type TOTPGeneratorType interface {
	GenerateSecret(user string) (secretKey *string, url *string, err error)
	ValidateTOTP(token string, secret string) bool
}

type PquernaTOTPService struct{}

func (pq *PquernaTOTPService) GenerateSecret(user string) (secretKey *string, url *string, err error) {
	secret, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "Sentinel Daemon",
		AccountName: user,
	})
	if err != nil {
		logger.Error("an error occured while generating TOTP secret", logger.LoggerOptions{
			Key:  "err",
			Data: err,
		})
		return nil, nil, err
	}
	secretValue := secret.Secret()
	urlValue := secret.URL()
	return &secretValue, &urlValue, nil
}

func (pq *PquernaTOTPService) ValidateTOTP(token string, secret string) bool {
	return totp.Validate(token, secret)
}

var Service TOTPGeneratorType = &PquernaTOTPService{}
