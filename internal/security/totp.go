package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTP verification errors.
var (
	// ErrCodeFormat indicates the submitted code is not six digits. Raised
	// before any cryptographic comparison happens.
	ErrCodeFormat = errors.New("code must be 6 digits")
)

const (
	// totpSecretBytes sizes the shared secret at 160 bits.
	totpSecretBytes = 20
	// totpPeriod is the TOTP time step in seconds.
	totpPeriod = 30
	// totpSkew accepts the previous and next time step.
	totpSkew = 1
	// backupCodeCount is how many recovery codes an enrollment produces.
	backupCodeCount = 10
	// backupCodeBytes yields 8 hex characters per code.
	backupCodeBytes = 4
)

// sixDigitCode matches exactly six ASCII digits.
var sixDigitCode = regexp.MustCompile(`^\d{6}$`)

// TOTPEnrollment carries everything a new enrollment needs: the shared
// secret, the otpauth provisioning URI, and one-time recovery codes. The
// plaintext codes are shown once; only their hashes are persisted.
type TOTPEnrollment struct {
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
	Key             *otp.Key
}

// GenerateTOTPSecret produces a fresh shared secret and recovery codes for
// the given account label.
func GenerateTOTPSecret(issuer, accountLabel string) (*TOTPEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountLabel,
		SecretSize:  totpSecretBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("security: generate totp secret: %w", err)
	}

	codes := make([]string, 0, backupCodeCount)
	for i := 0; i < backupCodeCount; i++ {
		buf := make([]byte, backupCodeBytes)
		if _, errRead := rand.Read(buf); errRead != nil {
			return nil, fmt.Errorf("security: generate backup code: %w", errRead)
		}
		codes = append(codes, hex.EncodeToString(buf))
	}

	return &TOTPEnrollment{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		BackupCodes:     codes,
		Key:             key,
	}, nil
}

// VerifyTOTPCode checks a six-digit code against the shared secret, accepting
// one time step of clock skew on either side. A malformed code fails with
// ErrCodeFormat without touching the secret.
func VerifyTOTPCode(secret, code string) (bool, error) {
	if !sixDigitCode.MatchString(code) {
		return false, ErrCodeFormat
	}
	ok, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("security: validate totp: %w", err)
	}
	return ok, nil
}

// HashBackupCode hashes a recovery code for at-rest storage.
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
