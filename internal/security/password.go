package security

import "golang.org/x/crypto/bcrypt"

// bcryptCost is the work factor for admin password hashes. Raising it only
// affects newly hashed passwords; existing hashes verify at the cost they
// were created with.
const bcryptCost = 12

// HashPassword returns a bcrypt hash of the plaintext password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether the plaintext password matches the stored
// bcrypt hash. It never distinguishes why a comparison failed.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
