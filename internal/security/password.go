package security

import "golang.org/x/crypto/bcrypt"

// bcryptCost defines the bcrypt work factor.
var bcryptCost = 12

// HashPassword hashes a plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a bcrypt hash with a plaintext password.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashSecret digests an application secret for storage.
func HashSecret(secret string) (string, error) {
	return HashPassword(secret)
}

// CheckSecret reports whether secret matches the stored digest.
func CheckSecret(hash, secret string) bool {
	if hash == "" || secret == "" {
		return false
	}
	return CheckPassword(hash, secret)
}

// SetHashCostForTesting lowers the bcrypt cost and returns a restore func.
func SetHashCostForTesting(cost int) func() {
	prev := bcryptCost
	bcryptCost = cost
	return func() { bcryptCost = prev }
}
