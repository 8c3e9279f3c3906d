package resource

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"daybook/internal/domain"
	"daybook/internal/engine"
	"daybook/internal/store"
)

const (
	fieldUsername     = "username"
	fieldPasswordHash = "passwordHash"

	minPasswordLength = 8
)

// Users carries the account records themselves. Listing is restricted to
// administrators; the server layer additionally lets a user read and update
// their own record.
func Users() Def {
	return Def{
		Name: domain.Users,
		Definition: engine.Definition{
			Collection: domain.Users,
			Role:       domain.RoleAdmin,
			Hooks: engine.Hooks{
				Validate:  ValidateUser,
				PostFetch: sanitizeUsers,
			},
		},
	}
}

// ValidateUser enforces the required user fields.
func ValidateUser(body store.Document) error {
	if body.String(fieldUsername) == "" {
		return engine.ValidationError{Reason: "Username is required"}
	}
	if body.String("firstName") == "" {
		return engine.ValidationError{Reason: "First Name is required"}
	}
	if body.String("lastName") == "" {
		return engine.ValidationError{Reason: "Last Name is required"}
	}
	return nil
}

// EnsureUniqueUsername rejects a save reusing another user's username.
func EnsureUniqueUsername(ctx context.Context, s store.Store, body store.Document) error {
	username := strings.ToLower(body.String(fieldUsername))
	body[fieldUsername] = username
	existing, err := s.Collection(domain.Users).FindOne(ctx, store.Where(fieldUsername, username))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID() != body.ID() {
		return engine.ValidationError{Reason: fmt.Sprintf("User %s already exists", username)}
	}
	return nil
}

// FindUserByUsername resolves a (case-insensitive) username.
func FindUserByUsername(ctx context.Context, s store.Store, username string) (store.Document, error) {
	return s.Collection(domain.Users).FindOne(ctx, store.Where(fieldUsername, strings.ToLower(username)))
}

// SetPassword validates and hashes a new password onto the user document.
func SetPassword(user store.Document, password string) error {
	if len(password) < minPasswordLength {
		return engine.ValidationError{
			Reason: fmt.Sprintf("New Password must be at least %d characters long", minPasswordLength),
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user[fieldPasswordHash] = string(hash)
	return nil
}

// PasswordIsValid checks an entered password against the stored hash.
func PasswordIsValid(user store.Document, password string) bool {
	hash := user.String(fieldPasswordHash)
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// SanitizeUser strips credential material from an outbound user document.
func SanitizeUser(user store.Document) store.Document {
	out := user.Clone()
	delete(out, fieldPasswordHash)
	delete(out, "password")
	return out
}

func sanitizeUsers(_ context.Context, users []store.Document) ([]store.Document, error) {
	out := make([]store.Document, 0, len(users))
	for _, u := range users {
		out = append(out, SanitizeUser(u))
	}
	return out, nil
}
