// Package seed creates the records a fresh installation needs: a default
// administrator and the stock event categories. Applying it twice is a no-op.
package seed

import (
	"context"
	"fmt"

	"daybook/internal/domain"
	"daybook/internal/resource"
	"daybook/internal/store"
)

// DefaultAdminPassword is used when no seed password is configured. It only
// ever applies to brand-new workspaces.
const DefaultAdminPassword = "the default admin password"

var defaultCategories = []string{
	"Appointment",
	"Chore",
	"Holiday",
	"Meeting",
	"Travel",
}

type Report struct {
	AdminCreated      bool
	CategoriesCreated int
}

// Apply seeds the store.
func Apply(ctx context.Context, s store.Store, adminUsername, adminPassword string) (Report, error) {
	var report Report
	created, err := ensureAdmin(ctx, s, adminUsername, adminPassword)
	if err != nil {
		return report, err
	}
	report.AdminCreated = created
	n, err := ensureCategories(ctx, s)
	if err != nil {
		return report, err
	}
	report.CategoriesCreated = n
	return report, nil
}

func ensureAdmin(ctx context.Context, s store.Store, username, password string) (bool, error) {
	users := s.Collection(domain.Users)
	n, err := users.Count(ctx, store.Where("isDefaultAdmin", true))
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if username == "" {
		username = "admin"
	}
	if password == "" {
		password = DefaultAdminPassword
	}
	admin := store.Document{
		"firstName":      "Default",
		"lastName":       "Administrator",
		"username":       username,
		"isDefaultAdmin": true,
		"roles":          []string{domain.RoleAdmin},
	}
	if err := resource.SetPassword(admin, password); err != nil {
		return false, fmt.Errorf("seed admin password: %w", err)
	}
	if _, _, err := users.Save(ctx, admin); err != nil {
		return false, err
	}
	return true, nil
}

func ensureCategories(ctx context.Context, s store.Store) (int, error) {
	categories := s.Collection(domain.EventCategories)
	n, err := categories.Count(ctx, store.Criteria{})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}
	for _, name := range defaultCategories {
		if _, _, err := categories.Save(ctx, store.Document{"name": name}); err != nil {
			return 0, err
		}
	}
	return len(defaultCategories), nil
}
