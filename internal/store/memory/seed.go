package memory

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"outletcash/backend/internal/domain"
)

// Demo PINs, overridable through the environment.
const (
	DefaultAdminPIN     = "7392"
	DefaultAttendantPIN = "5846"
)

// NewSeeded returns a store with one demo outlet, a small catalog and an
// account for every role.
func NewSeeded() *Store {
	s := New()
	s.PutOutlet(domain.Outlet{
		Name:            "Baraka",
		AttendantPhones: []string{"0711000001"},
		SupplierPhone:   "0722000002",
		CommissionRate:  decimal.RequireFromString("0.01"),
	})
	s.PutCatalog(
		domain.ProductCatalogEntry{Key: "Beef", Name: "Beef", Unit: "kg", SellPrice: decimal.NewFromInt(700), Active: true},
		domain.ProductCatalogEntry{Key: "Goat", Name: "Goat", Unit: "kg", SellPrice: decimal.NewFromInt(850), Active: true},
		domain.ProductCatalogEntry{Key: "Matumbo", Name: "Matumbo", Unit: "kg", SellPrice: decimal.NewFromInt(400), Active: true},
		domain.ProductCatalogEntry{Key: "Chicken", Name: "Chicken", Unit: "pc", SellPrice: decimal.NewFromInt(650), Active: false},
	)
	s.PutPriceBook(domain.PriceBookEntry{Outlet: "Baraka", ItemKey: "beef", SellPrice: decimal.NewFromInt(750), Active: true})
	s.PutAssistant(domain.AssistantAssignment{Code: "ast1", Outlet: "Baraka", ProductKeys: []domain.ProductKey{"matumbo"}})

	adminPIN, staffPIN := SeedPINs()
	now := time.Now().UTC()
	for _, a := range []struct {
		code   string
		role   string
		outlet string
		pin    string
	}{
		{"admin", domain.RoleAdmin, "", adminPIN},
		{"sup1", domain.RoleSupervisor, "", adminPIN},
		{"att1", domain.RoleAttendant, "Baraka", staffPIN},
		{"ast1", domain.RoleAssistant, "Baraka", staffPIN},
		{"supply1", domain.RoleSupplier, "", staffPIN},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(a.pin), bcrypt.DefaultCost)
		if err != nil {
			panic(fmt.Sprintf("memory: hash seed pin for %s: %v", a.code, err))
		}
		s.PutAttendant(domain.AttendantAccount{
			Code:      a.code,
			Name:      a.code,
			Outlet:    a.outlet,
			Role:      a.role,
			PINHash:   string(hash),
			Active:    true,
			CreatedAt: now,
		})
	}
	return s
}

// SeedPINs returns the admin and staff PINs NewSeeded will hash.
func SeedPINs() (admin string, staff string) {
	return envOr("SEED_ADMIN_PIN", DefaultAdminPIN), envOr("SEED_ATTENDANT_PIN", DefaultAttendantPIN)
}

// UsesDefaultPINs reports whether NewSeeded would fall back to the demo PINs.
func UsesDefaultPINs() bool {
	return os.Getenv("SEED_ADMIN_PIN") == "" || os.Getenv("SEED_ATTENDANT_PIN") == ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
