package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/safar/storefront/internal/models"
)

const siteInfoColumns = `name, description, contact_email, phone, address, logo_url, updated_at`

func scanSiteInfo(row rowScanner, info *models.SiteInfo) error {
	return row.Scan(
		&info.Name,
		&info.Description,
		&info.ContactEmail,
		&info.Phone,
		&info.Address,
		&info.LogoURL,
		&info.UpdatedAt,
	)
}

// GetSiteInfo reads the single site_info row seeded by the initial migration.
func GetSiteInfo(ctx context.Context, db *sql.DB) (*models.SiteInfo, error) {
	info := &models.SiteInfo{}

	row := db.QueryRowContext(ctx, `SELECT `+siteInfoColumns+` FROM site_info WHERE id = 1`)
	if err := scanSiteInfo(row, info); err != nil {
		return nil, fmt.Errorf("get site info: %w", err)
	}

	return info, nil
}

type SiteInfoPatch struct {
	Name         *string `json:"name"`
	Description  *string `json:"description"`
	ContactEmail *string `json:"contact_email"`
	Phone        *string `json:"phone"`
	Address      *string `json:"address"`
	LogoURL      *string `json:"logo_url"`
}

func (p SiteInfoPatch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("name must not be empty")
	}
	if p.ContactEmail != nil && *p.ContactEmail != "" && !strings.Contains(*p.ContactEmail, "@") {
		return fmt.Errorf("contact_email is not an email address")
	}
	return nil
}

func (p SiteInfoPatch) assignments() ([]string, []any) {
	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if p.Name != nil {
		add("name", *p.Name)
	}
	if p.Description != nil {
		add("description", *p.Description)
	}
	if p.ContactEmail != nil {
		add("contact_email", *p.ContactEmail)
	}
	if p.Phone != nil {
		add("phone", *p.Phone)
	}
	if p.Address != nil {
		add("address", *p.Address)
	}
	if p.LogoURL != nil {
		add("logo_url", *p.LogoURL)
	}
	return sets, args
}

func UpdateSiteInfo(ctx context.Context, db *sql.DB, patch SiteInfoPatch) (*models.SiteInfo, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	sets, args := patch.assignments()
	if len(sets) == 0 {
		return GetSiteInfo(ctx, db)
	}

	query := fmt.Sprintf(
		`UPDATE site_info SET %s, updated_at = NOW() WHERE id = 1 RETURNING `+siteInfoColumns,
		strings.Join(sets, ", "))

	info := &models.SiteInfo{}
	if err := scanSiteInfo(db.QueryRowContext(ctx, query, args...), info); err != nil {
		return nil, fmt.Errorf("update site info: %w", err)
	}

	return info, nil
}
