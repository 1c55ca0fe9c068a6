package db

import (
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"gopkg.in/yaml.v3"

	"hirenest-chat/internal/models"
)

type profileRow struct {
	ID        string  `db:"id"`
	FullName  string  `db:"full_name"`
	AvatarURL *string `db:"avatar_url"`
	Role      string  `db:"role"`
}

// UpsertProfile creates or replaces a profile
func (d *DB) UpsertProfile(p models.Profile) error {
	if p.ID == "" {
		return fmt.Errorf("profile id is required")
	}
	role := p.Role
	if role == "" {
		role = models.RoleCustomer
	}

	var avatar *string
	if p.AvatarURL != "" {
		avatar = &p.AvatarURL
	}

	return d.WithLock(func(conn *sqlx.DB) error {
		_, err := conn.Exec(`
			INSERT INTO profiles (id, full_name, avatar_url, role) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				full_name = excluded.full_name,
				avatar_url = excluded.avatar_url,
				role = excluded.role
		`, p.ID, p.FullName, avatar, string(role))
		return err
	})
}

// GetProfile retrieves a profile by ID. It returns sql.ErrNoRows when missing.
func (d *DB) GetProfile(id string) (*models.Profile, error) {
	return WithLockResult(d, func(conn *sqlx.DB) (*models.Profile, error) {
		var row profileRow
		if err := conn.Get(&row, `SELECT id, full_name, avatar_url, role FROM profiles WHERE id = ?`, id); err != nil {
			return nil, err
		}
		p := &models.Profile{ID: row.ID, FullName: row.FullName, Role: models.Role(row.Role)}
		if row.AvatarURL != nil {
			p.AvatarURL = *row.AvatarURL
		}
		return p, nil
	})
}

// seedFile is the YAML layout of a profile seed file
type seedFile struct {
	Profiles []models.Profile `yaml:"profiles"`
}

// SeedProfiles upserts every profile listed in a YAML seed file and returns how many were written
func (d *DB) SeedProfiles(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	for i, p := range seed.Profiles {
		if role, ok := models.ParseRole(string(p.Role)); ok {
			p.Role = role
		} else if p.Role != "" {
			return i, fmt.Errorf("profile %s: unknown role %q", p.ID, p.Role)
		}
		if err := d.UpsertProfile(p); err != nil {
			return i, fmt.Errorf("profile %s: %w", p.ID, err)
		}
	}
	return len(seed.Profiles), nil
}
