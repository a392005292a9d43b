package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// registryDB defines the database surface needed by PostgresRegistry.
type registryDB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRegistry loads clinic profiles from the relational store.
type PostgresRegistry struct {
	db registryDB
}

// NewPostgresRegistry initializes a registry backed by pgxpool.
func NewPostgresRegistry(pool *pgxpool.Pool) *PostgresRegistry {
	if pool == nil {
		panic("clinic: pgx pool required")
	}
	return &PostgresRegistry{db: pool}
}

// NewPostgresRegistryWithDB allows injecting a mock database for testing.
func NewPostgresRegistryWithDB(db registryDB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

// ProfileByID implements Registry. The profile is assembled from the clinic
// row plus its services, doctors, and FAQs.
func (r *PostgresRegistry) ProfileByID(ctx context.Context, clinicID string) (*Profile, error) {
	profile, err := r.clinicRow(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	if profile.Services, err = r.services(ctx, clinicID); err != nil {
		return nil, err
	}
	if profile.Doctors, err = r.doctors(ctx, clinicID); err != nil {
		return nil, err
	}
	if profile.FAQs, err = r.faqs(ctx, clinicID); err != nil {
		return nil, err
	}
	return profile, nil
}

// ClinicIDForOrg implements Registry.
func (r *PostgresRegistry) ClinicIDForOrg(ctx context.Context, orgID string) (string, error) {
	var clinicID string
	err := r.db.QueryRow(ctx, `SELECT id::text FROM clinics WHERE org_id = $1`, orgID).Scan(&clinicID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrOrgNotMapped
	}
	if err != nil {
		return "", fmt.Errorf("clinic: resolve org: %w", err)
	}
	return clinicID, nil
}

// ClinicIDForInstance implements Registry.
func (r *PostgresRegistry) ClinicIDForInstance(ctx context.Context, instance string) (string, error) {
	var clinicID string
	err := r.db.QueryRow(ctx, `SELECT id::text FROM clinics WHERE lower(instance_name) = lower($1)`, instance).Scan(&clinicID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrInstanceNotMapped
	}
	if err != nil {
		return "", fmt.Errorf("clinic: resolve instance: %w", err)
	}
	return clinicID, nil
}

// ActiveInstances lists every clinic's instance binding so the egress
// worker can start consumers before the first discovery event arrives.
func (r *PostgresRegistry) ActiveInstances(ctx context.Context) ([]InstanceBinding, error) {
	rows, err := r.db.Query(ctx, `
		SELECT instance_name, org_id
		FROM clinics
		WHERE instance_name IS NOT NULL AND instance_name <> ''
		ORDER BY instance_name
	`)
	if err != nil {
		return nil, fmt.Errorf("clinic: select instances: %w", err)
	}
	defer rows.Close()

	var out []InstanceBinding
	for rows.Next() {
		var b InstanceBinding
		if err := rows.Scan(&b.Instance, &b.OrgID); err != nil {
			return nil, fmt.Errorf("clinic: scan instance: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *PostgresRegistry) clinicRow(ctx context.Context, clinicID string) (*Profile, error) {
	query := `
		SELECT id::text, org_id, name, timezone, instance_name, default_language,
		       narrowing_strategy, COALESCE(booking_policy, ''),
		       COALESCE(operator_phones, '{}'), COALESCE(escalation_emails, '{}'),
		       email_alerts_enabled, COALESCE(prompt_overrides, '{}'::jsonb),
		       langgraph_enabled, COALESCE(langgraph_lanes, '{}')
		FROM clinics
		WHERE id = $1
	`
	var (
		p         Profile
		overrides []byte
	)
	if err := r.db.QueryRow(ctx, query, clinicID).Scan(
		&p.ClinicID,
		&p.OrgID,
		&p.Name,
		&p.Timezone,
		&p.InstanceName,
		&p.DefaultLanguage,
		&p.NarrowingStrategy,
		&p.BookingPolicy,
		&p.Notifications.OperatorPhones,
		&p.Notifications.EscalationEmails,
		&p.Notifications.EmailAlerts,
		&overrides,
		&p.Features.LangGraphEnabled,
		&p.Features.LangGraphLanes,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicNotFound
		}
		return nil, fmt.Errorf("clinic: select clinic: %w", err)
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &p.PromptOverrides); err != nil {
			return nil, fmt.Errorf("clinic: decode prompt overrides: %w", err)
		}
	}
	return &p, nil
}

func (r *PostgresRegistry) services(ctx context.Context, clinicID string) ([]Service, error) {
	query := `
		SELECT id::text, name, COALESCE(aliases, '{}'), COALESCE(price_text, ''), COALESCE(duration_min, 0)
		FROM services
		WHERE clinic_id = $1 AND active
		ORDER BY name
	`
	rows, err := r.db.Query(ctx, query, clinicID)
	if err != nil {
		return nil, fmt.Errorf("clinic: select services: %w", err)
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		var s Service
		if err := rows.Scan(&s.ID, &s.Name, &s.Aliases, &s.PriceText, &s.DurationMin); err != nil {
			return nil, fmt.Errorf("clinic: scan service: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRegistry) doctors(ctx context.Context, clinicID string) ([]Doctor, error) {
	query := `
		SELECT d.id::text, d.name,
		       COALESCE(array_agg(ds.service_id::text) FILTER (WHERE ds.service_id IS NOT NULL), '{}')
		FROM doctors d
		LEFT JOIN doctor_services ds ON ds.doctor_id = d.id
		WHERE d.clinic_id = $1 AND d.active
		GROUP BY d.id, d.name
		ORDER BY d.name
	`
	rows, err := r.db.Query(ctx, query, clinicID)
	if err != nil {
		return nil, fmt.Errorf("clinic: select doctors: %w", err)
	}
	defer rows.Close()

	var out []Doctor
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.ID, &d.Name, &d.ServiceIDs); err != nil {
			return nil, fmt.Errorf("clinic: scan doctor: %w", err)
		}
		if len(d.ServiceIDs) == 0 {
			d.ServiceIDs = nil
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *PostgresRegistry) faqs(ctx context.Context, clinicID string) ([]FAQ, error) {
	query := `
		SELECT question, answer
		FROM clinic_faqs
		WHERE clinic_id = $1
		ORDER BY position, question
	`
	rows, err := r.db.Query(ctx, query, clinicID)
	if err != nil {
		return nil, fmt.Errorf("clinic: select faqs: %w", err)
	}
	defer rows.Close()

	var out []FAQ
	for rows.Next() {
		var f FAQ
		if err := rows.Scan(&f.Question, &f.Answer); err != nil {
			return nil, fmt.Errorf("clinic: scan faq: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
