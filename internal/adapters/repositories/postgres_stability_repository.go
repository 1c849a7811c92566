package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"med-delivery-routing/internal/domain"
	"med-delivery-routing/internal/platform/obs"
	"med-delivery-routing/internal/ports"
)

// ErrNoDashboard is returned when an order has no dashboard to record stability on.
var ErrNoDashboard = errors.New("order has no dashboard")

// Postgres-backed medication lookup and stability write-back.
type PostgresStabilityRepository struct{ DB *sql.DB }

var (
	_ ports.MedicationRepository = (*PostgresStabilityRepository)(nil)
	_ ports.StabilitySink        = (*PostgresStabilityRepository)(nil)
)

func NewPostgresStabilityRepository(db *sql.DB) *PostgresStabilityRepository {
	return &PostgresStabilityRepository{DB: db}
}

// GetMedicationLimits returns domain.ErrNotFound when the order or its medication does not exist.
func (r *PostgresStabilityRepository) GetMedicationLimits(ctx context.Context, orderID string) (_ domain.MedicationLimits, err error) {
	defer obs.Time(ctx, "repo.GetMedicationLimits")(&err)

	if r.DB == nil {
		return domain.MedicationLimits{}, errors.New("postgres stability repository: DB is nil")
	}

	query := `
	SELECT
		m.name,
		m.max_temp_range_excursion,
		EXTRACT(EPOCH FROM m.max_time_exertion)::float8
	FROM "Order" o
	JOIN prescription p ON o.prescription_id = p.prescription_id
	JOIN medication m   ON p.medication_id   = m.medication_id
	WHERE o.order_id = $1
	LIMIT 1;
	`
	var (
		limits   = domain.MedicationLimits{OrderID: orderID}
		exertion sql.NullFloat64
	)
	err = r.DB.QueryRowContext(ctx, query, orderID).Scan(&limits.MedicationName, &limits.MaxExcursionTemp, &exertion)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MedicationLimits{}, fmt.Errorf("get medication limits %q: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.MedicationLimits{}, fmt.Errorf("get medication limits %q: scan row: %w", orderID, err)
	}
	limits.MaxTimeExertion = secondsToDuration(exertion)

	return limits, nil
}

// RecordRemainingStability appends a stability reading to the order's dashboard.
func (r *PostgresStabilityRepository) RecordRemainingStability(ctx context.Context, orderID string, remainingSeconds int) (err error) {
	defer obs.Time(ctx, "repo.RecordRemainingStability")(&err)

	if r.DB == nil {
		return errors.New("postgres stability repository: DB is nil")
	}
	if remainingSeconds < 0 {
		remainingSeconds = 0
	}

	var dashboardID sql.NullString
	err = r.DB.QueryRowContext(ctx, `SELECT dashboard_id FROM "Order" WHERE order_id = $1;`, orderID).Scan(&dashboardID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("record stability %q: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("record stability %q: lookup dashboard: %w", orderID, err)
	}
	if !dashboardID.Valid || dashboardID.String == "" {
		return fmt.Errorf("record stability %q: %w", orderID, ErrNoDashboard)
	}

	_, err = r.DB.ExecContext(ctx, `
	INSERT INTO estimated_stability_time (dashboard_id, stability_time, recorded_at)
	VALUES ($1, make_interval(secs => $2), NOW());
	`, dashboardID.String, float64(remainingSeconds))
	if err != nil {
		return fmt.Errorf("record stability %q: insert: %w", orderID, err)
	}

	return nil
}
