package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"med-delivery-routing/internal/domain"
	"med-delivery-routing/internal/platform/obs"
	"med-delivery-routing/internal/ports"
	"time"
)

// activeStatuses are the order states a driver is still working on.
const activeStatuses = `('on_delivery', 'accepted', 'assigned', 'in_progress', 'on_route')`

// Postgres-backed implementation of the StopRepository port.
type PostgresStopRepository struct{ DB *sql.DB }

var _ ports.StopRepository = (*PostgresStopRepository)(nil)

func NewPostgresStopRepository(db *sql.DB) *PostgresStopRepository {
	return &PostgresStopRepository{DB: db}
}

func (r *PostgresStopRepository) GetHospital(ctx context.Context, hospitalID string) (_ domain.Depot, err error) {
	defer obs.Time(ctx, "repo.GetHospital")(&err)

	if r.DB == nil {
		return domain.Depot{}, errors.New("postgres stop repository: DB is nil")
	}

	query := `
	SELECT hospital_id, name, address, lat, lon
	FROM hospital
	WHERE hospital_id = $1;
	`
	depot, err := scanDepot(r.DB.QueryRowContext(ctx, query, hospitalID))
	if err != nil {
		return domain.Depot{}, fmt.Errorf("get hospital %q: %w", hospitalID, err)
	}
	return depot, nil
}

func (r *PostgresStopRepository) GetDriverHospital(ctx context.Context, driverID string) (_ domain.Depot, err error) {
	defer obs.Time(ctx, "repo.GetDriverHospital")(&err)

	if r.DB == nil {
		return domain.Depot{}, errors.New("postgres stop repository: DB is nil")
	}

	query := `
	SELECT h.hospital_id, h.name, h.address, h.lat, h.lon
	FROM driver d
	JOIN hospital h ON d.hospital_id = h.hospital_id
	WHERE d.driver_id = $1;
	`
	depot, err := scanDepot(r.DB.QueryRowContext(ctx, query, driverID))
	if err != nil {
		return domain.Depot{}, fmt.Errorf("get driver %q hospital: %w", driverID, err)
	}
	return depot, nil
}

func scanDepot(row *sql.Row) (domain.Depot, error) {
	var (
		d        domain.Depot
		lat, lon sql.NullFloat64
	)
	if err := row.Scan(&d.ID, &d.Name, &d.Address, &lat, &lon); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Depot{}, domain.ErrNotFound
		}
		return domain.Depot{}, fmt.Errorf("scan row: %w", err)
	}
	d.Lat = nullable(lat)
	d.Lon = nullable(lon)
	return d, nil
}

// ListPendingStops returns one stop per patient with orders at the hospital.
// Demand is the patient's order count; the due time is the latest estimated
// delivery delay recorded on any of the patient's dashboards.
func (r *PostgresStopRepository) ListPendingStops(ctx context.Context, hospitalID string) (_ []domain.Stop, err error) {
	defer obs.Time(ctx, "repo.ListPendingStops")(&err)

	if r.DB == nil {
		return nil, errors.New("postgres stop repository: DB is nil")
	}

	query := `
	SELECT
		p.patient_id,
		p.name,
		p.lat,
		p.lon,
		(SELECT COUNT(*) FROM "Order" o WHERE o.patient_id = p.patient_id AND o.hospital_id = $1) AS demand,
		(
			SELECT EXTRACT(EPOCH FROM ed.delay_time)::float8
			FROM estimated_delivery_time ed
			JOIN "Order" o2 ON ed.dashboard_id = o2.dashboard_id
			WHERE o2.patient_id = p.patient_id
			ORDER BY ed.recorded_at DESC
			LIMIT 1
		) AS due_seconds
	FROM patient p
	WHERE EXISTS (SELECT 1 FROM "Order" o WHERE o.patient_id = p.patient_id AND o.hospital_id = $1)
	ORDER BY p.patient_id;
	`
	rows, err := r.DB.QueryContext(ctx, query, hospitalID)
	if err != nil {
		return nil, fmt.Errorf("list pending stops: query patients: %w", err)
	}
	defer rows.Close()

	stops := make([]domain.Stop, 0, 64)
	for rows.Next() {
		var (
			s        domain.Stop
			lat, lon sql.NullFloat64
			due      sql.NullFloat64
		)
		if err := rows.Scan(&s.Ref, &s.Name, &lat, &lon, &s.Demand, &due); err != nil {
			return nil, fmt.Errorf("list pending stops: scan row: %w", err)
		}
		s.Lat = nullable(lat)
		s.Lon = nullable(lon)
		s.DueMinutes = dueMinutes(due)
		stops = append(stops, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending stops: row iteration: %w", err)
	}

	return stops, nil
}

// ListDriverDeliveries returns one stop per active order of the driver, in
// creation order. The due time is the medication's stability budget.
func (r *PostgresStopRepository) ListDriverDeliveries(ctx context.Context, driverID string) (_ []domain.Stop, err error) {
	defer obs.Time(ctx, "repo.ListDriverDeliveries")(&err)

	if r.DB == nil {
		return nil, errors.New("postgres stop repository: DB is nil")
	}

	query := `
	SELECT
		o.order_id,
		p.name,
		p.lat,
		p.lon,
		EXTRACT(EPOCH FROM m.max_time_exertion)::float8
	FROM "Order" o
	JOIN patient p       ON o.patient_id      = p.patient_id
	JOIN prescription pr ON o.prescription_id = pr.prescription_id
	JOIN medication m    ON pr.medication_id  = m.medication_id
	WHERE o.driver_id = $1
	  AND o.status IN ` + activeStatuses + `
	ORDER BY o.created_at ASC, o.order_id;
	`
	rows, err := r.DB.QueryContext(ctx, query, driverID)
	if err != nil {
		return nil, fmt.Errorf("list driver deliveries: query orders: %w", err)
	}
	defer rows.Close()

	stops := make([]domain.Stop, 0, 16)
	for rows.Next() {
		var (
			s        domain.Stop
			lat, lon sql.NullFloat64
			due      sql.NullFloat64
		)
		if err := rows.Scan(&s.OrderID, &s.Name, &lat, &lon, &due); err != nil {
			return nil, fmt.Errorf("list driver deliveries: scan row: %w", err)
		}
		s.Ref = s.OrderID
		s.Lat = nullable(lat)
		s.Lon = nullable(lon)
		s.Demand = 1
		s.DueMinutes = dueMinutes(due)
		stops = append(stops, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list driver deliveries: row iteration: %w", err)
	}

	return stops, nil
}

// ListDriverOrdersToday returns the driver's active orders created today.
// Orders whose hospital or patient lacks coordinates are skipped.
func (r *PostgresStopRepository) ListDriverOrdersToday(ctx context.Context, driverID string) (_ []ports.DriverOrder, err error) {
	defer obs.Time(ctx, "repo.ListDriverOrdersToday")(&err)

	if r.DB == nil {
		return nil, errors.New("postgres stop repository: DB is nil")
	}

	query := `
	SELECT
		o.order_id,
		o.status,
		o.created_at,
		h.name,
		h.lat,
		h.lon,
		p.address,
		p.lat,
		p.lon,
		EXTRACT(EPOCH FROM m.max_time_exertion)::float8
	FROM "Order" o
	JOIN hospital h      ON o.hospital_id     = h.hospital_id
	JOIN patient p       ON o.patient_id      = p.patient_id
	JOIN prescription pr ON o.prescription_id = pr.prescription_id
	JOIN medication m    ON pr.medication_id  = m.medication_id
	WHERE o.driver_id = $1
	  AND DATE(o.created_at) = CURRENT_DATE
	  AND o.status IN ` + activeStatuses + `
	ORDER BY o.created_at ASC, o.order_id;
	`
	rows, err := r.DB.QueryContext(ctx, query, driverID)
	if err != nil {
		return nil, fmt.Errorf("list driver orders today: query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]ports.DriverOrder, 0, 16)
	for rows.Next() {
		var (
			o          ports.DriverOrder
			hlat, hlon sql.NullFloat64
			plat, plon sql.NullFloat64
			exertion   sql.NullFloat64
		)
		if err := rows.Scan(&o.OrderID, &o.Status, &o.CreatedAt, &o.HospitalName, &hlat, &hlon,
			&o.PatientAddress, &plat, &plon, &exertion); err != nil {
			return nil, fmt.Errorf("list driver orders today: scan row: %w", err)
		}
		if !hlat.Valid || !hlon.Valid || !plat.Valid || !plon.Valid {
			continue
		}
		o.Hospital = domain.Coordinates{Lat: hlat.Float64, Lon: hlon.Float64}
		o.Patient = domain.Coordinates{Lat: plat.Float64, Lon: plon.Float64}
		o.MaxTimeExertion = secondsToDuration(exertion)
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list driver orders today: row iteration: %w", err)
	}

	return orders, nil
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// dueMinutes converts an interval in seconds to whole minutes; absent or
// non-positive intervals mean no deadline.
func dueMinutes(secs sql.NullFloat64) int {
	if !secs.Valid || secs.Float64 <= 0 || math.IsNaN(secs.Float64) {
		return domain.NoDeadline
	}
	return int(secs.Float64 / 60)
}

func secondsToDuration(secs sql.NullFloat64) time.Duration {
	if !secs.Valid || secs.Float64 <= 0 {
		return 0
	}
	return time.Duration(secs.Float64 * float64(time.Second))
}
