package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS hospital (
		hospital_id TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		address     TEXT NOT NULL DEFAULT '',
		lat         DOUBLE PRECISION,
		lon         DOUBLE PRECISION
	);`,
	`CREATE TABLE IF NOT EXISTS patient (
		patient_id TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		address    TEXT NOT NULL DEFAULT '',
		lat        DOUBLE PRECISION,
		lon        DOUBLE PRECISION
	);`,
	`CREATE TABLE IF NOT EXISTS driver (
		driver_id   TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		hospital_id TEXT NOT NULL REFERENCES hospital (hospital_id)
	);`,
	`CREATE TABLE IF NOT EXISTS medication (
		medication_id            TEXT PRIMARY KEY,
		name                     TEXT NOT NULL,
		max_temp_range_excursion DOUBLE PRECISION NOT NULL,
		max_time_exertion        INTERVAL NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS prescription (
		prescription_id TEXT PRIMARY KEY,
		patient_id      TEXT NOT NULL REFERENCES patient (patient_id),
		medication_id   TEXT NOT NULL REFERENCES medication (medication_id)
	);`,
	`CREATE TABLE IF NOT EXISTS dashboard (
		dashboard_id TEXT PRIMARY KEY,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE TABLE IF NOT EXISTS "Order" (
		order_id        TEXT PRIMARY KEY,
		hospital_id     TEXT NOT NULL REFERENCES hospital (hospital_id),
		patient_id      TEXT NOT NULL REFERENCES patient (patient_id),
		driver_id       TEXT REFERENCES driver (driver_id),
		prescription_id TEXT NOT NULL REFERENCES prescription (prescription_id),
		dashboard_id    TEXT REFERENCES dashboard (dashboard_id),
		status          TEXT NOT NULL DEFAULT 'pending',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE TABLE IF NOT EXISTS estimated_delivery_time (
		id           BIGSERIAL PRIMARY KEY,
		dashboard_id TEXT NOT NULL REFERENCES dashboard (dashboard_id),
		delay_time   INTERVAL NOT NULL,
		recorded_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE TABLE IF NOT EXISTS estimated_stability_time (
		id             BIGSERIAL PRIMARY KEY,
		dashboard_id   TEXT NOT NULL REFERENCES dashboard (dashboard_id),
		stability_time INTERVAL NOT NULL,
		recorded_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_order_driver_status ON "Order" (driver_id, status);`,
	`CREATE INDEX IF NOT EXISTS idx_order_hospital ON "Order" (hospital_id);`,
	`CREATE INDEX IF NOT EXISTS idx_delivery_time_dashboard ON estimated_delivery_time (dashboard_id, recorded_at DESC);`,
}

// Initialize the Postgres database schema.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("init schema: DB is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("init schema: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: exec statement #%d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("init schema: commit tx: %w", err)
	}

	return nil
}

type HospitalSeed struct {
	HospitalID string   `json:"hospital_id"`
	Name       string   `json:"name"`
	Address    string   `json:"address"`
	Lat        *float64 `json:"lat"`
	Lon        *float64 `json:"lon"`
}

type PatientSeed struct {
	PatientID string   `json:"patient_id"`
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
}

type DriverSeed struct {
	DriverID   string `json:"driver_id"`
	Name       string `json:"name"`
	HospitalID string `json:"hospital_id"`
}

type MedicationSeed struct {
	MedicationID          string  `json:"medication_id"`
	Name                  string  `json:"name"`
	MaxTempRangeExcursion float64 `json:"max_temp_range_excursion"`
	MaxTimeExertionMin    int     `json:"max_time_exertion_minutes"`
}

type PrescriptionSeed struct {
	PrescriptionID string `json:"prescription_id"`
	PatientID      string `json:"patient_id"`
	MedicationID   string `json:"medication_id"`
}

type OrderSeed struct {
	OrderID        string `json:"order_id"`
	HospitalID     string `json:"hospital_id"`
	PatientID      string `json:"patient_id"`
	DriverID       string `json:"driver_id"`
	PrescriptionID string `json:"prescription_id"`
	DashboardID    string `json:"dashboard_id"`
	Status         string `json:"status"`
	// DelayMinutes is recorded as the dashboard's latest estimated delivery time.
	DelayMinutes int `json:"delay_minutes"`
}

// Seed is the demo data set loaded by the dbtool.
type Seed struct {
	Hospitals     []HospitalSeed     `json:"hospitals"`
	Patients      []PatientSeed      `json:"patients"`
	Drivers       []DriverSeed       `json:"drivers"`
	Medications   []MedicationSeed   `json:"medications"`
	Prescriptions []PrescriptionSeed `json:"prescriptions"`
	Orders        []OrderSeed        `json:"orders"`
}

// LoadSeed reads and validates a seed file.
func LoadSeed(jsonPath string) (*Seed, error) {
	bytes, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("load seed: read %q: %w", jsonPath, err)
	}

	var seed Seed
	if err := json.Unmarshal(bytes, &seed); err != nil {
		return nil, fmt.Errorf("load seed: parse json: %w", err)
	}

	if err := seed.Validate(); err != nil {
		return nil, fmt.Errorf("load seed: %w", err)
	}

	return &seed, nil
}

// Validate checks ids and references. Coordinates may be absent; present ones must be in range.
func (s *Seed) Validate() error {
	hospitals := map[string]bool{}
	for i, h := range s.Hospitals {
		if strings.TrimSpace(h.HospitalID) == "" {
			return fmt.Errorf("hospital at index %d: empty hospital_id", i+1)
		}
		if err := checkCoords(h.Lat, h.Lon); err != nil {
			return fmt.Errorf("hospital %q: %w", h.HospitalID, err)
		}
		hospitals[h.HospitalID] = true
	}

	patients := map[string]bool{}
	for i, p := range s.Patients {
		if strings.TrimSpace(p.PatientID) == "" {
			return fmt.Errorf("patient at index %d: empty patient_id", i+1)
		}
		if err := checkCoords(p.Lat, p.Lon); err != nil {
			return fmt.Errorf("patient %q: %w", p.PatientID, err)
		}
		patients[p.PatientID] = true
	}

	drivers := map[string]bool{}
	for i, d := range s.Drivers {
		if strings.TrimSpace(d.DriverID) == "" {
			return fmt.Errorf("driver at index %d: empty driver_id", i+1)
		}
		if !hospitals[d.HospitalID] {
			return fmt.Errorf("driver %q: unknown hospital %q", d.DriverID, d.HospitalID)
		}
		drivers[d.DriverID] = true
	}

	medications := map[string]bool{}
	for i, m := range s.Medications {
		if strings.TrimSpace(m.MedicationID) == "" {
			return fmt.Errorf("medication at index %d: empty medication_id", i+1)
		}
		if m.MaxTimeExertionMin < 0 {
			return fmt.Errorf("medication %q: negative max_time_exertion_minutes", m.MedicationID)
		}
		medications[m.MedicationID] = true
	}

	prescriptions := map[string]bool{}
	for i, p := range s.Prescriptions {
		if strings.TrimSpace(p.PrescriptionID) == "" {
			return fmt.Errorf("prescription at index %d: empty prescription_id", i+1)
		}
		if !patients[p.PatientID] || !medications[p.MedicationID] {
			return fmt.Errorf("prescription %q: unknown patient or medication", p.PrescriptionID)
		}
		prescriptions[p.PrescriptionID] = true
	}

	for i, o := range s.Orders {
		if strings.TrimSpace(o.OrderID) == "" {
			return fmt.Errorf("order at index %d: empty order_id", i+1)
		}
		if !hospitals[o.HospitalID] || !patients[o.PatientID] || !prescriptions[o.PrescriptionID] {
			return fmt.Errorf("order %q: unknown hospital, patient or prescription", o.OrderID)
		}
		if o.DriverID != "" && !drivers[o.DriverID] {
			return fmt.Errorf("order %q: unknown driver %q", o.OrderID, o.DriverID)
		}
		if o.DelayMinutes < 0 {
			return fmt.Errorf("order %q: negative delay_minutes", o.OrderID)
		}
	}

	return nil
}

func checkCoords(lat, lon *float64) error {
	if lat == nil || lon == nil {
		return nil
	}
	if math.IsNaN(*lat) || math.IsNaN(*lon) || math.Abs(*lat) > 90 || math.Abs(*lon) > 180 {
		return fmt.Errorf("coordinates out of range (%v, %v)", *lat, *lon)
	}
	return nil
}

// Populate the database from a validated seed. Rows are upserted; orders are
// stamped with the current time so they count as today's work.
func SeedDatabase(ctx context.Context, db *sql.DB, seed *Seed) error {
	if db == nil {
		return errors.New("seed database: DB is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed database: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, h := range seed.Hospitals {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO hospital (hospital_id, name, address, lat, lon)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (hospital_id) DO UPDATE
		SET name = EXCLUDED.name, address = EXCLUDED.address, lat = EXCLUDED.lat, lon = EXCLUDED.lon;
		`, h.HospitalID, h.Name, h.Address, h.Lat, h.Lon)
		if err != nil {
			return fmt.Errorf("seed database: insert hospital %q: %w", h.HospitalID, err)
		}
	}

	for _, p := range seed.Patients {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO patient (patient_id, name, address, lat, lon)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (patient_id) DO UPDATE
		SET name = EXCLUDED.name, address = EXCLUDED.address, lat = EXCLUDED.lat, lon = EXCLUDED.lon;
		`, p.PatientID, p.Name, p.Address, p.Lat, p.Lon)
		if err != nil {
			return fmt.Errorf("seed database: insert patient %q: %w", p.PatientID, err)
		}
	}

	for _, d := range seed.Drivers {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO driver (driver_id, name, hospital_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (driver_id) DO UPDATE
		SET name = EXCLUDED.name, hospital_id = EXCLUDED.hospital_id;
		`, d.DriverID, d.Name, d.HospitalID)
		if err != nil {
			return fmt.Errorf("seed database: insert driver %q: %w", d.DriverID, err)
		}
	}

	for _, m := range seed.Medications {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO medication (medication_id, name, max_temp_range_excursion, max_time_exertion)
		VALUES ($1, $2, $3, make_interval(mins => $4))
		ON CONFLICT (medication_id) DO UPDATE
		SET name = EXCLUDED.name,
			max_temp_range_excursion = EXCLUDED.max_temp_range_excursion,
			max_time_exertion = EXCLUDED.max_time_exertion;
		`, m.MedicationID, m.Name, m.MaxTempRangeExcursion, m.MaxTimeExertionMin)
		if err != nil {
			return fmt.Errorf("seed database: insert medication %q: %w", m.MedicationID, err)
		}
	}

	for _, p := range seed.Prescriptions {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO prescription (prescription_id, patient_id, medication_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (prescription_id) DO UPDATE
		SET patient_id = EXCLUDED.patient_id, medication_id = EXCLUDED.medication_id;
		`, p.PrescriptionID, p.PatientID, p.MedicationID)
		if err != nil {
			return fmt.Errorf("seed database: insert prescription %q: %w", p.PrescriptionID, err)
		}
	}

	for _, o := range seed.Orders {
		if err := seedOrder(ctx, tx, o); err != nil {
			return fmt.Errorf("seed database: order %q: %w", o.OrderID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seed database: commit tx: %w", err)
	}

	return nil
}

func seedOrder(ctx context.Context, tx *sql.Tx, o OrderSeed) error {
	status := o.Status
	if status == "" {
		status = "pending"
	}

	if o.DashboardID != "" {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO dashboard (dashboard_id) VALUES ($1)
		ON CONFLICT (dashboard_id) DO NOTHING;
		`, o.DashboardID); err != nil {
			return fmt.Errorf("insert dashboard: %w", err)
		}
	}

	_, err := tx.ExecContext(ctx, `
	INSERT INTO "Order" (order_id, hospital_id, patient_id, driver_id, prescription_id, dashboard_id, status, created_at)
	VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, NOW())
	ON CONFLICT (order_id) DO UPDATE
	SET hospital_id = EXCLUDED.hospital_id,
		patient_id = EXCLUDED.patient_id,
		driver_id = EXCLUDED.driver_id,
		prescription_id = EXCLUDED.prescription_id,
		dashboard_id = EXCLUDED.dashboard_id,
		status = EXCLUDED.status,
		created_at = EXCLUDED.created_at;
	`, o.OrderID, o.HospitalID, o.PatientID, o.DriverID, o.PrescriptionID, o.DashboardID, status)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	if o.DashboardID != "" && o.DelayMinutes > 0 {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO estimated_delivery_time (dashboard_id, delay_time, recorded_at)
		VALUES ($1, make_interval(mins => $2), NOW());
		`, o.DashboardID, o.DelayMinutes); err != nil {
			return fmt.Errorf("insert estimated delivery time: %w", err)
		}
	}

	return nil
}
