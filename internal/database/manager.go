package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	dbconfig "lifeline/pkg/database"
	"lifeline/pkg/interfaces"
	"lifeline/pkg/types"
)

// Manager implements the SessionStore interface on SQLite. All writes
// funnel through a single goroutine; reads go straight to the pool.
// Health readings and chat are append-only child tables, so one append
// is one INSERT and concurrent appenders can never lose each other's
// rows.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *zap.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the store, applies pragmas and starts the writer.
func NewManager(config *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplyOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// GetDB exposes the underlying pool for migrations and validation.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				m.logger.Warn("store write failed, retrying in 5 seconds", zap.Error(err))
				time.Sleep(5 * time.Second)
				err = op.operation(m.db) // retry once
				if err != nil {
					m.logger.Error("store write failed after retry", zap.Error(err))
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Info("store write loop shutting down")
			return
		}
	}
}

func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("store is shutting down")
	}
}

// CreateSession persists a new session row.
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO sessions (
				id, ambulance_id, paramedic_id, paramedic_name,
				patient_name, patient_age, patient_gender,
				guardian_nic, guardian_contact,
				mode, status, started_at, ended_at,
				guardian_otp, guardian_verified
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			session.ID,
			session.AmbulanceID,
			session.ParamedicID,
			session.ParamedicName,
			session.PatientName,
			session.PatientAge,
			session.PatientGender,
			session.GuardianNIC,
			session.GuardianContact,
			session.Mode,
			session.Status,
			session.StartedAt,
			session.EndedAt,
			session.GuardianOTP,
			session.GuardianVerified,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// GetSession retrieves a session by ID, without child sequences.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	query := `
		SELECT id, ambulance_id, paramedic_id, paramedic_name,
		       patient_name, patient_age, patient_gender,
		       guardian_nic, guardian_contact,
		       mode, status, started_at, ended_at,
		       guardian_otp, guardian_verified
		FROM sessions
		WHERE id = ?
	`
	return m.scanSession(m.db.QueryRowContext(ctx, query, sessionID))
}

// UpdateSessionStatus persists the status and lifecycle timestamps.
func (m *Manager) UpdateSessionStatus(ctx context.Context, session *types.Session) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			UPDATE sessions
			SET status = ?, started_at = ?, ended_at = ?
			WHERE id = ?
		`
		result, err := db.ExecContext(ctx, query,
			session.Status, session.StartedAt, session.EndedAt, session.ID)
		if err != nil {
			return fmt.Errorf("failed to update session status: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check update result: %w", err)
		}
		if rows == 0 {
			return interfaces.ErrSessionNotFound
		}
		return nil
	})
}

// SetGuardianOTP overwrites the single active verification code.
func (m *Manager) SetGuardianOTP(ctx context.Context, sessionID, otp string) error {
	return m.executeWrite(func(db *sql.DB) error {
		result, err := db.ExecContext(ctx,
			"UPDATE sessions SET guardian_otp = ? WHERE id = ?", otp, sessionID)
		if err != nil {
			return fmt.Errorf("failed to set guardian code: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check update result: %w", err)
		}
		if rows == 0 {
			return interfaces.ErrSessionNotFound
		}
		return nil
	})
}

// MarkGuardianVerified flags the session verified and records patient
// gender when supplied. The active code is deliberately left in place
// so a guardian can re-verify after a reload.
func (m *Manager) MarkGuardianVerified(ctx context.Context, sessionID string, gender *int) error {
	return m.executeWrite(func(db *sql.DB) error {
		var result sql.Result
		var err error
		if gender != nil {
			result, err = db.ExecContext(ctx,
				"UPDATE sessions SET guardian_verified = 1, patient_gender = ? WHERE id = ?",
				*gender, sessionID)
		} else {
			result, err = db.ExecContext(ctx,
				"UPDATE sessions SET guardian_verified = 1 WHERE id = ?", sessionID)
		}
		if err != nil {
			return fmt.Errorf("failed to mark guardian verified: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check update result: %w", err)
		}
		if rows == 0 {
			return interfaces.ErrSessionNotFound
		}
		return nil
	})
}

// AppendHealthPoint appends one immutable reading. Single INSERT: the
// append is atomic with respect to concurrent appenders.
func (m *Manager) AppendHealthPoint(ctx context.Context, point *types.HealthPoint) error {
	return m.executeWrite(func(db *sql.DB) error {
		var prediction, riskTimestamp interface{}
		var score interface{}
		if point.RiskPrediction != nil {
			prediction = point.RiskPrediction.Prediction
			score = point.RiskPrediction.RiskScore
			riskTimestamp = point.RiskPrediction.Timestamp
		}
		query := `
			INSERT INTO health_points (
				id, session_id, timestamp,
				heart_rate, body_temperature, blood_oxygen, note,
				risk_prediction, risk_score, risk_timestamp
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			point.ID,
			point.SessionID,
			point.Timestamp,
			point.HeartRate,
			point.BodyTemperature,
			point.BloodOxygen,
			point.Note,
			prediction,
			score,
			riskTimestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to append health point: %w", err)
		}
		return nil
	})
}

// AppendChatMessage appends one immutable transcript entry.
func (m *Manager) AppendChatMessage(ctx context.Context, message *types.ChatMessage) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO chat_messages (id, session_id, sender, text, timestamp)
			VALUES (?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			message.ID, message.SessionID, message.Sender, message.Text, message.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to append chat message: %w", err)
		}
		return nil
	})
}

// GetHealthHistory returns all readings for a session in append order.
func (m *Manager) GetHealthHistory(ctx context.Context, sessionID string) ([]*types.HealthPoint, error) {
	query := `
		SELECT id, session_id, timestamp,
		       heart_rate, body_temperature, blood_oxygen, note,
		       risk_prediction, risk_score, risk_timestamp
		FROM health_points
		WHERE session_id = ?
		ORDER BY timestamp ASC, rowid ASC
	`
	rows, err := m.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query health history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var points []*types.HealthPoint
	for rows.Next() {
		var point types.HealthPoint
		var note, prediction sql.NullString
		var score sql.NullFloat64
		var riskTimestamp sql.NullTime
		if err := rows.Scan(
			&point.ID, &point.SessionID, &point.Timestamp,
			&point.HeartRate, &point.BodyTemperature, &point.BloodOxygen, &note,
			&prediction, &score, &riskTimestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan health point: %w", err)
		}
		point.Note = note.String
		if prediction.Valid {
			point.RiskPrediction = &types.RiskAssessment{
				Prediction: prediction.String,
				RiskScore:  score.Float64,
				Timestamp:  riskTimestamp.Time,
			}
		}
		points = append(points, &point)
	}

	return points, rows.Err()
}

// GetChatHistory returns the transcript for a session in append order.
func (m *Manager) GetChatHistory(ctx context.Context, sessionID string) ([]*types.ChatMessage, error) {
	query := `
		SELECT id, session_id, sender, text, timestamp
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY timestamp ASC, rowid ASC
	`
	rows, err := m.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.ChatMessage
	for rows.Next() {
		var message types.ChatMessage
		if err := rows.Scan(
			&message.ID, &message.SessionID, &message.Sender, &message.Text, &message.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		messages = append(messages, &message)
	}

	return messages, rows.Err()
}

// ListSessionsByAmbulance returns the ambulance's sessions, newest
// first.
func (m *Manager) ListSessionsByAmbulance(ctx context.Context, ambulanceID string, limit int) ([]*types.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, ambulance_id, paramedic_id, paramedic_name,
		       patient_name, patient_age, patient_gender,
		       guardian_nic, guardian_contact,
		       mode, status, started_at, ended_at,
		       guardian_otp, guardian_verified
		FROM sessions
		WHERE ambulance_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := m.db.QueryContext(ctx, query, ambulanceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.Session
	for rows.Next() {
		session, err := m.scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

// GetActiveSessionByAmbulance returns the newest live session for an
// ambulance.
func (m *Manager) GetActiveSessionByAmbulance(ctx context.Context, ambulanceID string) (*types.Session, error) {
	query := `
		SELECT id, ambulance_id, paramedic_id, paramedic_name,
		       patient_name, patient_age, patient_gender,
		       guardian_nic, guardian_contact,
		       mode, status, started_at, ended_at,
		       guardian_otp, guardian_verified
		FROM sessions
		WHERE ambulance_id = ? AND status IN ('ongoing', 'arriving')
		ORDER BY started_at DESC
		LIMIT 1
	`
	return m.scanSession(m.db.QueryRowContext(ctx, query, ambulanceID))
}

// HealthCheck verifies store connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	return m.db.PingContext(ctx)
}

// Close stops the writer and closes the pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	return m.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (m *Manager) scanSession(row rowScanner) (*types.Session, error) {
	var session types.Session
	var paramedicID, paramedicName, patientName sql.NullString
	var guardianNIC, guardianContact, otp sql.NullString
	var patientAge, patientGender sql.NullInt64
	var startedAt, endedAt sql.NullTime

	err := row.Scan(
		&session.ID,
		&session.AmbulanceID,
		&paramedicID,
		&paramedicName,
		&patientName,
		&patientAge,
		&patientGender,
		&guardianNIC,
		&guardianContact,
		&session.Mode,
		&session.Status,
		&startedAt,
		&endedAt,
		&otp,
		&session.GuardianVerified,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	session.ParamedicID = paramedicID.String
	session.ParamedicName = paramedicName.String
	session.PatientName = patientName.String
	session.GuardianNIC = guardianNIC.String
	session.GuardianContact = guardianContact.String
	session.PatientAge = int(patientAge.Int64)
	if patientGender.Valid {
		gender := int(patientGender.Int64)
		session.PatientGender = &gender
	}
	if startedAt.Valid {
		session.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		session.EndedAt = &endedAt.Time
	}
	if otp.Valid {
		session.GuardianOTP = &otp.String
	}

	return &session, nil
}
