package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/incubator-controller/internal/model"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

func SetSystemModeWithTx(tx *sql.Tx, mode model.Mode) error {
	_, err := tx.Exec(`INSERT INTO system (id, system_mode, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET system_mode = excluded.system_mode, updated_at = excluded.updated_at`,
		string(mode), time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("update system mode: %w", err)
	}
	return nil
}

func SetActuatorStateWithTx(tx *sql.Tx, id model.ActuatorID, st model.State) error {
	_, err := tx.Exec(`INSERT INTO actuator_states (id, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		string(id), st.String(), time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("update actuator state %s: %w", id, err)
	}
	return nil
}

func UpdateSystemMode(db *sql.DB, mode model.Mode) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	if err := SetSystemModeWithTx(tx, mode); err != nil {
		RollbackTransaction(tx)
		return err
	}
	return CommitTransaction(tx)
}

func UpdateActuatorState(db *sql.DB, id model.ActuatorID, st model.State) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	if err := SetActuatorStateWithTx(tx, id, st); err != nil {
		RollbackTransaction(tx)
		return err
	}
	return CommitTransaction(tx)
}

// ClearActuatorStates forgets every stored manual state.
func ClearActuatorStates(db *sql.DB) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM actuator_states`); err != nil {
		RollbackTransaction(tx)
		return fmt.Errorf("clear actuator states: %w", err)
	}
	return CommitTransaction(tx)
}

// Persister saves operator choices from the control loop.
type Persister struct {
	DB *sql.DB
}

func (p Persister) SaveMode(m model.Mode) error {
	return UpdateSystemMode(p.DB, m)
}

func (p Persister) SaveActuatorState(id model.ActuatorID, st model.State) error {
	return UpdateActuatorState(p.DB, id, st)
}
