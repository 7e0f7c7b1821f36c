package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/thatsimonsguy/incubator-controller/internal/model"
)

// GetSystemMode retrieves the persisted mode. ok is false when none has been saved.
func GetSystemMode(db *sql.DB) (mode model.Mode, ok bool, err error) {
	var raw string
	err = db.QueryRow(`SELECT system_mode FROM system WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ModeManual, false, nil
	}
	if err != nil {
		return model.ModeManual, false, fmt.Errorf("failed to get system mode: %w", err)
	}
	mode, err = model.ParseMode(raw)
	if err != nil {
		return model.ModeManual, false, fmt.Errorf("stored system mode: %w", err)
	}
	return mode, true, nil
}

// GetActuatorStates returns the last manually applied state of each actuator.
func GetActuatorStates(db *sql.DB) (map[model.ActuatorID]model.State, error) {
	rows, err := db.Query(`SELECT id, state FROM actuator_states`)
	if err != nil {
		return nil, fmt.Errorf("failed to query actuator states: %w", err)
	}
	defer rows.Close()

	states := make(map[model.ActuatorID]model.State)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan actuator state: %w", err)
		}
		if !model.IsActuatorID(id) {
			continue
		}
		st, err := model.ParseState(raw)
		if err != nil {
			return nil, fmt.Errorf("actuator %s: %w", id, err)
		}
		states[model.ActuatorID(id)] = st
	}
	return states, rows.Err()
}
