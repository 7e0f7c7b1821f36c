package db

import (
	"fmt"
	"io"
	"sort"

	"github.com/thatsimonsguy/incubator-controller/internal/model"
)

func SetSystemModeCLI(dbPath, mode string) error {
	m, err := model.ParseMode(mode)
	if err != nil {
		return err
	}
	dbConn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()
	return UpdateSystemMode(dbConn, m)
}

func SetActuatorStateCLI(dbPath, id, state string) error {
	if !model.IsActuatorID(id) {
		return fmt.Errorf("unknown actuator %q", id)
	}
	st, err := model.ParseState(state)
	if err != nil {
		return err
	}
	dbConn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()
	return UpdateActuatorState(dbConn, model.ActuatorID(id), st)
}

func ShowStateCLI(dbPath string, w io.Writer) error {
	dbConn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	mode, ok, err := GetSystemMode(dbConn)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintf(w, "mode: %s\n", mode)
	} else {
		fmt.Fprintln(w, "mode: (not set)")
	}

	states, err := GetActuatorStates(dbConn)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "%s: %s\n", id, states[model.ActuatorID(id)])
	}
	return nil
}
