package shutdown

import (
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/incubator-controller/internal/actuator"
	"github.com/thatsimonsguy/incubator-controller/internal/gpio"
	"github.com/thatsimonsguy/incubator-controller/internal/model"
)

// Shutdown drives every actuator off. When the store is missing or a write fails
// the raw pins are driven inactive instead.
func Shutdown(store *actuator.Store, pins map[string]model.GPIOPin) {
	if store != nil {
		err := store.AllOff(time.Now())
		if err == nil {
			log.Info().Msg("All actuators off")
			return
		}
		log.Error().Err(err).Msg("Failed to switch every actuator off, forcing pins")
	}

	names := make([]string, 0, len(pins))
	for name := range pins {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := gpio.Deactivate(pins[name]); err != nil {
			log.Error().Err(err).Str("actuator", name).Msg("Failed to deactivate pin")
		}
	}
	log.Info().Msg("Actuator pins deactivated")
}

func ShutdownWithError(err error, msg string, store *actuator.Store, pins map[string]model.GPIOPin) {
	log.Error().Err(err).Msg(msg)
	Shutdown(store, pins)
	os.Exit(1)
}
