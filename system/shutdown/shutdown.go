package shutdown

import (
	"os"

	"github.com/rs/zerolog/log"
)

// Hardware is the controller link that must be left safe on exit.
type Hardware interface {
	IsConnected() bool
	ControlPump(on bool) error
	Disconnect()
}

type Stopper interface {
	Stop()
}

// Shutdown cancels pending irrigation, switches the pump off when a controller
// is attached and closes the serial link.
func Shutdown(hw Hardware, timers Stopper) {
	if timers != nil {
		timers.Stop()
	}
	if hw == nil {
		return
	}
	if hw.IsConnected() {
		if err := hw.ControlPump(false); err != nil {
			log.Error().Err(err).Msg("Failed to switch pump off during shutdown")
		} else {
			log.Info().Msg("Pump switched off")
		}
	}
	hw.Disconnect()
	log.Info().Msg("Controller link closed")
}

func ShutdownWithError(hw Hardware, timers Stopper, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	Shutdown(hw, timers)
	os.Exit(1)
}
