// Package boxprops reads the box_props.json file written by the pairing
// flow. It supplies the bearer secret and owner identity when they are not
// given on the command line.
package boxprops

import (
	"encoding/json"
	"fmt"
	"os"
)

// Props is the subset of box_props.json the gateway cares about.
type Props struct {
	// AutoPinPairingSecret is the bearer secret issued at pairing time.
	AutoPinPairingSecret string `json:"auto_pin_pairing_secret"`
	// AutoPinToken is a JWT whose sub claim identifies the box owner. It
	// doubles as the bearer secret when no pairing secret is present.
	AutoPinToken string `json:"auto_pin_token"`
}

// Load reads and parses the box props file. Errors here are advisory: the
// caller logs them and falls back to unpaired mode, never refusing to start.
func Load(path string) (Props, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Props{}, fmt.Errorf("reading box props: %w", err)
	}
	var p Props
	if err := json.Unmarshal(data, &p); err != nil {
		return Props{}, fmt.Errorf("parsing box props: %w", err)
	}
	return p, nil
}
