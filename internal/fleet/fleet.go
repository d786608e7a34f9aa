// Package fleet derives the vehicle inventory exposed by the API from the
// loaded scenario.
package fleet

import (
	"fmt"

	"github.com/roadsim/odotelem/internal/sim"
)

// Info describes a single simulated vehicle.
type Info struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Plate string `json:"plate,omitempty"`
}

// FromScenario builds the inventory in scenario order. Vehicles without a
// display name get one derived from their id.
func FromScenario(scenario sim.Scenario) []Info {
	infos := make([]Info, 0, len(scenario.Vehicles))
	for _, spec := range scenario.Vehicles {
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("vehicle %s", spec.ID)
		}
		infos = append(infos, Info{
			ID:    spec.ID,
			Name:  name,
			Plate: spec.Plate,
		})
	}
	return infos
}

// Index returns an id lookup map over the inventory.
func Index(infos []Info) map[string]Info {
	index := make(map[string]Info, len(infos))
	for _, info := range infos {
		index[info.ID] = info
	}
	return index
}
