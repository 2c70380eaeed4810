package netlist

import (
	"fmt"

	"github.com/edp1096/toy-devsim/internal/consts"
	"github.com/edp1096/toy-devsim/pkg/config"
	"github.com/edp1096/toy-devsim/pkg/util"
)

// optionAlias maps SPICE option names onto database parameters.
var optionAlias = map[string]string{
	"abstol":  config.AbsoluteError,
	"reltol":  config.RelativeError,
	"chgtol":  config.ChargeError,
	"itl1":    config.MaximumIterations,
	"maxiter": config.MaximumIterations,
	"gmin":    config.CircuitGmin,
	"solver":  config.LinearSolver,
	"direct":  config.DirectSolver,
}

// ApplyOptions stores .options values in db and returns the integration
// method named by "method", or Trapezoidal. "temp" is in Celsius; any
// other key must be an alias or a parameter name.
func ApplyOptions(db *config.Database, opts map[string]string) (util.IntegrationMethod, error) {
	method := util.Trapezoidal
	for k, v := range opts {
		switch k {
		case "method":
			m, err := util.ParseIntegrationMethod(v)
			if err != nil {
				return method, fmt.Errorf("%w: %v", ErrValue, err)
			}
			method = m
			continue
		case "temp":
			t, err := ParseValue(v)
			if err != nil {
				return method, err
			}
			if err := db.Set(config.Temperature, t+consts.KELVIN); err != nil {
				return method, err
			}
			continue
		}

		name := k
		if alias, ok := optionAlias[k]; ok {
			name = alias
		}
		// Numbers go in as float64 so SI suffixes work; the database
		// narrows integral values for integer parameters.
		var value any = v
		if f, err := ParseValue(v); err == nil {
			value = f
		}
		if err := db.Set(name, value); err != nil {
			return method, fmt.Errorf("option %s: %w", k, err)
		}
	}
	return method, nil
}
