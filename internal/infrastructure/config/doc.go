// Package config loads the fieldmesh configuration.
//
// Values are layered: Default, then the YAML file, then a .env file next to
// the working directory, then FIELDMESH_* variables. Every binary shares the
// one Config type and reads the sections it needs. Validate collects all
// problems into a single error wrapping ErrInvalidConfig.
//
//	cfg, err := config.Load("configs/fieldmesh.yaml")
//	if err != nil {
//	    return err
//	}
//	every := cfg.Controller.PollInterval.Std()
package config
