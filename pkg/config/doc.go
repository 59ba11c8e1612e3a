// Package config loads server settings from defaults, a YAML file, .env
// files, INSTACLEAN_* environment variables and command line flags, in that
// order of increasing precedence.
//
// Typical usage:
//
//	cfg, err := config.Load("", map[string]interface{}{
//		"port":      8080,
//		"log-level": "debug",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
// A starter file can be written with cfg.Save("instaclean.yaml").
package config
