// Package config provides configuration parsing for berth.
//
// Configuration is optional. An existing berth.json is found by
// walking up from the current working directory; without one every
// setting falls back to a default.
//
// # Configuration File Structure
//
//	{
//	  "port": 8000,
//	  "host": "0.0.0.0",
//	  "stateDir": "/home/me/.berth",
//	  "server": {
//	    "command": "python3 -m http.server {{port}} --directory {{dir}} --bind {{host}}"
//	  },
//	  "serve": {
//	    "listing": true,
//	    "tracing": false
//	  },
//	  "logs": {
//	    "retentionDays": 7
//	  }
//	}
//
// The BERTH_STATE_DIR environment variable overrides stateDir.
//
// # Usage
//
//	cfg, err := config.LoadFromWorkingDir()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Registry:", cfg.RegistryDir())
package config
