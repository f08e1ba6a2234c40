package config

const (
	envPrefix = "CM_"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	ArchiveBackendLocal = "local"
	ArchiveBackendS3    = "s3"

	defaultDataDir             = "~/.local/share/cm"
	defaultWorkDir             = "~/.local/share/cm/work"
	defaultLogDir              = "~/.local/share/cm/logs"
	defaultArchiveDir          = "~/.local/share/cm/archive"
	defaultDatabaseFile        = "cm.db"
	defaultPingTimeoutSeconds  = 5
	defaultMaxOpenConns        = 4
	defaultPollConcurrency     = 8
	defaultSimulateStatus      = "completed"
	defaultScriptTimeout       = 600
	defaultPollIntervalSeconds = 30
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultServiceName         = "cm"
	defaultArchivePrefix       = "submissions"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
		},
		Database: Database{
			Driver:             DriverSQLite,
			PingTimeoutSeconds: defaultPingTimeoutSeconds,
			MaxOpenConns:       defaultMaxOpenConns,
		},
		Engine: Engine{
			PollConcurrency: defaultPollConcurrency,
			SimulateStatus:  defaultSimulateStatus,
			ScriptTimeout:   defaultScriptTimeout,
		},
		Daemon: Daemon{
			PollIntervalSeconds: defaultPollIntervalSeconds,
			AutoAccept:          true,
		},
		Archive: Archive{
			Backend: ArchiveBackendLocal,
			Dir:     defaultArchiveDir,
			Prefix:  defaultArchivePrefix,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Tracing: Tracing{
			ServiceName: defaultServiceName,
		},
	}
}
