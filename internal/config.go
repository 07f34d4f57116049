package internal

import (
	"time"
)

type Config struct {
	LocalUserID     string        `env:"LOCAL_USER_ID,required=true"`
	LogLevel        string        `env:"LOG_LEVEL,required=true"`
	BadgerFilepath  string        `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath   string        `env:"BLUGE_FILEPATH,required=true"`
	Host            string        `env:"HOST,required=true"`
	OpsPort         int           `env:"OPS_PORT,required=true"`
	RestartInterval time.Duration `env:"RESTART_INTERVAL,required=true"`
}
