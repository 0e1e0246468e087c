package main

import (
	"strings"
	"time"

	"github.com/One-com/gone/hugorm"
	flag "github.com/spf13/pflag"
)

// Config is the poolproxy configuration, assembled from defaults, an
// optional YAML file, POOLPROXY_* environment variables and command line
// flags - in increasing order of precedence.
type Config struct {
	Listen      string        `mapstructure:"listen"`
	IdleTimeout time.Duration `mapstructure:"idle-timeout"`

	Backend struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"backend"`

	Statsd struct {
		Addr   string `mapstructure:"addr"`
		Prefix string `mapstructure:"prefix"`
	} `mapstructure:"statsd"`
}

func loadConfig(fs *flag.FlagSet, configFile string) (cfg Config, err error) {
	hugorm.Reset(hugorm.EnvPrefix("POOLPROXY"))

	replacer := strings.NewReplacer(".", "_", "-", "_")
	for _, key := range []string{
		"proxy.listen",
		"proxy.idle-timeout",
		"proxy.backend.host",
		"proxy.backend.port",
		"proxy.statsd.addr",
		"proxy.statsd.prefix",
	} {
		envName := "POOLPROXY_" + strings.ToUpper(replacer.Replace(key))
		if err = hugorm.BindEnv(key, envName); err != nil {
			return
		}
	}

	hugorm.SetDefault("proxy.listen", "127.0.0.1:7070")
	hugorm.SetDefault("proxy.idle-timeout", "60s")
	hugorm.SetDefault("proxy.backend.host", "127.0.0.1")
	hugorm.SetDefault("proxy.backend.port", 8080)
	hugorm.SetDefault("proxy.statsd.prefix", "poolproxy")

	if configFile != "" {
		hugorm.AddConfigFile("yaml", configFile)
	}
	if err = hugorm.LoadConfig(); err != nil {
		return
	}

	// Flags given on the command line override everything else.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			hugorm.Set("proxy.listen", f.Value.String())
		case "backend-host":
			hugorm.Set("proxy.backend.host", f.Value.String())
		case "backend-port":
			hugorm.Set("proxy.backend.port", f.Value.String())
		case "idle-timeout":
			hugorm.Set("proxy.idle-timeout", f.Value.String())
		case "statsd":
			hugorm.Set("proxy.statsd.addr", f.Value.String())
		}
	})

	var wrapper struct {
		Proxy Config `mapstructure:"proxy"`
	}
	if err = hugorm.Unmarshal(&wrapper); err != nil {
		return
	}
	cfg = wrapper.Proxy
	return
}
