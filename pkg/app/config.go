package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/autopeer-io/fwagent/pkg/log"
)

const configFlagName = "config"

var cfgFile string

// addConfigFlag 注册 --config 参数, 并让 viper 同时读取配置文件和 <NAME>_ 前缀的环境变量
func addConfigFlag(fs *pflag.FlagSet, name string, watch bool) {
	fs.StringVarP(&cfgFile, configFlagName, "c", cfgFile, "Read configuration from specified `FILE`, support JSON, TOML, YAML, HCL, or Java properties formats.")

	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix(name))
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	cobra.OnInitialize(func() {
		if err := loadConfig(cfgFile, name); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to read configuration file(%s): %v\n", cfgFile, err)
			os.Exit(1)
		}

		if watch && viper.ConfigFileUsed() != "" {
			viper.OnConfigChange(func(e fsnotify.Event) {
				level := viper.GetString("log.level")
				log.Info("Config file changed", "name", e.Name, "op", e.Op.String(), "level", level)
				log.SetLevel(level)
			})
			viper.WatchConfig()
		}
	})
}

// loadConfig reads file, or <name>.yaml from the working directory,
// $HOME/.<name> and /etc/<name>. A missing default file is not an error.
func loadConfig(file string, name string) error {
	if file != "" {
		viper.SetConfigFile(file)
		return viper.ReadInConfig()
	}

	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, "."+name))
	}
	viper.AddConfigPath(filepath.Join("/etc", name))
	viper.SetConfigName(name)
	viper.SetConfigType("yaml")

	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

func envPrefix(name string) string {
	return strings.ReplaceAll(strings.ToUpper(name), "-", "_")
}
