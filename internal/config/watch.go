package config

import (
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// WatchLimits re-reads the config file on every change and passes the new
// usage ceilings to onChange. Invalid edits are logged and ignored.
func WatchLimits(v *viper.Viper, onChange func(LimitsConfig)) {
	if v == nil {
		v = viper.GetViper()
	}
	logger := log.Default().WithPrefix("config")

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := LoadFromViper(v)
		if err != nil {
			logger.Warn("Ignoring invalid configuration change", "path", e.Name, "error", err)
			return
		}
		logger.Info("Reloaded usage limits", "path", e.Name)
		onChange(cfg.Limits)
	})
	v.WatchConfig()
}
