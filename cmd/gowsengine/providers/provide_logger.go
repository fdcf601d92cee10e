package providers

import (
	"github.com/gbdevw/gowsengine/internal/config"
	"go.uber.org/zap"
)

func ProvideLogger(cfg *config.Configuration) (*zap.Logger, error) {
	if cfg.Logging.Development {
		return zap.NewDevelopment()
	}
	level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = level
	return zcfg.Build()
}
