package logger

import (
	"time"

	"go.uber.org/zap"
)

// Standard fields used across the module so log keys stay consistent.

func Tenant(id string) zap.Field {
	return zap.String("tenant", id)
}

func Dialect(name string) zap.Field {
	return zap.String("dialect", name)
}

func Database(name string) zap.Field {
	return zap.String("database", name)
}

func Table(name string) zap.Field {
	return zap.String("table", name)
}

func Duration(d time.Duration) zap.Field {
	return zap.Duration("duration", d)
}

func Count(n int) zap.Field {
	return zap.Int("count", n)
}

func Err(err error) zap.Field {
	return zap.Error(err)
}
