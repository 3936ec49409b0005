// pkg/infra/store/config.go
package store

// Config selects the database backing trades and the wallet.
type Config struct {
	Driver string `envconfig:"DB_DRIVER" default:"sqlite"`
	DSN    string `envconfig:"DB_DSN" default:"data/crossbot.db"`
}
