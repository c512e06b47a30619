package storage

import "fmt"

// Backend names accepted by Open.
const (
	BackendSQLite   = "sqlite"
	BackendYAML     = "yaml"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Options carries the connection settings for every backend; Open reads
// only the ones relevant to the chosen backend.
type Options struct {
	Backend     string
	DBPath      string
	DataDir     string
	RedisURL    string
	PostgresDSN string
}

// Open constructs the Store selected by opts.Backend.
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case BackendSQLite, "":
		return NewSQLite(opts.DBPath)
	case BackendYAML:
		return NewYAMLStore(opts.DataDir)
	case BackendRedis:
		return NewRedisStore(opts.RedisURL)
	case BackendPostgres:
		return NewPostgres(opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
