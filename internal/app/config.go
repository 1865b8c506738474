package app

import (
	"github.com/yungbote/scholargraph-backend/internal/platform/envutil"
)

type Config struct {
	Port               string
	Mode               string
	GraphBackend       string
	CanonicalRulesPath string
}

func LoadConfig() Config {
	return Config{
		Port:               envutil.String("PORT", "8080"),
		Mode:               envutil.String("LOG_MODE", "development"),
		GraphBackend:       envutil.String("GRAPH_BACKEND", "neo4j"),
		CanonicalRulesPath: envutil.String("CANONICAL_RULES_PATH", ""),
	}
}
