package cmd

import (
	"context"
	"fmt"

	"github.com/Agent-Zoey/Zoey-sub001/plugins/storage/docstore"
	"github.com/Agent-Zoey/Zoey-sub001/plugins/storage/embedded"
	"github.com/Agent-Zoey/Zoey-sub001/plugins/storage/postgres"
	"github.com/Agent-Zoey/Zoey-sub001/plugins/storage/restfacade"
	"github.com/Agent-Zoey/Zoey-sub001/storage"
)

// buildStore constructs the storage.Store backing this agent, selected by
// cfg.Storage.Backend. embedded is the zero-dependency default so agentcored
// runs out of the box against a local SQLite file.
func buildStore(ctx context.Context, cfg *Config) (storage.Store, error) {
	s := cfg.Storage
	switch s.Backend {
	case "", "embedded":
		path := s.DSN
		if path == "" {
			path = "agentcored.db"
		}
		return embedded.New(ctx, path)
	case "postgres":
		return postgres.New(ctx, s.DSN)
	case "docstore":
		return docstore.New(ctx, docstore.Config{
			MongoURI:       s.DSN,
			Database:       s.Database,
			WeaviateHost:   s.WeaviateHost,
			WeaviateAPIKey: s.APIKey,
		})
	case "restfacade":
		return restfacade.New(s.DSN, s.APIKey), nil
	default:
		return nil, fmt.Errorf("agentcored: unknown storage backend %q", s.Backend)
	}
}
