package cli

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	sqladapter "github.com/preslavrachev/apistore/adapters/sql"
	"github.com/preslavrachev/apistore/config"
	"github.com/preslavrachev/apistore/core"
)

// Session is one command invocation: an open database, the resource
// definitions and a fresh Store. Every command runs against its own Store,
// so identity map entries never outlive the invocation.
type Session struct {
	DB        *sqlx.DB
	Resources *config.Resources
	Store     *core.Store
	Logger    *zap.Logger
}

// OpenSession loads the resource definitions, opens the database, applies
// migrations and builds the store.
func OpenSession(ctx context.Context, opts *RootOptions) (*Session, error) {
	resources, err := config.LoadResources(opts.Schema)
	if err != nil {
		return nil, err
	}

	logger := zap.NewNop()
	if opts.Debug {
		if logger, err = zap.NewDevelopment(); err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite3", opts.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers anyway; a single connection also keeps
	// :memory: databases alive across statements
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, resources.Migrations); err != nil {
		return nil, multierr.Append(err, db.Close())
	}

	container := BuildContainer(db, resources, sqladapter.NewSQLLogger(logger, opts.Debug))
	store := core.NewStore(container, core.WithLogger(logger))

	return &Session{
		DB:        db,
		Resources: resources,
		Store:     store,
		Logger:    logger,
	}, nil
}

// Close releases the database and flushes the logger.
func (s *Session) Close() error {
	// Sync fails on stderr for some terminals; only the close error matters
	_ = s.Logger.Sync()
	return s.DB.Close()
}

func migrate(ctx context.Context, db *sqlx.DB, statements []string) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

// BuildContainer registers one SQL adapter per resource definition.
// Adapters are constructed lazily on first use.
func BuildContainer(db *sqlx.DB, resources *config.Resources, logger *sqladapter.SQLLogger) *core.AdapterContainer {
	container := core.NewAdapterContainer()
	for _, def := range resources.Resources {
		def := def
		container.Register(def.Type, func() core.ResourceAdapter {
			return sqladapter.New(db, def.Type, sqladapter.Table{
				Name:     def.Table,
				IDColumn: def.IDColumn,
				Keys:     sqladapter.KeyStrategy(def.Keys),
			}, adapterOptions(def, logger)...)
		}).WithSchema(core.IdentifiableSchema{})
	}
	return container
}

func adapterOptions(def config.ResourceDefinition, logger *sqladapter.SQLLogger) []sqladapter.Option {
	opts := []sqladapter.Option{sqladapter.WithLogger(logger)}
	for _, rel := range def.Relationships {
		switch rel.Kind {
		case config.KindToOne:
			opts = append(opts, sqladapter.WithBelongsTo(rel.Field, rel.Type, rel.ForeignKey))
		case config.KindToMany:
			opts = append(opts, sqladapter.WithBelongsToMany(rel.Field, rel.Type, rel.Pivot, rel.LocalKey, rel.ForeignKey))
		}
	}
	return opts
}
