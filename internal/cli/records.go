package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/preslavrachev/apistore/config"
	"github.com/preslavrachev/apistore/core"
)

// TypeView describes a registered resource type.
type TypeView struct {
	Type          string   `json:"type"`
	Table         string   `json:"table"`
	Keys          string   `json:"keys"`
	Relationships []string `json:"relationships,omitempty"`
}

func (t TypeView) String() string {
	s := fmt.Sprintf("%s (table %s, %s keys)", t.Type, t.Table, t.Keys)
	for _, rel := range t.Relationships {
		s += "\n  " + rel
	}
	return s
}

// TypesView lists the registered resource types.
type TypesView []TypeView

func (v TypesView) String() string {
	s := ""
	for i, t := range v {
		if i > 0 {
			s += "\n"
		}
		s += t.String()
	}
	return s
}

// NewTypesCommand creates the types command.
func NewTypesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List resource types declared in the schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resources, err := config.LoadResources(opts.Schema)
			if err != nil {
				return WrapExitError("failed to load schema", err)
			}

			views := make(TypesView, 0, len(resources.Resources))
			for _, def := range resources.Resources {
				view := TypeView{Type: def.Type, Table: def.Table, Keys: def.Keys}
				for _, rel := range def.Relationships {
					view.Relationships = append(view.Relationships,
						fmt.Sprintf("%s: %s %s", rel.Field, rel.Kind, rel.Type))
				}
				views = append(views, view)
			}

			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(views)
		},
	}
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Filters []string
	Sort    string
	Limit   int
	Offset  int
	All     bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list <type>",
		Short: "Query the records of a resource type",
		Long: `Query the records of a resource type.

Examples:
  apistore list posts --sort -created-at --limit 5
  apistore list posts --filter author-id=1 --filter status=draft
  apistore list posts --filter id=1 --filter id=2 --all`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *Session, out *OutputFormatter) error {
				page, err := listRecords(ctx, s, args[0], opts)
				if err != nil {
					return err
				}
				return out.Success(page)
			})
		},
	}

	cmd.Flags().StringArrayVar(&opts.Filters, "filter", nil, "filter as name=value (repeatable)")
	cmd.Flags().StringVar(&opts.Sort, "sort", "", "comma separated sort fields, - for descending")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "page size (defaults to APISTORE_PAGE_SIZE)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "number of records to skip")
	cmd.Flags().BoolVar(&opts.All, "all", false, "follow pages until the last one")

	return cmd
}

func listRecords(ctx context.Context, s *Session, resourceType string, opts *ListOptions) (PageView, error) {
	filters, err := parseFilters(opts.Filters)
	if err != nil {
		return PageView{}, WrapExitError("invalid filter", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = opts.PageSize
	}
	params := core.NewQueryParameters().
		WithFilters(filters).
		WithPagination(limit, opts.Offset)
	params.Sort = core.ParseSort(opts.Sort)

	view := PageView{Records: []RecordView{}}
	for {
		result, err := s.Store.QueryRecords(ctx, resourceType, params)
		if err != nil {
			return PageView{}, WrapExitError("query failed", err)
		}
		page, ok := result.(*core.Page)
		if !ok {
			return PageView{}, NewExitError(ExitCommandError,
				fmt.Sprintf("unexpected query result %T", result))
		}

		records, err := recordViews(page.Items)
		if err != nil {
			return PageView{}, WrapExitError("query failed", err)
		}
		view.Records = append(view.Records, records...)
		view.Page = page.Query.GetCurrentPage()
		view.TotalCount = page.TotalCount
		view.HasMore = page.HasMore

		if !opts.All || !page.HasMore {
			return view, nil
		}
		params = params.NextPage()
	}
}

// NewShowCommand creates the show command.
func NewShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <type> <id>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *Session, out *OutputFormatter) error {
				record, err := s.Store.FindOrFail(ctx, args[0], args[1])
				if err != nil {
					return WrapExitError("lookup failed", err)
				}
				view, err := recordView(record)
				if err != nil {
					return WrapExitError("lookup failed", err)
				}
				return out.Success(view)
			})
		},
	}
}

// NewExistsCommand creates the exists command.
func NewExistsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <type> <id>",
		Short: "Report whether a record exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *Session, out *OutputFormatter) error {
				exists, err := s.Store.Exists(ctx, args[0], args[1])
				if err != nil {
					return WrapExitError("lookup failed", err)
				}
				return out.Success(exists)
			})
		},
	}
}

// WriteOptions holds flags for create and update.
type WriteOptions struct {
	*RootOptions
	ID            string
	Attributes    []string
	Relationships []string
}

func (o *WriteOptions) bindFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&o.Attributes, "attr", nil, "attribute as name=value (repeatable, null clears)")
	cmd.Flags().StringArrayVar(&o.Relationships, "rel", nil, "relationship as field=type:id[,type:id] (repeatable)")
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create <type>",
		Short: "Create a record",
		Long: `Create a record.

Examples:
  apistore create authors --attr name=Alice
  apistore create posts --attr title=Hello --rel author=authors:1 --rel tags=tags:go,tags:sql
  apistore create tags --id web --attr label=Web`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *Session, out *OutputFormatter) error {
				def, err := lookupType(s.Resources, args[0])
				if err != nil {
					return WrapExitError("create failed", err)
				}
				payload, err := buildPayload(def, opts.ID, opts.Attributes, opts.Relationships)
				if err != nil {
					return WrapExitError("invalid payload", err)
				}

				outcome, err := s.Store.CreateRecord(ctx, def.Type, payload, nil)
				if err != nil {
					return WrapExitError("create failed", err)
				}
				return writeOutcome(out, outcome)
			})
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "client supplied id")
	opts.bindFlags(cmd)
	return cmd
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <type> <id>",
		Short: "Update a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *Session, out *OutputFormatter) error {
				def, err := lookupType(s.Resources, args[0])
				if err != nil {
					return WrapExitError("update failed", err)
				}
				payload, err := buildPayload(def, args[1], opts.Attributes, opts.Relationships)
				if err != nil {
					return WrapExitError("invalid payload", err)
				}

				record, err := s.Store.FindOrFail(ctx, def.Type, args[1])
				if err != nil {
					return WrapExitError("update failed", err)
				}
				outcome, err := s.Store.UpdateRecord(ctx, record, payload, nil)
				if err != nil {
					return WrapExitError("update failed", err)
				}
				return writeOutcome(out, outcome)
			})
		},
	}

	opts.bindFlags(cmd)
	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <type> <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *Session, out *OutputFormatter) error {
				record, err := s.Store.FindOrFail(ctx, args[0], args[1])
				if err != nil {
					return WrapExitError("delete failed", err)
				}
				outcome, err := s.Store.DeleteRecord(ctx, record, nil)
				if err != nil {
					return WrapExitError("delete failed", err)
				}
				return writeOutcome(out, outcome)
			})
		},
	}
}

// writeOutcome prints the record of a completed write, the process of a
// queued one, or null for a write without a resulting record.
func writeOutcome(out *OutputFormatter, outcome core.Outcome) error {
	if process, ok := outcome.Process(); ok {
		return out.Success(ProcessView{Process: process})
	}
	record, _ := outcome.Record()
	if record == nil {
		return out.Success(nil)
	}
	view, err := recordView(record)
	if err != nil {
		return WrapExitError("unexpected write result", err)
	}
	return out.Success(view)
}

// attributed is implemented by records that expose their attributes.
type attributed interface {
	Attributes() map[string]any
}

func recordView(record any) (RecordView, error) {
	typed, ok := record.(core.Typed)
	if !ok {
		return RecordView{}, fmt.Errorf("record %T has no resource type", record)
	}
	identifiable, ok := record.(core.Identifiable)
	if !ok {
		return RecordView{}, fmt.Errorf("record %T has no resource id", record)
	}

	view := RecordView{Type: typed.ResourceType(), ID: identifiable.ResourceID()}
	if a, ok := record.(attributed); ok {
		view.Attributes = a.Attributes()
	}
	return view, nil
}

func recordViews(records []any) ([]RecordView, error) {
	views := make([]RecordView, 0, len(records))
	for _, record := range records {
		view, err := recordView(record)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}
