package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/preslavrachev/apistore/config"
	"github.com/preslavrachev/apistore/core"
)

// Link modes
const (
	LinkReplace = "replace"
	LinkUpdate  = "update"
	LinkAdd     = "add"
	LinkRemove  = "remove"
)

// ValidLinkModes defines the allowed --mode values of link.
var ValidLinkModes = []string{LinkReplace, LinkUpdate, LinkAdd, LinkRemove}

// NewRelatedCommand creates the related command.
func NewRelatedCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "related <type> <id> <field>",
		Short: "Show the records a relationship points to",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *Session, out *OutputFormatter) error {
				record, err := s.Store.FindOrFail(ctx, args[0], args[1])
				if err != nil {
					return WrapExitError("lookup failed", err)
				}
				related, err := s.Store.QueryRelated(ctx, record, args[2], nil)
				if err != nil {
					return WrapExitError("related query failed", err)
				}
				view, err := relatedView(related)
				if err != nil {
					return WrapExitError("related query failed", err)
				}
				return out.Success(view)
			})
		},
	}
}

// NewRelationshipCommand creates the relationship command.
func NewRelationshipCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "relationship <type> <id> <field>",
		Short: "Show the linkage of a relationship",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *Session, out *OutputFormatter) error {
				rel, err := lookupRelationship(s.Resources, args[0], args[2])
				if err != nil {
					return WrapExitError("relationship query failed", err)
				}
				record, err := s.Store.FindOrFail(ctx, args[0], args[1])
				if err != nil {
					return WrapExitError("lookup failed", err)
				}
				view, err := queryLinkage(ctx, s.Store, record, rel)
				if err != nil {
					return WrapExitError("relationship query failed", err)
				}
				return out.Success(view)
			})
		},
	}
}

// LinkOptions holds flags for the link command.
type LinkOptions struct {
	*RootOptions
	Mode string
}

// NewLinkCommand creates the link command.
func NewLinkCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LinkOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "link <type> <id> <field> [type:id...]",
		Short: "Change the linkage of a relationship",
		Long: `Change the linkage of a relationship.

replace and update set the relationship to exactly the given references;
add and remove only apply to to-many relationships. Pass null (or nothing)
to clear a to-one relationship.

Examples:
  apistore link posts 1 author authors:2
  apistore link posts 1 author null
  apistore link posts 1 tags tags:go tags:web --mode add`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidLinkModes, opts.Mode) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid mode %q: must be one of %v", opts.Mode, ValidLinkModes))
			}
			return withSession(cmd, rootOpts, func(ctx context.Context, s *Session, out *OutputFormatter) error {
				view, err := link(ctx, s, opts.Mode, args[0], args[1], args[2], args[3:])
				if err != nil {
					return err
				}
				return out.Success(view)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", LinkReplace, "replace|update|add|remove")
	return cmd
}

func link(ctx context.Context, s *Session, mode, resourceType, id, field string, refs []string) (LinkageView, error) {
	rel, err := lookupRelationship(s.Resources, resourceType, field)
	if err != nil {
		return LinkageView{}, WrapExitError("link failed", err)
	}
	doc, err := relationshipDocument(rel, refs)
	if err != nil {
		return LinkageView{}, WrapExitError("invalid references", err)
	}

	record, err := s.Store.FindOrFail(ctx, resourceType, id)
	if err != nil {
		return LinkageView{}, WrapExitError("lookup failed", err)
	}

	switch mode {
	case LinkReplace:
		_, err = s.Store.ReplaceRelationship(ctx, record, field, doc, nil)
	case LinkUpdate:
		_, err = s.Store.UpdateRelationship(ctx, record, field, doc, nil)
	case LinkAdd:
		_, err = s.Store.AddToRelationship(ctx, record, field, doc, nil)
	case LinkRemove:
		_, err = s.Store.RemoveFromRelationship(ctx, record, field, doc, nil)
	}
	if err != nil {
		return LinkageView{}, WrapExitError("link failed", err)
	}

	view, err := queryLinkage(ctx, s.Store, record, rel)
	if err != nil {
		return LinkageView{}, WrapExitError("link failed", err)
	}
	return view, nil
}

func lookupRelationship(resources *config.Resources, resourceType, field string) (config.RelationshipDefinition, error) {
	def, err := lookupType(resources, resourceType)
	if err != nil {
		return config.RelationshipDefinition{}, err
	}
	rel, ok := def.Relationship(field)
	if !ok {
		return config.RelationshipDefinition{}, core.MissingRelationship(resourceType, field)
	}
	return rel, nil
}

func queryLinkage(ctx context.Context, store *core.Store, record any, rel config.RelationshipDefinition) (LinkageView, error) {
	linkage, err := store.QueryRelationship(ctx, record, rel.Field, nil)
	if err != nil {
		return LinkageView{}, err
	}
	return linkageView(rel.Field, rel.Kind == config.KindToMany, linkage)
}

func linkageView(field string, many bool, linkage any) (LinkageView, error) {
	view := LinkageView{Field: field, Many: many, Data: []IdentifierView{}}

	switch v := linkage.(type) {
	case nil:
	case *core.ResourceIdentifier:
		if v != nil {
			view.Data = append(view.Data, IdentifierView{Type: v.Type, ID: v.ID})
		}
	case core.ResourceIdentifier:
		view.Data = append(view.Data, IdentifierView{Type: v.Type, ID: v.ID})
	case []core.ResourceIdentifier:
		for _, identifier := range v {
			view.Data = append(view.Data, IdentifierView{Type: identifier.Type, ID: identifier.ID})
		}
	default:
		return LinkageView{}, fmt.Errorf("unexpected linkage %T for %s", linkage, field)
	}
	return view, nil
}

// relatedView converts whatever a relationship query returned: nothing, a
// single record, a list of records or a page.
func relatedView(related any) (any, error) {
	switch v := related.(type) {
	case nil:
		return nil, nil
	case *core.Page:
		records, err := recordViews(v.Items)
		if err != nil {
			return nil, err
		}
		return PageView{
			Records:    records,
			Page:       v.Query.GetCurrentPage(),
			TotalCount: v.TotalCount,
			HasMore:    v.HasMore,
		}, nil
	case []any:
		return recordViews(v)
	default:
		return recordView(v)
	}
}
