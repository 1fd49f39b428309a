package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/docmap/internal/cli/ui"
	"github.com/conduit-lang/docmap/internal/odm/mapper"
	"github.com/conduit-lang/docmap/internal/odm/meta"
	"github.com/conduit-lang/docmap/internal/odm/store"
)

// Parent lists the keys of its children in childIds
type Parent struct {
	ID       string
	Data     string
	ChildIDs []string `doc:"childIds"`
}

// Child belongs to at most one Parent
type Child struct {
	ID     string
	Other  string
	Parent string
}

const (
	parentsCollection  = "parents"
	childrenCollection = "children"
)

var demoCollections = []string{parentsCollection, childrenCollection}

// demoCache registers the demo entities. Moving a child or deleting it removes it from
// the previous parent's childIds.
func demoCache(logger *zap.Logger) (*meta.Cache, error) {
	cache := meta.NewCache(meta.WithLogger(logger))
	if err := cache.Register(reflect.TypeOf(Parent{}), meta.EntityConfig{Collection: parentsCollection}); err != nil {
		return nil, err
	}
	err := cache.Register(reflect.TypeOf(Child{}), meta.EntityConfig{
		Collection: childrenCollection,
		Relationships: map[string]meta.RelationshipDescriptor{
			"Parent": {
				Cardinality:        meta.CardinalityToOne,
				Target:             reflect.TypeOf(Parent{}),
				Reverse:            "childIds",
				Cascade:            meta.CascadeSetNull,
				AddLinkOnCreate:    true,
				RemoveLinkOnDelete: true,
			},
		},
	})
	if err != nil {
		return nil, err
	}
	return cache, nil
}

// NewDemoCommand creates the demo command
func NewDemoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the parent/child scenario against the configured store",
		Long: `Insert parents P1 and P2 and a child c of P1, move c to P2, then delete c.
The stored documents are printed after every step.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			if err := runDemo(cmd.Context(), s, out); err != nil {
				return err
			}
			ui.WriteSuccess(out, "demo finished", s.noColor)
			return nil
		},
	}
}

type docRef struct {
	collection string
	key        string
}

var demoDocuments = []docRef{
	{parentsCollection, "P1"},
	{parentsCollection, "P2"},
	{childrenCollection, "c"},
}

func runDemo(ctx context.Context, s *session, out io.Writer) error {
	parents := mapper.NewRepository[Parent](s.mapper)
	children := mapper.NewRepository[Child](s.mapper)

	if err := clearDemo(ctx, s.mapper); err != nil {
		return err
	}

	step := func(title string) error {
		s.logger.Info("demo step", zap.String("step", title))
		ui.Header(out, title, s.noColor)
		return printDocuments(ctx, s.store, out, s.noColor, demoDocuments)
	}

	for _, p := range []*Parent{{ID: "P1", Data: "first"}, {ID: "P2", Data: "second"}} {
		if err := parents.Save(ctx, p); err != nil {
			return err
		}
	}
	child := &Child{ID: "c", Other: "payload", Parent: "P1"}
	if err := children.Save(ctx, child); err != nil {
		return err
	}
	if err := step("1. insert P1, P2 and child c of P1"); err != nil {
		return err
	}

	child.Parent = "P2"
	if err := children.Save(ctx, child); err != nil {
		return err
	}
	if err := step("2. move c to P2"); err != nil {
		return err
	}

	q, err := children.Delete(ctx, child)
	if err != nil {
		return err
	}
	if err := q.Execute(ctx); err != nil {
		return err
	}
	return step("3. delete c")
}

// clearDemo removes what an earlier run left in a persistent store
func clearDemo(ctx context.Context, m *mapper.Mapper) error {
	for _, ref := range []struct {
		t   reflect.Type
		key string
	}{
		{reflect.TypeOf(Child{}), "c"},
		{reflect.TypeOf(Parent{}), "P1"},
		{reflect.TypeOf(Parent{}), "P2"},
	} {
		q, err := m.DeleteByKey(ctx, ref.t, ref.key)
		if store.IsNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}
		if err := q.Execute(ctx); err != nil {
			return err
		}
	}
	return nil
}

func printDocuments(ctx context.Context, s store.Store, out io.Writer, noColor bool, refs []docRef) error {
	for _, ref := range refs {
		doc, err := s.Get(ctx, ref.collection, ref.key)
		if store.IsNotFound(err) {
			fmt.Fprintf(out, "%s/%s: (absent)\n", ref.collection, ref.key)
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s/%s:\n", ref.collection, ref.key)
		table := ui.NewKeyValueTable(out, noColor).Indent("  ")
		for _, field := range sortedFields(doc) {
			b, err := json.Marshal(doc[field])
			if err != nil {
				return err
			}
			table.AddRow(field, string(b))
		}
		table.Render()
	}
	fmt.Fprintln(out)
	return nil
}

func sortedFields(doc store.Document) []string {
	fields := make([]string, 0, len(doc))
	for f := range doc {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
