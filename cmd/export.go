package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/killallgit/marginalia/internal/services/export"
	"github.com/killallgit/marginalia/internal/services/persistence"
	"github.com/killallgit/marginalia/internal/services/query"
	apperrors "github.com/killallgit/marginalia/pkg/errors"
	"github.com/killallgit/marginalia/pkg/config"
	"github.com/spf13/cobra"
)

type exportOptions struct {
	document   string
	format     string
	output     string
	query      string
	kind       string
	color      string
	tags       []string
	sort       string
	descending bool
}

func newExportCmd() *cobra.Command {
	opts := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a document's annotations",
		Long: `Write the annotations of one document as JSON or CSV.

The same filters as the annotation panel apply. Without --output the
export is written to stdout.

Example:
  marginalia export --document meditations
  marginalia export --document meditations --format csv --tag stoicism --output notes.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.document, "document", "d", "", "document id (required)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "json or csv (defaults to export.default_format)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file")
	cmd.Flags().StringVarP(&opts.query, "query", "q", "", "text search over selected text, content and tags")
	cmd.Flags().StringVar(&opts.kind, "type", "", "highlight, note or bookmark")
	cmd.Flags().StringVar(&opts.color, "color", "", "marker color")
	cmd.Flags().StringSliceVar(&opts.tags, "tag", nil, "required tag (repeatable)")
	cmd.Flags().StringVar(&opts.sort, "sort", "created", "created, type or position")
	cmd.Flags().BoolVar(&opts.descending, "desc", false, "sort descending")
	_ = cmd.MarkFlagRequired("document")
	return cmd
}

func (o *exportOptions) filter() (query.Filter, error) {
	sortBy, ok := query.ParseSortField(o.sort)
	if !ok {
		return query.Filter{}, apperrors.ValidationError("sort", fmt.Sprintf("unknown sort field %q", o.sort))
	}
	return query.Filter{
		Query:      o.query,
		Kind:       o.kind,
		Color:      o.color,
		Tags:       o.tags,
		SortBy:     sortBy,
		Descending: o.descending,
	}, nil
}

func runExport(cmd *cobra.Command, opts *exportOptions) error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	if opts.format == "" {
		opts.format = cfg.Export.DefaultFormat
	}
	format, err := export.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	filter, err := opts.filter()
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	service := persistence.NewService(persistence.NewRepository(db.DB))
	list, err := service.QueryAnnotations(cmd.Context(), opts.document, filter)
	if err != nil {
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("creating %s: %w", opts.output, err)
		}
		defer f.Close()
		out = f
	}

	if err := export.Write(out, format, export.NewDocument(opts.document, list, time.Now())); err != nil {
		return err
	}
	if opts.output != "" {
		log.Printf("[INFO] Exported %d annotations of %s to %s", len(list), opts.document, opts.output)
	}
	return nil
}
