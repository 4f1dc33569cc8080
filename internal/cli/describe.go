package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/meta"
)

// EntityDescription is the printable shape of one compiled entity mapping.
type EntityDescription struct {
	Name       string                `json:"name"`
	Table      string                `json:"table"`
	ID         IDDescription         `json:"id"`
	Properties []PropertyDescription `json:"properties"`
	Relations  []RelationDescription `json:"relations,omitempty"`
}

// IDDescription describes an entity's identifier mapping.
type IDDescription struct {
	Property  string `json:"property"`
	Column    string `json:"column"`
	Generator string `json:"generator"`
}

// PropertyDescription describes one scalar property mapping.
type PropertyDescription struct {
	Name     string `json:"name"`
	Column   string `json:"column"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// RelationDescription describes one association mapping.
type RelationDescription struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Target     string `json:"target"`
	JoinColumn string `json:"joinColumn,omitempty"`
	MappedBy   string `json:"mappedBy,omitempty"`
	Link       string `json:"link,omitempty"`
}

// NewDescribeCommand creates the describe command.
func NewDescribeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <mappings-dir>",
		Short: "Print compiled entity mappings",
		Long: `Compile the CUE mapping definitions under a directory and print each
entity's table, identifier, column mappings, and relations.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDescribe(rootOpts, args[0], cmd)
		},
	}
}

func runDescribe(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	defs, err := loadDefinitions(dir, formatter)
	if err != nil {
		return err
	}

	descriptions := make([]EntityDescription, len(defs))
	for i, def := range defs {
		descriptions[i] = describeEntity(def)
	}

	if opts.Format == "json" {
		return formatter.JSON(CLIResponse{Status: "ok", Data: descriptions})
	}

	w := cmd.OutOrStdout()
	for i, d := range descriptions {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s (table %s)\n", d.Name, d.Table)
		fmt.Fprintf(w, "  id: %s -> %s (%s)\n", d.ID.Property, d.ID.Column, d.ID.Generator)
		for _, p := range d.Properties {
			nullable := ""
			if p.Nullable {
				nullable = ", nullable"
			}
			fmt.Fprintf(w, "  property %s -> %s (%s%s)\n", p.Name, p.Column, p.Type, nullable)
		}
		for _, r := range d.Relations {
			fmt.Fprintf(w, "  relation %s: %s %s%s\n", r.Name, r.Kind, r.Target, relationDetail(r))
		}
	}
	return nil
}

func describeEntity(def *meta.Definition) EntityDescription {
	d := EntityDescription{
		Name:  def.Name,
		Table: def.Table,
		ID: IDDescription{
			Property:  def.ID.Property,
			Column:    def.ID.Column,
			Generator: def.ID.Generator.String(),
		},
	}
	for _, p := range def.Properties {
		if p.Name == def.ID.Property {
			continue
		}
		d.Properties = append(d.Properties, PropertyDescription{
			Name:     p.Name,
			Column:   p.Column,
			Type:     p.Type.String(),
			Nullable: p.Nullable,
		})
	}
	for _, r := range def.Relations {
		rd := RelationDescription{
			Name:       r.Name,
			Kind:       r.Kind.String(),
			Target:     r.Target,
			JoinColumn: r.JoinColumn,
			MappedBy:   r.MappedBy,
		}
		if r.Link != nil {
			rd.Link = r.Link.Entity
		}
		d.Relations = append(d.Relations, rd)
	}
	return d
}

func relationDetail(r RelationDescription) string {
	switch {
	case r.JoinColumn != "":
		return fmt.Sprintf(" (joinColumn %s)", r.JoinColumn)
	case r.MappedBy != "":
		return fmt.Sprintf(" (mappedBy %s)", r.MappedBy)
	case r.Link != "":
		return fmt.Sprintf(" (via %s)", r.Link)
	default:
		return ""
	}
}
