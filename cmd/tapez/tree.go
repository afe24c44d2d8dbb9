package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/zoobzio/tapez/parser"
	"github.com/zoobzio/tapez/tape"
)

type spanNode struct {
	Name       string      `json:"name" yaml:"name"`
	ID         uint64      `json:"id" yaml:"id"`
	Thread     uint64      `json:"thread" yaml:"thread"`
	Parent     string      `json:"parent_kind" yaml:"parent_kind"`
	Enter      int64       `json:"enter_ns" yaml:"enter_ns"`
	DurationNS *int64      `json:"duration_ns,omitempty" yaml:"duration_ns,omitempty"`
	Fields     []string    `json:"fields,omitempty" yaml:"fields,omitempty"`
	Children   []*spanNode `json:"children,omitempty" yaml:"children,omitempty"`
}

func buildNode(s *parser.Span, depth, maxDepth int) *spanNode {
	n := &spanNode{
		Name:   spanName(s),
		ID:     s.ID,
		Thread: s.Thread.ID,
		Parent: s.ParentKind.String(),
		Enter:  s.Enter,
	}
	if d, ok := s.Duration(); ok {
		ns := int64(d)
		n.DurationNS = &ns
	}
	for _, f := range s.Fields {
		n.Fields = append(n.Fields, formatField(f))
	}
	if maxDepth > 0 && depth+1 >= maxDepth {
		return n
	}
	for _, c := range s.Children() {
		n.Children = append(n.Children, buildNode(c, depth+1, maxDepth))
	}
	return n
}

func spanName(s *parser.Span) string {
	if name := s.Name(); name != "" {
		return name
	}
	return fmt.Sprintf("<metadata %d>", s.MetadataID)
}

func formatField(f tape.Field) string {
	return f.Name + "=" + f.Value.Format()
}

func newTreeCmd(a *app) *cobra.Command {
	var maxDepth int
	cmd := &cobra.Command{
		Use:   "tree <tape>...",
		Short: "Print the span tree of each tape",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.eachTape(cmd.Context(), args, func(path string, m *parser.Model) error {
				spans := m.Roots()
				roots := make([]*spanNode, 0, len(spans))
				for _, s := range spans {
					roots = append(roots, buildNode(s, 0, maxDepth))
				}
				return a.render(roots, func(w io.Writer) error {
					fmt.Fprintf(w, "%s\n", path)
					for _, n := range roots {
						printNode(w, n, 1)
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "Limit the printed depth (0 prints every level)")
	return cmd
}

func printNode(w io.Writer, n *spanNode, depth int) {
	duration := "open"
	if n.DurationNS != nil {
		duration = time.Duration(*n.DurationNS).String()
	}
	fmt.Fprintf(w, "%s%s [%s] thread=%d", strings.Repeat("  ", depth), n.Name, duration, n.Thread)
	if n.Parent == tape.ParentCrossThread.String() {
		fmt.Fprint(w, " cross-thread")
	}
	if len(n.Fields) > 0 {
		fmt.Fprintf(w, " %s", strings.Join(n.Fields, " "))
	}
	fmt.Fprintln(w)
	for _, c := range n.Children {
		printNode(w, c, depth+1)
	}
}
