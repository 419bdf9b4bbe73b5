// Package viz draws the change history of a viewmodel document.
package viz

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/viewmodel"
)

// Step is one change of a document together with the rendering of a widget
// as of that change.
type Step struct {
	Hash   string
	Label  string
	Parent []string
}

// History walks every change of doc and records the JSON of widgetID at it.
// Changes made before the widget existed are labelled null.
func History(doc *automerge.Doc, widgetID string) ([]Step, error) {
	changes, err := doc.Changes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate changes: %w", err)
	}
	steps := make([]Step, 0, len(changes))
	for _, change := range changes {
		docAt, err := doc.Fork(change.Hash())
		if err != nil {
			return nil, fmt.Errorf("failed to checkout %s: %w", change.Hash(), err)
		}
		raw, err := viewmodel.WidgetJSON(docAt, widgetID)
		if err != nil {
			raw = "null"
		}
		step := Step{
			Hash:  change.Hash().String(),
			Label: fmt.Sprintf("%s %s@%d %s", change.Hash().String()[:8], change.ActorID(), change.ActorSeq(), raw),
		}
		for _, hash := range change.Dependencies() {
			step.Parent = append(step.Parent, hash.String())
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// WriteDot writes the history of widgetID as a graphviz digraph.
func WriteDot(w io.Writer, doc *automerge.Doc, widgetID string) error {
	steps, err := History(doc, widgetID)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "digraph %q {\n", widgetID); err != nil {
		return err
	}
	for _, s := range steps {
		if _, err := fmt.Fprintf(w, "    %q [label=%q]\n", s.Hash, s.Label); err != nil {
			return err
		}
		for _, p := range s.Parent {
			if _, err := fmt.Fprintf(w, "    %q -> %q\n", p, s.Hash); err != nil {
				return err
			}
		}
	}
	_, err = fmt.Fprintln(w, "}")
	return err
}

// RenderWidgetHistory renders the history of widgetID to an SVG file.
func RenderWidgetHistory(doc *automerge.Doc, widgetID string, outputPath string) error {
	steps, err := History(doc, widgetID)
	if err != nil {
		return err
	}

	g := graphviz.New()
	defer g.Close()
	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()

	nodes := make(map[string]*cgraph.Node, len(steps))
	var edges int
	for _, s := range steps {
		n, err := graph.CreateNode(s.Hash)
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(s.Label)
		nodes[s.Hash] = n
		for _, p := range s.Parent {
			parent, ok := nodes[p]
			if !ok {
				continue
			}
			edges++
			if _, err := graph.CreateEdge(strconv.Itoa(edges), parent, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	if err := os.WriteFile(outputPath, buff.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	return nil
}

// RenderToTemp renders the history of widgetID to a fresh SVG file in the
// temp directory and returns its path.
func RenderToTemp(doc *automerge.Doc, widgetID string) (string, error) {
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("%s-%d%d.svg", widgetID, time.Now().UnixNano(), rand.Int()))
	if err := RenderWidgetHistory(doc, widgetID, tf); err != nil {
		return "", err
	}
	return tf, nil
}
