package domain

import "fmt"

// SelectionPolicy controls how many items an advance call must select.
type SelectionPolicy string

const (
	// SelectSingle requires exactly one selected id.
	SelectSingle SelectionPolicy = "single"
	// SelectMulti requires at least one selected id.
	SelectMulti SelectionPolicy = "multi"
)

// PromptInput carries the values a stage prompt builder may interpolate.
type PromptInput struct {
	Topic  string
	Tab    string // tab being generated into
	Parent string // selected parent text for child tabs, empty otherwise
	Count  int    // candidates requested per provider
	Batch  int    // 1-based batch number for this tab
}

// PromptFunc builds the provider prompt for one stage.
type PromptFunc func(in PromptInput) string

// StageDescriptor describes one stage of a diagram type's workflow.
type StageDescriptor struct {
	Name      string
	Policy    SelectionPolicy
	Sequenced bool
	Prompt    PromptFunc
}

// Graph is the declarative stage table for one diagram type: the ordered
// stage list plus tab and preload behavior. Adding a diagram type is a data
// addition here, not a code change in the state machine.
type Graph struct {
	DiagramType string
	Stages      []StageDescriptor

	// InitialTabs overrides the default single initial tab (named after the
	// first stage). Used by diagram types that generate several buckets in
	// parallel from the start, e.g. double bubble similarities/differences.
	InitialTabs []string

	// Preloadable marks diagram types whose first stage can be generated
	// speculatively from the topic alone.
	Preloadable bool
}

// InitialTabNames returns the tabs a new session starts with.
func (g Graph) InitialTabNames() []string {
	if len(g.InitialTabs) > 0 {
		return g.InitialTabs
	}
	return []string{g.Stages[0].Name}
}

// Stage returns the descriptor and index for a stage name.
func (g Graph) Stage(name string) (StageDescriptor, int, bool) {
	for i, d := range g.Stages {
		if d.Name == name {
			return d, i, true
		}
	}
	return StageDescriptor{}, 0, false
}

// Next returns the stage following the named one, or false if it is last.
func (g Graph) Next(name string) (StageDescriptor, bool) {
	_, i, ok := g.Stage(name)
	if !ok || i+1 >= len(g.Stages) {
		return StageDescriptor{}, false
	}
	return g.Stages[i+1], true
}

// StageGraph maps diagram types to their stage tables.
type StageGraph map[string]Graph

// Lookup resolves the graph entry for a diagram type.
func (sg StageGraph) Lookup(diagramType string) (Graph, error) {
	g, ok := sg[diagramType]
	if !ok {
		return Graph{}, fmt.Errorf("%w: %q", ErrUnknownDiagramType, diagramType)
	}
	return g, nil
}

// DefaultStageGraph returns the built-in stage tables for the supported
// diagram types. Single-entry graphs are single-shot: advance is never
// called for them.
func DefaultStageGraph() StageGraph {
	return StageGraph{
		"tree": {
			DiagramType: "tree",
			Preloadable: true,
			Stages: []StageDescriptor{
				{Name: "dimensions", Policy: SelectSingle, Prompt: dimensionsPrompt},
				{Name: "categories", Policy: SelectMulti, Prompt: categoriesPrompt},
				{Name: "children", Policy: SelectMulti, Prompt: childrenPrompt},
			},
		},
		"brace": {
			DiagramType: "brace",
			Preloadable: true,
			Stages: []StageDescriptor{
				{Name: "dimensions", Policy: SelectSingle, Prompt: dimensionsPrompt},
				{Name: "parts", Policy: SelectMulti, Prompt: partsPrompt},
				{Name: "subparts", Policy: SelectMulti, Prompt: subpartsPrompt},
			},
		},
		"flow": {
			DiagramType: "flow",
			Preloadable: true,
			Stages: []StageDescriptor{
				{Name: "dimensions", Policy: SelectSingle, Prompt: dimensionsPrompt},
				{Name: "steps", Policy: SelectMulti, Sequenced: true, Prompt: stepsPrompt},
				{Name: "substeps", Policy: SelectMulti, Sequenced: true, Prompt: substepsPrompt},
			},
		},
		"mindmap": {
			DiagramType: "mindmap",
			Preloadable: true,
			Stages: []StageDescriptor{
				{Name: "branches", Policy: SelectMulti, Prompt: branchesPrompt},
				{Name: "children", Policy: SelectMulti, Prompt: childrenPrompt},
			},
		},
		"bubble": {
			DiagramType: "bubble",
			Preloadable: true,
			Stages: []StageDescriptor{
				{Name: "attributes", Policy: SelectMulti, Prompt: attributesPrompt},
			},
		},
		"circle": {
			DiagramType: "circle",
			Preloadable: true,
			Stages: []StageDescriptor{
				{Name: "observations", Policy: SelectMulti, Prompt: observationsPrompt},
			},
		},
		// Bridge maps need a user-chosen relating factor before anything
		// useful can be generated, so they are never preloaded.
		"bridge": {
			DiagramType: "bridge",
			Stages: []StageDescriptor{
				{Name: "analogies", Policy: SelectMulti, Sequenced: true, Prompt: analogiesPrompt},
			},
		},
		"double_bubble": {
			DiagramType: "double_bubble",
			Preloadable: true,
			InitialTabs: []string{"similarities", "differences"},
			Stages: []StageDescriptor{
				{Name: "comparison", Policy: SelectMulti, Prompt: comparisonPrompt},
			},
		},
		"multi_flow": {
			DiagramType: "multi_flow",
			Preloadable: true,
			InitialTabs: []string{"causes", "effects"},
			Stages: []StageDescriptor{
				{Name: "analysis", Policy: SelectMulti, Prompt: analysisPrompt},
			},
		},
	}
}
