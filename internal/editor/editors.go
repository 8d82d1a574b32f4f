package editor

import (
	"strconv"
	"strings"
)

// Style holds the CSS size of a hosting element.
type Style struct {
	Width  string `json:"width"`
	Height string `json:"height"`
}

// Container is the element an editor renders into.
type Container struct {
	ID    string `json:"id"`
	Style Style  `json:"style"`
}

// NewContainer returns a container with no explicit size.
func NewContainer(id string) *Container {
	return &Container{ID: id}
}

// SetSize sets the style to "<w>px" by "<h>px".
func (c *Container) SetSize(width, height int) {
	c.Style.Width = strconv.Itoa(width) + "px"
	c.Style.Height = strconv.Itoa(height) + "px"
}

// Size parses the style back into pixels. Missing or malformed values are 0.
func (c *Container) Size() Dimension {
	return Dimension{Width: parsePx(c.Style.Width), Height: parsePx(c.Style.Height)}
}

func parsePx(v string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(v), "px"))
	if err != nil {
		return 0
	}
	return n
}

// CodeEditorOptions configures Engine.Create.
type CodeEditorOptions struct {
	Value    string `json:"value"`
	Language string `json:"language"`
}

// CodeEditor shows one model.
type CodeEditor struct {
	engine    *Engine
	container *Container
	options   CodeEditorOptions
	model     *Model
	layout    Dimension
	layouts   int
	disposed  bool

	nextHandler   uint64
	modelHandlers map[uint64]func(old, cur *Model)
}

// Model returns the attached model.
func (ed *CodeEditor) Model() *Model { return ed.model }

// Container returns the hosting element.
func (ed *CodeEditor) Container() *Container { return ed.container }

// Options returns the construction options.
func (ed *CodeEditor) Options() CodeEditorOptions { return ed.options }

// Value returns the attached model's text.
func (ed *CodeEditor) Value() string {
	if ed.model == nil {
		return ""
	}
	return ed.model.Value()
}

// SetValue replaces the attached model's text.
func (ed *CodeEditor) SetValue(text string) error {
	if ed.model == nil {
		return ErrModelDisposed
	}
	return ed.model.SetValue(text)
}

// SetModel attaches m and notifies model-change handlers. The previous
// model is left alive; its owner decides whether to dispose it.
func (ed *CodeEditor) SetModel(m *Model) {
	old := ed.model
	if old == m {
		return
	}
	ed.model = m
	for _, id := range sortedKeys(ed.modelHandlers) {
		if fn, ok := ed.modelHandlers[id]; ok {
			fn(old, m)
		}
	}
}

// OnDidChangeModel registers fn for every SetModel call.
func (ed *CodeEditor) OnDidChangeModel(fn func(old, cur *Model)) Disposable {
	if ed.modelHandlers == nil {
		ed.modelHandlers = make(map[uint64]func(*Model, *Model))
	}
	ed.nextHandler++
	id := ed.nextHandler
	ed.modelHandlers[id] = fn
	return DisposableFunc(func() { delete(ed.modelHandlers, id) })
}

// Layout sets the rendered size.
func (ed *CodeEditor) Layout(d Dimension) {
	ed.layout = d
	ed.layouts++
}

// LayoutInfo returns the last applied size.
func (ed *CodeEditor) LayoutInfo() Dimension { return ed.layout }

// LayoutCount reports how many times Layout ran.
func (ed *CodeEditor) LayoutCount() int { return ed.layouts }

// Dispose detaches the editor from the engine. The model stays alive.
func (ed *CodeEditor) Dispose() {
	if ed.disposed {
		return
	}
	ed.disposed = true
	ed.modelHandlers = nil
	ed.engine.removeEditor(ed)
}

// DiffEditorOptions configures Engine.CreateDiffEditor.
type DiffEditorOptions struct {
	EnableSplitViewResizing bool `json:"enableSplitViewResizing"`
}

// DiffModel pairs the two sides of a diff.
type DiffModel struct {
	Original *Model
	Modified *Model
}

// DiffEditor shows an original and a modified model side by side.
type DiffEditor struct {
	engine    *Engine
	container *Container
	options   DiffEditorOptions
	model     DiffModel
	layout    Dimension
	layouts   int
	disposed  bool

	nextHandler   uint64
	modelHandlers map[uint64]func(old, cur DiffModel)
}

// Options returns the construction options.
func (d *DiffEditor) Options() DiffEditorOptions { return d.options }

// Container returns the hosting element.
func (d *DiffEditor) Container() *Container { return d.container }

// Model returns both sides.
func (d *DiffEditor) Model() DiffModel { return d.model }

// SetModel attaches both sides and notifies model-change handlers.
func (d *DiffEditor) SetModel(m DiffModel) {
	old := d.model
	if old == m {
		return
	}
	d.model = m
	for _, id := range sortedKeys(d.modelHandlers) {
		if fn, ok := d.modelHandlers[id]; ok {
			fn(old, m)
		}
	}
}

// OnDidChangeModel registers fn for every SetModel call.
func (d *DiffEditor) OnDidChangeModel(fn func(old, cur DiffModel)) Disposable {
	if d.modelHandlers == nil {
		d.modelHandlers = make(map[uint64]func(DiffModel, DiffModel))
	}
	d.nextHandler++
	id := d.nextHandler
	d.modelHandlers[id] = fn
	return DisposableFunc(func() { delete(d.modelHandlers, id) })
}

// Layout sets the rendered size.
func (d *DiffEditor) Layout(dim Dimension) {
	d.layout = dim
	d.layouts++
}

// LayoutInfo returns the last applied size.
func (d *DiffEditor) LayoutInfo() Dimension { return d.layout }

// LayoutCount reports how many times Layout ran.
func (d *DiffEditor) LayoutCount() int { return d.layouts }

// Dispose detaches the diff editor from the engine.
func (d *DiffEditor) Dispose() {
	if d.disposed {
		return
	}
	d.disposed = true
	d.modelHandlers = nil
	d.engine.removeDiffEditor(d)
}
