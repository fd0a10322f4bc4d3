package worker

// WorkingSet composes the immutable input rows with a sparse overlay of
// generated outputs. Input rows are never mutated; header order is stable
// regardless of which outputs have been filled.
type WorkingSet struct {
	inputHeaders  []string
	inputRows     []map[string]string
	outputColumns []string
	overlay       map[int]map[string]string
}

// WorkingSetStats summarizes a working set for logging.
type WorkingSetStats struct {
	InputRows     int
	OverlayRows   int
	OutputColumns int
}

// NewWorkingSet constructs a working set. declaredOutputs is de-duplicated
// preserving first-occurrence order.
func NewWorkingSet(inputHeaders []string, inputRows []map[string]string, declaredOutputs []string) *WorkingSet {
	seen := make(map[string]struct{}, len(declaredOutputs))
	outputs := make([]string, 0, len(declaredOutputs))
	for _, c := range declaredOutputs {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		outputs = append(outputs, c)
	}
	return &WorkingSet{
		inputHeaders:  inputHeaders,
		inputRows:     inputRows,
		outputColumns: outputs,
		overlay:       make(map[int]map[string]string),
	}
}

// MergePartial installs declared output values from a previously checkpointed
// partial. Input columns in the partial are ignored; the input is
// authoritative. Returns the number of partial rows considered (the overlay
// row count evidence used by resume reconciliation).
func (w *WorkingSet) MergePartial(partialRows []map[string]string) int {
	n := len(partialRows)
	if n > len(w.inputRows) {
		n = len(w.inputRows)
	}
	for i := 0; i < n; i++ {
		for _, col := range w.outputColumns {
			if v, ok := partialRows[i][col]; ok {
				w.SetOutput(i, col, v)
			}
		}
	}
	return n
}

// RowView returns input row i overlaid with any outputs set for i. The
// returned map is a copy; mutating it does not touch the working set.
func (w *WorkingSet) RowView(i int) map[string]string {
	view := make(map[string]string, len(w.inputHeaders)+len(w.outputColumns))
	for k, v := range w.inputRows[i] {
		view[k] = v
	}
	for k, v := range w.overlay[i] {
		view[k] = v
	}
	return view
}

// SetOutput installs or replaces an overlay cell.
func (w *WorkingSet) SetOutput(i int, column, value string) {
	cells, ok := w.overlay[i]
	if !ok {
		cells = make(map[string]string, len(w.outputColumns))
		w.overlay[i] = cells
	}
	cells[column] = value
}

// Output returns the overlay value for (i, column) if set.
func (w *WorkingSet) Output(i int, column string) (string, bool) {
	v, ok := w.overlay[i][column]
	return v, ok
}

// MaterializeSlice returns composed rows [0, n).
func (w *WorkingSet) MaterializeSlice(n int) []map[string]string {
	if n > len(w.inputRows) {
		n = len(w.inputRows)
	}
	rows := make([]map[string]string, n)
	for i := 0; i < n; i++ {
		rows[i] = w.RowView(i)
	}
	return rows
}

// MaterializeAll returns every composed row.
func (w *WorkingSet) MaterializeAll() []map[string]string {
	return w.MaterializeSlice(len(w.inputRows))
}

// Headers returns the input headers followed by declared output columns not
// already present, in declaration order.
func (w *WorkingSet) Headers() []string {
	headers := make([]string, 0, len(w.inputHeaders)+len(w.outputColumns))
	seen := make(map[string]struct{}, cap(headers))
	for _, h := range w.inputHeaders {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		headers = append(headers, h)
	}
	for _, c := range w.outputColumns {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		headers = append(headers, c)
	}
	return headers
}

// Len returns the number of input rows.
func (w *WorkingSet) Len() int { return len(w.inputRows) }

// OutputColumns returns the declared output columns in order.
func (w *WorkingSet) OutputColumns() []string { return w.outputColumns }

// Stats summarizes the working set.
func (w *WorkingSet) Stats() WorkingSetStats {
	return WorkingSetStats{
		InputRows:     len(w.inputRows),
		OverlayRows:   len(w.overlay),
		OutputColumns: len(w.outputColumns),
	}
}
