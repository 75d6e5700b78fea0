package pictures

const (
	// MethodGetSelector returns the current DropDownData.
	MethodGetSelector = "pictures:getSelector"
	// MethodUpdatePicture advances the selection by one picture.
	MethodUpdatePicture = "pictures:updatePicture"
	// MethodSelect selects the picture at a given index.
	MethodSelect = "pictures:select"

	// TopicSelector carries the new DropDownData after every change. It shares
	// its name with MethodGetSelector.
	TopicSelector = MethodGetSelector
)

// DropDownOption is one selectable picture.
type DropDownOption struct {
	Index int    `json:"index"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// DropDownData is the full selector state shown to a client.
type DropDownData struct {
	Options       []DropDownOption `json:"options"`
	SelectedIndex int              `json:"selectedIndex"`
	Disabled      bool             `json:"disabled"`
}

// Selected returns the selected option, if any.
func (d DropDownData) Selected() (DropDownOption, bool) {
	if d.SelectedIndex < 0 || d.SelectedIndex >= len(d.Options) {
		return DropDownOption{}, false
	}
	return d.Options[d.SelectedIndex], true
}

// SelectParams are the params of MethodSelect.
type SelectParams struct {
	Index int `json:"index" jsonschema:"minimum=0"`
}

type selectorState struct {
	SelectedIndex int `json:"selectedIndex"`
}
