package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the key bindings for the TUI.
type KeyMap struct {
	Up, Down, Left, Right key.Binding
	PageUp, PageDown      key.Binding
	Home, End             key.Binding
	NextPane, PrevPane    key.Binding
	NextPage, PrevPage    key.Binding
	Select, Back          key.Binding

	Query     key.Binding
	History   key.Binding
	Favorite  key.Binding
	Refresh   key.Binding
	Structure key.Binding
	Delete    key.Binding
	Jobs      key.Binding
	Logs      key.Binding

	Help key.Binding
	Quit key.Binding
}

func bind(help, desc string, keys ...string) key.Binding {
	return key.NewBinding(key.WithKeys(keys...), key.WithHelp(help, desc))
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up:       bind("↑/k", "up", "up", "k"),
		Down:     bind("↓/j", "down", "down", "j"),
		Left:     bind("←/h", "left pane / scroll columns", "left", "h"),
		Right:    bind("→/l", "right pane / scroll columns", "right", "l"),
		PageUp:   bind("pgup", "up 10 rows", "pgup", "ctrl+u"),
		PageDown: bind("pgdn", "down 10 rows", "pgdown", "ctrl+d"),
		Home:     bind("g", "top", "home", "g"),
		End:      bind("G", "bottom", "end", "G"),
		NextPane: bind("tab", "next pane", "tab"),
		PrevPane: bind("shift+tab", "prev pane", "shift+tab"),
		NextPage: bind("]", "next page", "]"),
		PrevPage: bind("[", "prev page", "["),
		Select:   bind("enter", "open", "enter"),
		Back:     bind("esc", "cancel query / clear message", "esc"),

		Query:     bind("/", "SQL query bar", "/"),
		History:   bind("H", "history and favorites", "ctrl+r", "H"),
		Favorite:  bind("ctrl+f", "toggle favorite", "ctrl+f"),
		Refresh:   bind("r", "reload databases", "r"),
		Structure: bind("s", "table structure", "s"),
		Delete:    bind("d", "delete row", "d"),
		Jobs:      bind("J", "sync jobs", "J"),
		Logs:      bind("L", "warnings and errors", "L"),

		Help: bind("?", "help", "?"),
		Quit: bind("q", "quit", "q", "ctrl+c"),
	}
}

// helpGroup is one titled column of the help overlay.
type helpGroup struct {
	title    string
	bindings []key.Binding
}

func (k KeyMap) helpGroups() []helpGroup {
	return []helpGroup{
		{"Navigate", []key.Binding{k.Up, k.Down, k.Left, k.Right, k.PageUp, k.PageDown, k.Home, k.End}},
		{"Panes", []key.Binding{k.NextPane, k.PrevPane, k.Select, k.Back, k.PrevPage, k.NextPage}},
		{"Console", []key.Binding{k.Query, k.History, k.Favorite, k.Refresh, k.Structure, k.Delete, k.Jobs, k.Logs}},
		{"General", []key.Binding{k.Help, k.Quit}},
	}
}
