package widget

// Shell is the window state around a controller. Open is controlled by the
// host; Maximized belongs to the widget. Not safe for concurrent use.
type Shell struct {
	open      bool
	maximized bool
}

// Open reports whether the window is shown.
func (s *Shell) Open() bool { return s.open }

// SetOpen is called by the host. The maximized state survives a close.
func (s *Shell) SetOpen(open bool) { s.open = open }

// Maximized reports whether the window fills the viewport.
func (s *Shell) Maximized() bool { return s.maximized }

// ToggleMaximized flips the maximized state of an open window.
func (s *Shell) ToggleMaximized() {
	if !s.open {
		return
	}
	s.maximized = !s.maximized
}
