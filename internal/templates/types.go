package templates

// WelcomePageData fills the placeholder page published for sites created without a prompt.
type WelcomePageData struct {
	Name string
}

// ErrorPageData holds information for rendering an error view.
type ErrorPageData struct {
	StatusLabel string
	Message     string
}
