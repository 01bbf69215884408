package templates

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

const welcomeStyle = `div {
      width: 100vw;
      height: 100vh;
      display: flex;
      flex-direction: column;
      align-items: center;
      justify-content: center;
      font-family: sans-serif;
    }`

const errorStyle = `body {
      margin: 0;
      min-height: 100vh;
      display: flex;
      flex-direction: column;
      align-items: center;
      justify-content: center;
      font-family: sans-serif;
      text-align: center;
    }
    h2 { opacity: 0.4; font-weight: 400; }`

// WelcomePage is the default document for a freshly created site.
func WelcomePage(data WelcomePageData) templ.Component {
	return document("Welcome to hosting space", welcomeStyle, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<div><h1 style="font-weight: 400;">Welcome to Hosting <strong>Space</strong></h1><p>This project&#39;s name is `+
			templ.EscapeString(data.Name)+`</p></div>`)
		return err
	}))
}

// ErrorPage renders a standalone error document, used for unknown sites.
func ErrorPage(data ErrorPageData) templ.Component {
	return document(data.StatusLabel+" | Hosting Space", errorStyle, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<h1>Oops</h1><h2>`+templ.EscapeString(data.StatusLabel)+`</h2><p>`+
			templ.EscapeString(data.Message)+`</p>`)
		return err
	}))
}

// PublishedSite writes a site owner's stored document unescaped.
func PublishedSite(html string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := io.WriteString(w, html)
		return err
	})
}

func document(title, style string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		head := `<!DOCTYPE html><html lang="en"><head><meta charset="UTF-8"><meta name="viewport" content="width=device-width, initial-scale=1.0"><title>` +
			templ.EscapeString(title) + `</title><style>` + style + `</style></head><body>`
		if _, err := io.WriteString(w, head); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</body></html>`)
		return err
	})
}
