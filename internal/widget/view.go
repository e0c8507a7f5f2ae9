package widget

import (
	"bytes"
	"html/template"
	"io"
)

const pageTemplate = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Support</title>
</head>
<body>
<main class="widget" data-screen="{{.Screen}}">
{{.Body}}
</main>
</body>
</html>
`

const screenTemplates = `
{{define "placeholder"}}<section class="placeholder"><p>{{.State.Screen.Title}}</p></section>{{end}}

{{define "error"}}<section class="error">
<h1>Something went wrong</h1>
<p>{{.State.ErrorMessage}}</p>
</section>{{end}}

{{define "auth"}}<section class="auth">
<h1>Hi there!</h1>
<p>Let's get you started</p>
{{with .FormError}}<p class="form-error">{{.}}</p>{{end}}
<form method="post" action="/widget/auth">
<label>Name <input name="name" type="text" required placeholder="e.g. John Doe"></label>
<label>Email <input name="email" type="email" required placeholder="e.g. john.doe@example.com"></label>
<input type="hidden" name="timezone" value="">
<button type="submit">Continue</button>
</form>
</section>{{end}}

{{define "chat"}}<section class="chat">
<header>
<form method="post" action="/widget/back"><button type="submit" aria-label="Back">&larr;</button></form>
<p>Chat</p>
<button type="button" aria-label="Menu">&hellip;</button>
</header>
{{if .Chat.Fetched}}<pre>{{.Chat.JSON}}</pre>{{end}}
</section>{{end}}
`

// screenViews maps screens with their own markup to a template. The rest
// render as placeholders.
var screenViews = map[Screen]string{
	ScreenError: "error",
	ScreenAuth:  "auth",
	ScreenChat:  "chat",
}

// Page is everything a render needs.
type Page struct {
	State     *State
	Chat      ChatData
	FormError string
}

type View struct {
	page    *template.Template
	screens *template.Template
}

func NewView() *View {
	return &View{
		page:    template.Must(template.New("page").Parse(pageTemplate)),
		screens: template.Must(template.New("screens").Parse(screenTemplates)),
	}
}

func (v *View) Render(w io.Writer, p Page) error {
	name, ok := screenViews[p.State.Screen]
	if !ok {
		name = "placeholder"
	}
	var body bytes.Buffer
	if err := v.screens.ExecuteTemplate(&body, name, p); err != nil {
		return err
	}
	return v.page.Execute(w, struct {
		Screen Screen
		Body   template.HTML
	}{p.State.Screen, template.HTML(body.String())})
}
