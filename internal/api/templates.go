package api

import "html/template"

const (
	pasteTemplate    = "paste.html"
	notFoundTemplate = "not_found.html"
	errorTemplate    = "error.html"
)

// pageTemplates renders pastes as untrusted text. html/template escapes
// the content, so markup inside a paste is shown rather than executed.
var pageTemplates = template.Must(template.New(pasteTemplate).Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Paste - {{.ID}}</title>
    <style>
        body { font-family: 'Courier New', monospace; max-width: 1200px; margin: 0 auto; padding: 20px; background-color: #f5f5f5; }
        pre { background-color: #ffffff; border: 1px solid #ddd; border-radius: 4px; padding: 15px; overflow-x: auto; white-space: pre-wrap; word-wrap: break-word; }
        .meta { color: #666; font-size: 0.9em; }
    </style>
</head>
<body>
    <pre>{{.Content}}</pre>
    {{- if .RemainingViews}}
    <p class="meta">Remaining views: {{.RemainingViews}}</p>
    {{- end}}
    {{- if .ExpiresAt}}
    <p class="meta">Expires at: {{.ExpiresAt}}</p>
    {{- end}}
</body>
</html>
`))

func init() {
	template.Must(pageTemplates.New(notFoundTemplate).Parse(`<!DOCTYPE html>
<html>
<head><title>Paste Not Found</title></head>
<body><h1>Paste not found</h1></body>
</html>
`))
	template.Must(pageTemplates.New(errorTemplate).Parse(`<!DOCTYPE html>
<html>
<head><title>Error</title></head>
<body><h1>Internal server error</h1></body>
</html>
`))
}

// pasteView is the data rendered by the paste page
type pasteView struct {
	ID             string
	Content        string
	RemainingViews *int64
	ExpiresAt      *string
}
